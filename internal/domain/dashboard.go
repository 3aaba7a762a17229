package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrCardsNotList is returned by ParseCards when the cards value is not a
// JSON array.
var ErrCardsNotList = errors.New("dashboard cards must be a list")

// Dashboard is the full dashboard document for one person. Writes replace
// the whole document.
type Dashboard struct {
	PersonID    string         `json:"person_id,omitempty"`
	Cards       []Card         `json:"cards"`
	Preferences map[string]any `json:"preferences"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Card is one dashboard tile. Keys other than id, type, title and body are
// kept in Fields and flattened back out when encoded as JSON.
type Card struct {
	ID     string         `json:"id,omitempty"`
	Type   string         `json:"type,omitempty"`
	Title  string         `json:"title,omitempty"`
	Body   string         `json:"body,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

func isReservedCardKey(k string) bool {
	switch k {
	case "id", "type", "title", "body":
		return true
	}
	return false
}

// Validate rejects free-form fields that would shadow a named card field.
func (c Card) Validate() error {
	for k := range c.Fields {
		if isReservedCardKey(k) {
			return fmt.Errorf("card %q: field %q shadows a named field", c.ID, k)
		}
	}
	return nil
}

// MarshalJSON flattens Fields next to the named keys.
func (c Card) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Fields)+4)
	for k, v := range c.Fields {
		out[k] = v
	}
	if c.ID != "" {
		out["id"] = c.ID
	}
	if c.Type != "" {
		out["type"] = c.Type
	}
	if c.Title != "" {
		out["title"] = c.Title
	}
	if c.Body != "" {
		out["body"] = c.Body
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads a flat card object, collecting unknown keys into
// Fields.
func (c *Card) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	card := Card{}
	for k, v := range raw {
		var err error
		switch k {
		case "id":
			err = json.Unmarshal(v, &card.ID)
		case "type":
			err = json.Unmarshal(v, &card.Type)
		case "title":
			err = json.Unmarshal(v, &card.Title)
		case "body":
			err = json.Unmarshal(v, &card.Body)
		default:
			var val any
			if err = decodeNumbers(v, &val); err == nil {
				if card.Fields == nil {
					card.Fields = make(map[string]any)
				}
				card.Fields[k] = val
			}
		}
		if err != nil {
			return fmt.Errorf("card field %q: %w", k, err)
		}
	}
	*c = card
	return nil
}

// ParseCards decodes a raw cards value from a request. Entries that are not
// JSON objects are dropped. A missing or null value yields no cards.
func ParseCards(raw json.RawMessage) ([]Card, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []Card{}, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, ErrCardsNotList
	}
	cards := make([]Card, 0, len(entries))
	for _, e := range entries {
		e = bytes.TrimSpace(e)
		if len(e) == 0 || e[0] != '{' {
			continue
		}
		var c Card
		if err := json.Unmarshal(e, &c); err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, nil
}

// decodeNumbers unmarshals data keeping numbers in free-form values as
// json.Number, so large integers survive unchanged.
func decodeNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
