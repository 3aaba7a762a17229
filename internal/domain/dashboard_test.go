package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCards_DropsNonObjects(t *testing.T) {
	cards, err := ParseCards(json.RawMessage(`[{"id":"c1","type":"summary","title":"Morning Briefing"},"ignore-me",3,null]`))
	require.NoError(t, err)
	require.Len(t, cards, 1)
	require.Equal(t, "c1", cards[0].ID)
	require.Equal(t, "Morning Briefing", cards[0].Title)
}

func TestParseCards_RejectsNonList(t *testing.T) {
	_, err := ParseCards(json.RawMessage(`"nope"`))
	require.ErrorIs(t, err, ErrCardsNotList)

	_, err = ParseCards(json.RawMessage(`{"id":"c1"}`))
	require.ErrorIs(t, err, ErrCardsNotList)
}

func TestParseCards_Empty(t *testing.T) {
	cards, err := ParseCards(nil)
	require.NoError(t, err)
	require.Empty(t, cards)

	cards, err = ParseCards(json.RawMessage(`null`))
	require.NoError(t, err)
	require.Empty(t, cards)
}

func TestCard_CollectsExtraFields(t *testing.T) {
	var c Card
	require.NoError(t, json.Unmarshal([]byte(`{"id":"c1","priority":2,"tags":["a"]}`), &c))
	require.Equal(t, "c1", c.ID)
	require.Equal(t, map[string]any{"priority": json.Number("2"), "tags": []any{"a"}}, c.Fields)

	out, err := json.Marshal(c)
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"c1","priority":2,"tags":["a"]}`, string(out))
}

func TestCard_RejectsWrongFieldType(t *testing.T) {
	var c Card
	err := json.Unmarshal([]byte(`{"id":7}`), &c)
	require.Error(t, err)
	require.Contains(t, err.Error(), `"id"`)
}

func TestCard_ValidateReservedFields(t *testing.T) {
	require.NoError(t, Card{ID: "c1", Fields: map[string]any{"layout": "wide"}}.Validate())
	require.Error(t, Card{ID: "c1", Fields: map[string]any{"title": "x"}}.Validate())
}

func TestCard_KeepsLargeIntegers(t *testing.T) {
	var c Card
	require.NoError(t, json.Unmarshal([]byte(`{"id":"c1","account":9007199254740993}`), &c))
	require.Equal(t, json.Number("9007199254740993"), c.Fields["account"])

	out, err := json.Marshal(c)
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"c1","account":9007199254740993}`, string(out))
	require.Contains(t, string(out), "9007199254740993")
}
