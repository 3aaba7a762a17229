// Package kvtable stores opaque byte payloads under composite keys on one of
// several physical backends. It knows nothing about what the payloads mean.
package kvtable

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"unison-context/internal/domain"
)

const maxKeyPartLen = 256

var (
	// ErrNotFound means no payload is stored under the key.
	ErrNotFound = errors.New("kvtable: not found")
	// ErrInvalidKey means the composite key is malformed.
	ErrInvalidKey = errors.New("kvtable: invalid key")
	// ErrStorageUnavailable means the backend could not be reached or
	// failed the call. Callers may retry with backoff.
	ErrStorageUnavailable = errors.New("kvtable: storage unavailable")
)

// Table is the capability every backend provides.
type Table interface {
	// Get returns the payload stored under key, or ErrNotFound.
	Get(ctx context.Context, key Key) ([]byte, error)
	// Put inserts or overwrites the payload under key. A Get issued after
	// Put returns observes the new value.
	Put(ctx context.Context, key Key, value []byte) error
	// Delete removes the payload under key, or returns ErrNotFound.
	Delete(ctx context.Context, key Key) error
	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// Key identifies one payload. Sessions and kv entries use Sort; profiles and
// dashboards must leave it empty.
type Key struct {
	Kind      domain.Kind
	Partition string
	Sort      string
}

// ProfileKey addresses the profile of personID.
func ProfileKey(personID string) Key {
	return Key{Kind: domain.KindProfile, Partition: personID}
}

// DashboardKey addresses the dashboard of personID.
func DashboardKey(personID string) Key {
	return Key{Kind: domain.KindDashboard, Partition: personID}
}

// SessionKey addresses one session of personID.
func SessionKey(personID, sessionID string) Key {
	return Key{Kind: domain.KindSession, Partition: personID, Sort: sessionID}
}

// EntryKey addresses a kv entry.
func EntryKey(namespace, key string) Key {
	return Key{Kind: domain.KindKV, Partition: namespace, Sort: key}
}

// String renders the key for logs and error messages.
func (k Key) String() string {
	if k.Sort == "" {
		return string(k.Kind) + "/" + k.Partition
	}
	return string(k.Kind) + "/" + k.Partition + "/" + k.Sort
}

// Binding returns an unambiguous byte form of the key. Validate forbids
// control characters, so the NUL separators cannot occur inside a part.
func (k Key) Binding() []byte {
	b := make([]byte, 0, len(k.Kind)+len(k.Partition)+len(k.Sort)+2)
	b = append(b, k.Kind...)
	b = append(b, 0)
	b = append(b, k.Partition...)
	b = append(b, 0)
	b = append(b, k.Sort...)
	return b
}

// Validate checks the key shape. Failures wrap ErrInvalidKey.
func (k Key) Validate() error {
	if !k.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidKey, k.Kind)
	}
	if err := validatePart("partition", k.Partition); err != nil {
		return err
	}
	switch k.Kind {
	case domain.KindSession, domain.KindKV:
		if err := validatePart("sort", k.Sort); err != nil {
			return err
		}
	default:
		if k.Sort != "" {
			return fmt.Errorf("%w: kind %q takes no sort key", ErrInvalidKey, k.Kind)
		}
	}
	return nil
}

func validatePart(name, s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalidKey, name)
	}
	if len(s) > maxKeyPartLen {
		return fmt.Errorf("%w: %s longer than %d bytes", ErrInvalidKey, name, maxKeyPartLen)
	}
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: %s is not valid UTF-8", ErrInvalidKey, name)
	}
	if !norm.NFC.IsNormalString(s) {
		return fmt.Errorf("%w: %s is not NFC normalized", ErrInvalidKey, name)
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: %s contains control characters", ErrInvalidKey, name)
		}
	}
	return nil
}

func unavailable(op string, key Key, err error) error {
	return fmt.Errorf("kvtable: %s %s: %w: %w", op, key, ErrStorageUnavailable, err)
}
