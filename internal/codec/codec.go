// Package codec turns records into stored bytes and back. With a key it
// seals every record in an authenticated XChaCha20-Poly1305 envelope bound to
// the record's identity; without one it writes plain JSON text.
package codec

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the length in bytes of the configured master key.
const KeySize = 32

// envelopeVersion leads every envelope and is authenticated with it.
const envelopeVersion byte = 0x01

// envelopeOverhead is version + format + nonce + tag.
const envelopeOverhead = 2 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// hkdfInfo separates the record key from anything else derived from the
// same master key. Changing it invalidates all stored ciphertext.
var hkdfInfo = []byte("unison-context.record.v1")

var (
	// ErrTamperedOrWrongKey means the envelope failed authentication.
	ErrTamperedOrWrongKey = errors.New("codec: tampered data or wrong key")
	// ErrCorruptEncoding means the bytes are not a valid envelope or
	// serialization.
	ErrCorruptEncoding = errors.New("codec: corrupt encoding")
)

// Format selects the serialization sealed inside an envelope.
type Format string

const (
	FormatJSON Format = "json"
	FormatCBOR Format = "cbor"
)

var formatBytes = map[Format]byte{FormatJSON: 0x01, FormatCBOR: 0x02}

// ParseFormat accepts "json", "cbor" or an empty string (JSON).
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCBOR:
		return FormatCBOR, nil
	default:
		return "", fmt.Errorf("codec: unknown format %q", s)
	}
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error

	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// *big.Int marshals to JSON as a number; big.Int values do not.
		BigIntDec: cbor.BigIntDecodePointer,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Options configures New.
type Options struct {
	// Key is the 32-byte master key. Nil selects plain mode.
	Key []byte
	// Format is the inner serialization for new envelopes. Ignored in
	// plain mode, which is always JSON.
	Format Format
}

// Codec encodes and decodes records. It is safe for concurrent use.
type Codec struct {
	aead   cipher.AEAD
	format Format
}

// New builds a Codec. The master key is run through HKDF-SHA256 before use.
func New(opts Options) (*Codec, error) {
	format := opts.Format
	if format == "" {
		format = FormatJSON
	}
	if _, ok := formatBytes[format]; !ok {
		return nil, fmt.Errorf("codec: unknown format %q", format)
	}
	if opts.Key == nil {
		return &Codec{format: FormatJSON}, nil
	}
	if len(opts.Key) != KeySize {
		return nil, fmt.Errorf("codec: key is %d bytes, want %d", len(opts.Key), KeySize)
	}

	recordKey, err := deriveKey(opts.Key)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(recordKey)
	if err != nil {
		return nil, fmt.Errorf("codec: creating XChaCha20-Poly1305 cipher: %w", err)
	}
	return &Codec{aead: aead, format: format}, nil
}

// Encrypted reports whether records are sealed.
func (c *Codec) Encrypted() bool { return c.aead != nil }

// Encode serializes v. binding identifies the record; in encrypted mode it
// is authenticated so the result only decodes under the same binding.
func (c *Codec) Encode(binding []byte, v any) ([]byte, error) {
	if c.aead == nil {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("codec: marshal: %w", err)
		}
		return data, nil
	}

	plaintext, err := marshal(c.format, v)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal %s: %w", c.format, err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("codec: generating nonce: %w", err)
	}

	header := []byte{envelopeVersion, formatBytes[c.format]}
	raw := make([]byte, 0, envelopeOverhead+len(plaintext))
	raw = append(raw, header...)
	raw = append(raw, nonce[:]...)
	raw = c.aead.Seal(raw, nonce[:], plaintext, buildAAD(header, binding))

	// Text form so the envelope fits the TEXT columns of the SQL layouts.
	out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(out, raw)
	return out, nil
}

// Decode parses data produced by Encode into v. Envelopes carry their own
// format byte, so a Codec decodes records written under either format.
func (c *Codec) Decode(binding, data []byte, v any) error {
	if c.aead == nil {
		if err := decodeJSON(data, v); err != nil {
			return fmt.Errorf("%w: %w", ErrCorruptEncoding, err)
		}
		return nil
	}

	if len(data) < base64.StdEncoding.EncodedLen(envelopeOverhead) {
		return fmt.Errorf("%w: envelope is %d bytes", ErrCorruptEncoding, len(data))
	}
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
	n, err := base64.StdEncoding.Strict().Decode(raw, data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTamperedOrWrongKey, err)
	}
	raw = raw[:n]
	if len(raw) < envelopeOverhead {
		return fmt.Errorf("%w: envelope is %d bytes", ErrCorruptEncoding, len(raw))
	}

	header := raw[:2]
	if header[0] != envelopeVersion {
		return fmt.Errorf("%w: unsupported envelope version %d", ErrTamperedOrWrongKey, header[0])
	}
	format, ok := formatFromByte(header[1])
	if !ok {
		return fmt.Errorf("%w: unknown format byte %d", ErrTamperedOrWrongKey, header[1])
	}

	nonce := raw[2 : 2+chacha20poly1305.NonceSizeX]
	ciphertext := raw[2+chacha20poly1305.NonceSizeX:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, buildAAD(header, binding))
	if err != nil {
		return ErrTamperedOrWrongKey
	}

	if err := unmarshal(format, plaintext, v); err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptEncoding, err)
	}
	return nil
}

func buildAAD(header, binding []byte) []byte {
	aad := make([]byte, 0, len(header)+len(binding))
	aad = append(aad, header...)
	return append(aad, binding...)
}

func formatFromByte(b byte) (Format, bool) {
	for f, fb := range formatBytes {
		if fb == b {
			return f, true
		}
	}
	return "", false
}

// CBOR payloads are built from the record's JSON form, so CBOR and JSON
// records decode to identical values, numbers in free-form fields included.
func marshal(f Format, v any) ([]byte, error) {
	if f != FormatCBOR {
		return json.Marshal(v)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var tree any
	if err := decodeJSON(data, &tree); err != nil {
		return nil, err
	}
	tree, err = exactNumbers(tree)
	if err != nil {
		return nil, err
	}
	return cborEnc.Marshal(tree)
}

func unmarshal(f Format, data []byte, v any) error {
	if f != FormatCBOR {
		return decodeJSON(data, v)
	}
	var tree any
	if err := cborDec.Unmarshal(data, &tree); err != nil {
		return err
	}
	j, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	return decodeJSON(j, v)
}

// decodeJSON is json.Unmarshal with numbers in untyped values kept as
// json.Number.
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

// exactNumbers replaces every json.Number in tree with the narrowest Go
// number that holds it exactly: int64, uint64, *big.Int, then float64.
func exactNumbers(tree any) (any, error) {
	switch t := tree.(type) {
	case map[string]any:
		for k, e := range t {
			n, err := exactNumbers(e)
			if err != nil {
				return nil, err
			}
			t[k] = n
		}
	case []any:
		for i, e := range t {
			n, err := exactNumbers(e)
			if err != nil {
				return nil, err
			}
			t[i] = n
		}
	case json.Number:
		s := t.String()
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			return u, nil
		}
		if b, ok := new(big.Int).SetString(s, 10); ok {
			return b, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("number %s: %w", s, err)
		}
		return f, nil
	}
	return tree, nil
}

func deriveKey(master []byte) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("codec: deriving record key: %w", err)
	}
	return key, nil
}

// ParseKey decodes a master key given as 64 hex digits or as standard or
// URL-safe base64.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("codec: key is empty")
	}
	if len(s) == hex.EncodedLen(KeySize) {
		if key, err := hex.DecodeString(s); err == nil {
			return key, nil
		}
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		key, err := enc.DecodeString(s)
		if err != nil {
			continue
		}
		if len(key) != KeySize {
			return nil, fmt.Errorf("codec: key is %d bytes, want %d", len(key), KeySize)
		}
		return key, nil
	}
	return nil, errors.New("codec: key is neither hex nor base64")
}

// GenerateKey returns a fresh random master key in base64.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("codec: generating key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// LooksEncrypted reports whether data has the shape of an envelope. It is a
// hint for tooling, not a verification.
func LooksEncrypted(data []byte) bool {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] == '{' || data[0] == '[' || data[0] == '"' {
		return false
	}
	raw, err := base64.StdEncoding.Strict().DecodeString(string(data))
	return err == nil && len(raw) >= envelopeOverhead && raw[0] == envelopeVersion
}
