package paynow

import (
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrBadHash means a provider response failed signature verification.
var ErrBadHash = errors.New("paynow: response hash mismatch")

// field is one ordered key/value pair. Paynow signs values in wire order, so
// messages are kept as slices rather than maps.
type field struct {
	Key   string
	Value string
}

type message []field

func (m message) get(key string) string {
	for _, f := range m {
		if strings.EqualFold(f.Key, key) {
			return f.Value
		}
	}
	return ""
}

// Hash computes the uppercase hex SHA512 of all values except "hash", in order,
// followed by the integration key.
func Hash(values []string, integrationKey string) string {
	h := sha512.New()
	for _, v := range values {
		h.Write([]byte(v))
	}
	h.Write([]byte(integrationKey))
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil)))
}

func (m message) values() []string {
	out := make([]string, 0, len(m))
	for _, f := range m {
		if strings.EqualFold(f.Key, "hash") {
			continue
		}
		out = append(out, f.Value)
	}
	return out
}

// sign appends the hash field.
func (m message) sign(integrationKey string) message {
	return append(m, field{Key: "hash", Value: Hash(m.values(), integrationKey)})
}

// verify checks the hash field when present. Error responses are unsigned.
func (m message) verify(integrationKey string) error {
	got := m.get("hash")
	if got == "" {
		return fmt.Errorf("%w: missing hash", ErrBadHash)
	}
	if !strings.EqualFold(got, Hash(m.values(), integrationKey)) {
		return ErrBadHash
	}
	return nil
}

func (m message) encode() string {
	parts := make([]string, 0, len(m))
	for _, f := range m {
		parts = append(parts, url.QueryEscape(f.Key)+"="+url.QueryEscape(f.Value))
	}
	return strings.Join(parts, "&")
}

// parseMessage decodes an urlencoded body preserving field order.
func parseMessage(body string) (message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, errors.New("paynow: empty response")
	}
	var out message
	for _, part := range strings.Split(body, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, fmt.Errorf("paynow: decode key %q: %w", k, err)
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			return nil, fmt.Errorf("paynow: decode value for %q: %w", key, err)
		}
		out = append(out, field{Key: strings.ToLower(key), Value: val})
	}
	if len(out) == 0 {
		return nil, errors.New("paynow: empty response")
	}
	return out, nil
}
