// Package cursor encodes continuation tokens handed to list callers.
//
// A token wraps the store's own resume token together with a fingerprint of
// the query it belongs to, so a token can only resume the query that issued it.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
)

// ErrMalformed is returned for tokens that cannot be decoded.
var ErrMalformed = errors.New("cursor: malformed continuation token")

// Token is the decoded form of a continuation token.
type Token struct {
	Fingerprint string `json:"f"`
	Store       string `json:"s"`
}

// Fingerprint identifies a query by its normalized partition filter and page size.
// An empty filter means an unfiltered scan.
func Fingerprint(filter string, pageSize int) string {
	h := fnv.New64a()
	h.Write([]byte(filter))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(pageSize)))
	return fmt.Sprintf("%016x", h.Sum64())
}

// Encode returns the opaque string form of t.
func Encode(t Token) string {
	raw, _ := json.Marshal(t)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Decode parses a token produced by Encode.
func Decode(s string) (Token, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Token{}, ErrMalformed
	}
	var t Token
	if err := json.Unmarshal(raw, &t); err != nil {
		return Token{}, ErrMalformed
	}
	if t.Fingerprint == "" || t.Store == "" {
		return Token{}, ErrMalformed
	}
	return t, nil
}
