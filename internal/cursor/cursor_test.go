package cursor

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	tok := Token{Fingerprint: Fingerprint("tools", 10), Store: "abc"}
	got, err := Decode(Encode(tok))
	require.NoError(t, err)
	assert.Equal(t, tok, got)
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, Fingerprint("tools", 10), Fingerprint("tools", 10))
	assert.NotEqual(t, Fingerprint("tools", 10), Fingerprint("tools", 11))
	assert.NotEqual(t, Fingerprint("tools", 10), Fingerprint("garden", 10))
	assert.NotEqual(t, Fingerprint("", 10), Fingerprint("tools", 10))
	// The separator keeps filter and size from running together.
	assert.NotEqual(t, Fingerprint("a1", 0), Fingerprint("a", 10))
	assert.Len(t, Fingerprint("", 1), 16)
}

func TestDecode_Malformed(t *testing.T) {
	enc := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }
	for _, s := range []string{
		"",
		"***",
		enc("not json"),
		enc(`{}`),
		enc(`{"f":"abc"}`),
		enc(`{"s":"abc"}`),
	} {
		_, err := Decode(s)
		assert.ErrorIs(t, err, ErrMalformed, s)
	}
}
