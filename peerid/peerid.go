package peerid

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"unicode"
	"unicode/utf8"
)

// MaxLen is the upper bound on the byte length of a peer identifier.
const MaxLen = 128

var ErrorEmptyID = errors.New("peer id is empty")
var ErrorIDTooLong = errors.New("peer id is too long")
var ErrorInvalidUTF8 = errors.New("peer id is not valid UTF-8")
var ErrorControlCharacter = errors.New("peer id contains control characters")

// ID is an application-assigned peer identifier: an opaque, printable
// string that is unique and stable per device. Whoever embeds this
// subsystem decides what it contains; here it is only validated and
// compared.
type ID string

func (id ID) String() string {
	return string(id)
}

// Bytes returns the wire form of the identifier.
func (id ID) Bytes() []byte {
	return []byte(id)
}

// Fits reports whether the identifier fits into limit bytes, e.g. the
// broadcast payload of a radio.
func (id ID) Fits(limit int) bool {
	return len(id) <= limit
}

// Parse validates s as a peer identifier.
func Parse(s string) (ID, error) {
	if len(s) == 0 {
		return "", ErrorEmptyID
	}
	if len(s) > MaxLen {
		return "", ErrorIDTooLong
	}
	if !utf8.ValidString(s) {
		return "", ErrorInvalidUTF8
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return "", ErrorControlCharacter
		}
	}
	return ID(s), nil
}

// FromBytes validates raw identity bytes received from a radio.
func FromBytes(b []byte) (ID, error) {
	return Parse(string(b))
}

// Random generates a fresh identifier: 10 random bytes encoded to 16
// Base32 characters, short enough for a radio to embed in its broadcast.
func Random() (ID, error) {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return ID(base32.StdEncoding.EncodeToString(buf)), nil
}
