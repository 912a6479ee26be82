package fileindex

import (
	"strings"
	"unique"
)

// Token is an interned, immutable path string. Tokens made from equal
// strings share one allocation and compare equal with ==, so they can be used
// as map keys and set members across the index without copying.
type Token struct {
	h unique.Handle[string]
}

func NewToken(s string) Token {
	return Token{h: unique.Make(s)}
}

func (t Token) String() string {
	if t == (Token{}) {
		return ""
	}
	return t.h.Value()
}

func (t Token) Compare(other Token) int {
	return strings.Compare(t.String(), other.String())
}
