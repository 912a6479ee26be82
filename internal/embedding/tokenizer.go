package embedding

import (
	"strings"
	"unicode"
)

var separators = strings.NewReplacer("-", " ", "_", " ", "/", " ")

// Tokenize lowercases text, drops every rune that is not a letter or
// whitespace and splits on whitespace. "red-car" is the single token "redcar".
func Tokenize(text string) []string {
	text = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, strings.ToLower(text))

	return strings.Fields(text)
}

// SplitTokenize is Tokenize with "-", "_" and "/" read as word breaks, so
// "sun-set_beach" yields "sun", "set" and "beach".
func SplitTokenize(text string) []string {
	return Tokenize(separators.Replace(text))
}
