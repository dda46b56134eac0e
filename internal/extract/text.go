package extract

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/JakeFAU/datapull/internal/crawler"
)

// Clean NFC-normalizes text, drops control characters and collapses every
// whitespace run into a single space.
func Clean(text string) string {
	text = norm.NFC.String(text)
	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			space = true
		case unicode.IsControl(r):
		default:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DetectLanguage guesses the language from the scripts present: any kana
// means Japanese, Han without kana means Chinese, anything else English.
func DetectLanguage(text string) crawler.Language {
	hasHan := false
	for _, r := range text {
		if unicode.In(r, unicode.Hiragana, unicode.Katakana) {
			return crawler.LangJA
		}
		if unicode.Is(unicode.Han, r) {
			hasHan = true
		}
	}
	if hasHan {
		return crawler.LangZH
	}
	return crawler.LangEN
}
