package collyfetcher

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

// japaneseFallbacks are tried in order when a page declares no usable charset.
var japaneseFallbacks = []encoding.Encoding{
	japanese.ShiftJIS,
	japanese.EUCJP,
	japanese.ISO2022JP,
}

// decodeHTML converts an HTML payload to UTF-8. colly already decodes bodies
// whose Content-Type names a charset, so only invalid UTF-8 reaches the
// <meta charset> prescan and the Japanese fallbacks.
func decodeHTML(body []byte) []byte {
	if len(body) == 0 || utf8.Valid(body) {
		return body
	}
	// windows-1252 is the prescan's guess when nothing was declared.
	if enc, name, certain := charset.DetermineEncoding(body, "text/html"); certain || name != "windows-1252" {
		if out, ok := decodeWith(enc, body); ok {
			return out
		}
	}
	for _, enc := range japaneseFallbacks {
		if out, ok := decodeWith(enc, body); ok {
			return out
		}
	}
	return bytes.ToValidUTF8(body, []byte("�"))
}

func decodeWith(enc encoding.Encoding, body []byte) ([]byte, bool) {
	out, _, err := transform.Bytes(enc.NewDecoder(), body)
	if err != nil || bytes.ContainsRune(out, utf8.RuneError) {
		return nil, false
	}
	return out, true
}
