package chunker

import (
	"strings"

	"github.com/JakeFAU/datapull/internal/crawler"
)

// boundaries lists the sentence-terminating runes per language. A segment
// ends after any of them.
var boundaries = map[crawler.Language]string{
	crawler.LangJA: "。！？\n",
	crawler.LangZH: "。\n",
	crawler.LangEN: ".!?\n",
}

// segments splits text into sentence-like pieces that keep their
// terminators, so joining them reproduces text exactly. Pieces longer than
// maxSegment are hard-split.
func segments(text string, lang crawler.Language, maxSegment int) [][]rune {
	set, ok := boundaries[lang]
	if !ok {
		set = boundaries[crawler.LangEN]
	}

	var (
		out [][]rune
		seg []rune
	)
	flush := func() {
		for len(seg) > maxSegment {
			out = append(out, seg[:maxSegment:maxSegment])
			seg = seg[maxSegment:]
		}
		if len(seg) > 0 {
			out = append(out, seg)
		}
		seg = nil
	}
	for _, r := range text {
		seg = append(seg, r)
		if strings.ContainsRune(set, r) {
			flush()
		}
	}
	flush()
	return out
}
