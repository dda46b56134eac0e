// Package extract turns fetched HTML and PDF payloads into normalized
// documents. Extractors are plain functions keyed by content class.
package extract

import (
	"fmt"
	"time"

	"github.com/JakeFAU/datapull/internal/crawler"
)

// Input is everything an extractor needs from a fetch.
type Input struct {
	URL        string
	Payload    []byte
	SourceID   string
	Version    string
	SourceLang crawler.Language
	At         time.Time
}

// Func converts one payload into a document.
type Func func(in Input) (crawler.ExtractedDocument, error)

var registry = map[crawler.ContentType]Func{
	crawler.ContentHTML: HTML,
	crawler.ContentPDF:  PDF,
}

// CanHandle reports whether a dedicated extractor exists for the content class.
func CanHandle(ct crawler.ContentType) bool {
	_, ok := registry[ct]
	return ok
}

// For returns the extractor for the content class, defaulting to HTML.
func For(ct crawler.ContentType) Func {
	if fn, ok := registry[ct]; ok {
		return fn
	}
	return HTML
}

// Result extracts a document from a successful crawl result.
func Result(res crawler.CrawlResult, src crawler.SourceConfig, at time.Time) (crawler.ExtractedDocument, error) {
	doc, err := For(res.ContentType)(Input{
		URL:        res.URL,
		Payload:    res.Payload,
		SourceID:   src.ID,
		Version:    src.Version,
		SourceLang: src.Lang,
		At:         at,
	})
	if err != nil {
		return crawler.ExtractedDocument{}, fmt.Errorf("extract %s: %w", res.URL, err)
	}
	return doc, nil
}

func baseMetadata(in Input, ct crawler.ContentType) map[string]any {
	md := map[string]any{
		"extractedAt": in.At.UTC().Format(time.RFC3339),
		"contentType": string(ct),
	}
	if in.SourceLang != "" {
		md["sourceLang"] = string(in.SourceLang)
	}
	return md
}
