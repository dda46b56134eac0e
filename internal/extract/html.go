package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/datapull/internal/crawler"
)

const (
	boilerplateSelectors = "script, style, noscript, nav, footer, header, aside, .ad, .advertisement, .ads"
	mainContentSelectors = "main, article, .content, .main-content, #content, .post-content"
)

// HTML extracts the title and main text of a page.
func HTML(in Input) (crawler.ExtractedDocument, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(in.Payload))
	if err != nil {
		return crawler.ExtractedDocument{}, fmt.Errorf("parse html: %w", err)
	}
	doc.Find(boilerplateSelectors).Remove()

	title := pageTitle(doc)
	if title == "" {
		title = in.URL
	}

	var raw string
	if main := doc.Find(mainContentSelectors).First(); main.Length() > 0 {
		raw = main.Text()
	} else {
		raw = doc.Find("body").Text()
	}
	content := Clean(raw)

	return crawler.ExtractedDocument{
		Title:    title,
		URL:      in.URL,
		Content:  content,
		Lang:     DetectLanguage(content),
		SourceID: in.SourceID,
		Version:  in.Version,
		Metadata: baseMetadata(in, crawler.ContentHTML),
	}, nil
}

// pageTitle prefers <title>, then the first h1, then og:title.
func pageTitle(doc *goquery.Document) string {
	if title := Clean(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if h1 := Clean(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	if og, exists := doc.Find("meta[property='og:title']").Attr("content"); exists {
		return strings.TrimSpace(og)
	}
	return ""
}
