package extract

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/JakeFAU/datapull/internal/crawler"
)

const maxFirstLineTitle = 200

// PDF extracts the plain text of every page.
func PDF(in Input) (doc crawler.ExtractedDocument, err error) {
	// the pdf reader panics on some malformed inputs
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("parse pdf: %v", rec)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(in.Payload), int64(len(in.Payload)))
	if err != nil {
		return crawler.ExtractedDocument{}, fmt.Errorf("open pdf: %w", err)
	}
	textReader, err := reader.GetPlainText()
	if err != nil {
		return crawler.ExtractedDocument{}, fmt.Errorf("read pdf text: %w", err)
	}
	rawText, err := io.ReadAll(textReader)
	if err != nil {
		return crawler.ExtractedDocument{}, fmt.Errorf("read pdf text: %w", err)
	}

	title := strings.TrimSpace(reader.Trailer().Key("Info").Key("Title").Text())
	if title == "" {
		title = firstLine(string(rawText))
	}
	if title == "" {
		title = in.URL
	}

	content := Clean(string(rawText))
	md := baseMetadata(in, crawler.ContentPDF)
	md["pages"] = reader.NumPage()

	return crawler.ExtractedDocument{
		Title:    title,
		URL:      in.URL,
		Content:  content,
		Lang:     DetectLanguage(content),
		SourceID: in.SourceID,
		Version:  in.Version,
		Metadata: md,
	}, nil
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) < maxFirstLineTitle {
			return line
		}
		return ""
	}
	return ""
}
