package ingestion

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/jdkato/prose/v2"
	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/kwal0203/opus-blocks/pkg/logger"
	"github.com/kwal0203/opus-blocks/pkg/utils"
)

// PageText is the extracted text of one source page together with its
// character offset into the concatenated document text. Librarian spans
// reference those offsets.
type PageText struct {
	Page      int
	StartChar int
	EndChar   int
	Text      string
}

type Extracted struct {
	Text        string
	Pages       []PageText
	ContentHash string
}

var whitespaceRe = regexp.MustCompile(`[ \t]+`)

// ExtractPDF pulls plain text from a PDF, page by page.
func ExtractPDF(data []byte) (*Extracted, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	var sb strings.Builder
	var pages []PageText
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			logger.Warn("Failed to extract page text",
				zap.Int("page", i),
				zap.Error(err),
			)
			continue
		}
		text = normalizeText(text)
		if text == "" {
			continue
		}

		start := sb.Len()
		sb.WriteString(text)
		sb.WriteString("\n")
		pages = append(pages, PageText{
			Page:      i,
			StartChar: start,
			EndChar:   start + len(text),
			Text:      text,
		})
	}

	full := sb.String()
	if strings.TrimSpace(full) == "" {
		return nil, fmt.Errorf("pdf produced no extractable text")
	}

	return &Extracted{
		Text:        full,
		Pages:       pages,
		ContentHash: utils.HashBytes(data),
	}, nil
}

// ExtractHTML strips markup and script content and returns the visible
// text as a single page.
func ExtractHTML(data []byte) (*Extracted, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	doc.Find("script, style, nav, header, footer").Remove()
	text := normalizeText(doc.Find("body").Text())
	if text == "" {
		text = normalizeText(doc.Text())
	}
	if text == "" {
		return nil, fmt.Errorf("html produced no extractable text")
	}

	return &Extracted{
		Text:        text,
		Pages:       []PageText{{Page: 1, StartChar: 0, EndChar: len(text), Text: text}},
		ContentHash: utils.HashBytes(data),
	}, nil
}

// ExtractPlain wraps raw text as a single-page document, repairing
// latin-1 bytes when the input is not valid UTF-8.
func ExtractPlain(data []byte) (*Extracted, error) {
	text := string(data)
	if !utf8.ValidString(text) {
		text = decodeLatin1(data)
	}
	text = normalizeText(text)
	if text == "" {
		return nil, fmt.Errorf("document is empty")
	}
	return &Extracted{
		Text:        text,
		Pages:       []PageText{{Page: 1, StartChar: 0, EndChar: len(text), Text: text}},
		ContentHash: utils.HashBytes(data),
	}, nil
}

func decodeLatin1(data []byte) string {
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes)
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = whitespaceRe.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// SplitSentences segments extracted text for span anchoring and draft
// comparison.
func SplitSentences(text string) ([]string, error) {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to segment text: %w", err)
	}
	sentences := doc.Sentences()
	out := make([]string, 0, len(sentences))
	for _, s := range sentences {
		trimmed := strings.TrimSpace(s.Text)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out, nil
}
