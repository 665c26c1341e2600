package ingestion

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kwal0203/opus-blocks/pkg/logger"
)

// DetectKind maps a filename or content type onto a source kind we can
// extract.
func DetectKind(filename, contentType string) string {
	switch {
	case strings.HasSuffix(strings.ToLower(filename), ".pdf"),
		contentType == "application/pdf":
		return "pdf"
	case strings.HasSuffix(strings.ToLower(filename), ".html"),
		strings.HasSuffix(strings.ToLower(filename), ".htm"),
		strings.HasPrefix(contentType, "text/html"):
		return "html"
	default:
		return "text"
	}
}

// Processor extracts document text and persists it under the storage
// root. The stored path becomes the document's storage URI.
type Processor struct {
	root string
}

func NewProcessor(root string) (*Processor, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root is not configured")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &Processor{root: root}, nil
}

// Process extracts text from raw upload bytes and writes it to disk.
// It returns the extraction result and the path of the stored text.
func (p *Processor) Process(docID uuid.UUID, filename, contentType string, data []byte) (*Extracted, string, error) {
	kind := DetectKind(filename, contentType)

	var extracted *Extracted
	var err error
	switch kind {
	case "pdf":
		extracted, err = ExtractPDF(data)
	case "html":
		extracted, err = ExtractHTML(data)
	default:
		extracted, err = ExtractPlain(data)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to extract %s document: %w", kind, err)
	}

	dir := filepath.Join(p.root, docID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("failed to create document directory: %w", err)
	}
	// Keep the original bytes next to the extracted text; re-extraction
	// after a parser fix needs the source.
	if err := os.WriteFile(filepath.Join(dir, filepath.Base(filename)), data, 0o644); err != nil {
		return nil, "", fmt.Errorf("failed to store original upload: %w", err)
	}
	path := filepath.Join(dir, "extracted.txt")
	if err := os.WriteFile(path, []byte(extracted.Text), 0o644); err != nil {
		return nil, "", fmt.Errorf("failed to store extracted text: %w", err)
	}

	logger.Info("Document text extracted",
		zap.String("document_id", docID.String()),
		zap.String("kind", kind),
		zap.Int("chars", len(extracted.Text)),
		zap.Int("pages", len(extracted.Pages)),
	)
	return extracted, path, nil
}
