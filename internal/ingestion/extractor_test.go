package ingestion

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractHTMLStripsMarkup(t *testing.T) {
	html := []byte(`<html><head><style>body{color:red}</style></head>
<body><script>alert(1)</script><nav>menu</nav>
<p>Mean   glucose fell by 12 mg/dL.</p>
<p>The effect persisted at week 24.</p></body></html>`)

	extracted, err := ExtractHTML(html)
	require.NoError(t, err)
	assert.NotContains(t, extracted.Text, "alert")
	assert.NotContains(t, extracted.Text, "menu")
	assert.NotContains(t, extracted.Text, "color:red")
	assert.Contains(t, extracted.Text, "Mean glucose fell by 12 mg/dL.")
	assert.Contains(t, extracted.Text, "The effect persisted at week 24.")
	require.Len(t, extracted.Pages, 1)
	assert.Equal(t, 1, extracted.Pages[0].Page)
	assert.NotEmpty(t, extracted.ContentHash)
}

func TestExtractPlainRepairsLatin1(t *testing.T) {
	data := []byte{'c', 'a', 'f', 0xE9}
	extracted, err := ExtractPlain(data)
	require.NoError(t, err)
	assert.Equal(t, "café", extracted.Text)
}

func TestExtractPlainRejectsEmpty(t *testing.T) {
	_, err := ExtractPlain([]byte("   \n\t  "))
	assert.Error(t, err)
}

func TestExtractPDFRejectsGarbage(t *testing.T) {
	_, err := ExtractPDF([]byte("not a pdf at all"))
	assert.Error(t, err)
}

func TestNormalizeText(t *testing.T) {
	in := "first  line \r\n\r\n  second\tline  \n"
	assert.Equal(t, "first line\nsecond line", normalizeText(in))
}

func TestSplitSentences(t *testing.T) {
	sentences, err := SplitSentences("HbA1c decreased by 0.8%. The difference was significant (p < 0.01).")
	require.NoError(t, err)
	require.Len(t, sentences, 2)
	assert.Equal(t, "HbA1c decreased by 0.8%.", sentences[0])
}

func TestProcessorStoresExtractedText(t *testing.T) {
	root := t.TempDir()
	proc, err := NewProcessor(root)
	require.NoError(t, err)

	docID := uuid.New()
	raw := []byte("The cohort included 214 participants.")
	extracted, path, err := proc.Process(docID, "results.txt", "text/plain", raw)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, docID.String(), "extracted.txt"), path)

	stored, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, extracted.Text, string(stored))

	original, err := os.ReadFile(filepath.Join(root, docID.String(), "results.txt"))
	require.NoError(t, err)
	assert.Equal(t, raw, original)
}

func TestDetectKind(t *testing.T) {
	assert.Equal(t, "pdf", DetectKind("paper.PDF", ""))
	assert.Equal(t, "pdf", DetectKind("upload", "application/pdf"))
	assert.Equal(t, "html", DetectKind("page.htm", ""))
	assert.Equal(t, "html", DetectKind("x", "text/html; charset=utf-8"))
	assert.Equal(t, "text", DetectKind("notes.txt", "text/plain"))
}
