package text

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/ports"
)

const defaultMaxBytes = 50 << 20

type format int

const (
	formatUnknown format = iota
	formatPlain
	formatPDF
	formatXLSX
)

// Extractor reads stored uploads and returns their text layer. Scanned images
// are not OCR'd and fail as unsupported.
type Extractor struct {
	storage  ports.ObjectStorage
	maxBytes int64
}

func NewExtractor(storage ports.ObjectStorage, maxBytes int64) *Extractor {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Extractor{storage: storage, maxBytes: maxBytes}
}

func (e *Extractor) Extract(ctx context.Context, doc *domain.Document) (string, error) {
	kind := detectFormat(doc.MimeType, doc.Filename)
	if kind == formatUnknown {
		return "", domain.WrapError(domain.ErrUnsupportedFormat, "extract text", fmt.Errorf("%s (%s)", doc.Filename, doc.MimeType))
	}

	reader, err := e.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return "", fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(io.LimitReader(reader, e.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read source document: %w", err)
	}
	if int64(len(raw)) > e.maxBytes {
		return "", domain.WrapError(domain.ErrUnreadable, "extract text", fmt.Errorf("file exceeds %d bytes", e.maxBytes))
	}

	var text string
	switch kind {
	case formatPDF:
		text, err = pdfText(raw)
	case formatXLSX:
		text, err = xlsxText(raw)
	default:
		text, err = plainText(raw, doc.Filename)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func detectFormat(mimeType, filename string) format {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch mt {
	case "application/pdf":
		return formatPDF
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return formatXLSX
	case "text/plain", "text/markdown", "text/csv", "application/json":
		return formatPlain
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return formatPDF
	case ".xlsx":
		return formatXLSX
	case ".txt", ".md", ".csv", ".json":
		return formatPlain
	}
	return formatUnknown
}

func plainText(raw []byte, filename string) (string, error) {
	if !utf8.Valid(raw) {
		return "", domain.WrapError(domain.ErrUnreadable, "extract text", fmt.Errorf("%s is not valid UTF-8 text", filename))
	}
	return string(raw), nil
}

func pdfText(raw []byte) (out string, err error) {
	// The pdf reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			out = ""
			err = domain.WrapError(domain.ErrUnreadable, "extract pdf text", fmt.Errorf("malformed pdf: %v", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", domain.WrapError(domain.ErrUnreadable, "extract pdf text", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", domain.WrapError(domain.ErrUnreadable, "extract pdf text", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", domain.WrapError(domain.ErrUnreadable, "extract pdf text", err)
	}
	if strings.TrimSpace(buf.String()) == "" {
		return "", domain.WrapError(domain.ErrUnsupportedFormat, "extract pdf text", errors.New("pdf has no text layer"))
	}
	return buf.String(), nil
}

// xlsxText flattens every sheet as tab-separated rows under a sheet heading.
func xlsxText(raw []byte) (string, error) {
	book, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return "", domain.WrapError(domain.ErrUnreadable, "extract xlsx text", err)
	}
	defer book.Close()

	var b strings.Builder
	for _, sheet := range book.GetSheetList() {
		rows, err := book.GetRows(sheet)
		if err != nil {
			return "", domain.WrapError(domain.ErrUnreadable, "extract xlsx text", fmt.Errorf("sheet %s: %w", sheet, err))
		}
		if len(rows) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s\n", sheet)
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}
