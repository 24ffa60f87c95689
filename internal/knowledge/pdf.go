package knowledge

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNoText is returned when a document yields no extractable text. The
// upload caller reports this as an extraction failure; there is nothing to
// index.
var ErrNoText = errors.New("document contains no extractable text")

// ExtractPDFText extracts plain text from PDF bytes, page by page.
func ExtractPDFText(data []byte) (text string, err error) {
	// The pdf library panics on some malformed documents; convert that to an
	// error so a bad upload cannot take the server down.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parsing pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("reading pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			// Skip unreadable pages; the rest of the document may still index.
			continue
		}
		sb.WriteString(pageText)
		sb.WriteString("\n")
	}

	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", ErrNoText
	}
	return out, nil
}
