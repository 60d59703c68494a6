package extract

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// csvExtractor joins cells with spaces and rows with newlines.
type csvExtractor struct{}

func (csvExtractor) Extract(data []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	var b strings.Builder
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read csv: %w", err)
		}
		b.WriteString(strings.Join(rec, " "))
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String()), nil
}
