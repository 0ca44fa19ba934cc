// Package dataset normalizes uploaded CSV files into records ready for
// embedding and indexing. Each row gets a stable id and a synthesized
// free-text document column.
package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/net4cleanair/litreview/engine/domain"
)

// Loader parses raw CSV bytes into normalized records.
type Loader struct {
	data     []byte
	encoding string
}

// NewLoader creates a Loader for the given CSV content. Supported encodings
// are "utf-8" (default) and "latin-1".
func NewLoader(data []byte, encoding string) *Loader {
	if encoding == "" {
		encoding = "utf-8"
	}
	return &Loader{data: data, encoding: encoding}
}

// Load parses the CSV and returns one Record per data row. An empty input
// yields zero records and no error. A CSV that cannot be parsed fails with
// domain.ErrMalformedInput and no partial result.
func (l *Loader) Load() ([]domain.Record, error) {
	text, err := l.decode()
	if err != nil {
		return nil, fmt.Errorf("dataset: decode %s: %w", l.encoding, domain.ErrMalformedInput)
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	r := csv.NewReader(strings.NewReader(text))
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dataset: read header: %v: %w", err, domain.ErrMalformedInput)
	}
	columns := make([]string, len(header))
	for i, c := range header {
		columns[i] = strings.TrimSpace(c)
	}

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("dataset: read row: %v: %w", err, domain.ErrMalformedInput)
		}
		rows = append(rows, rec)
	}

	idCol := resolveIDColumn(columns)
	textCols := selectTextColumns(columns, rows, idCol)

	records := make([]domain.Record, len(rows))
	for pos, row := range rows {
		records[pos] = buildRecord(columns, row, pos, idCol, textCols)
	}
	return records, nil
}

func (l *Loader) decode() (string, error) {
	switch strings.ToLower(l.encoding) {
	case "utf-8", "utf8":
		if !utf8.Valid(l.data) {
			return "", fmt.Errorf("invalid utf-8")
		}
		return string(l.data), nil
	case "latin-1", "iso-8859-1":
		// Latin-1 maps each byte directly to the same code point.
		var b strings.Builder
		b.Grow(len(l.data))
		for _, c := range l.data {
			b.WriteRune(rune(c))
		}
		return b.String(), nil
	default:
		return "", fmt.Errorf("unsupported encoding %q", l.encoding)
	}
}

// resolveIDColumn returns the index of the id column, or -1 when the ids must
// be synthesized from row positions. "Id" is the canonical upload header; an
// existing "id" column is honoured too.
func resolveIDColumn(columns []string) int {
	for i, c := range columns {
		if c == "Id" || c == "id" {
			return i
		}
	}
	return -1
}

// selectTextColumns picks the columns whose values form the document. First
// choice is the fixed allow-list of domain field names; when none is present
// the selection falls back to every column whose values look like free text.
func selectTextColumns(columns []string, rows [][]string, idCol int) []int {
	var picked []int
	for i, c := range columns {
		if domain.TextColumns[strings.ToUpper(c)] {
			picked = append(picked, i)
		}
	}
	if len(picked) > 0 {
		return picked
	}
	for i := range columns {
		if i == idCol {
			continue
		}
		if textTyped(rows, i) {
			picked = append(picked, i)
		}
	}
	return picked
}

// textTyped reports whether any non-empty value in the column fails numeric
// coercion.
func textTyped(rows [][]string, col int) bool {
	for _, row := range rows {
		if col >= len(row) {
			continue
		}
		v := strings.TrimSpace(row[col])
		if v == "" {
			continue
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return true
		}
	}
	// All-numeric or all-empty columns are not text.
	return false
}

func buildRecord(columns []string, row []string, pos, idCol int, textCols []int) domain.Record {
	cell := func(col int) string {
		if col < 0 || col >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[col])
	}

	var id any
	if idCol >= 0 {
		id = normalizeID(cell(idCol), pos)
	} else {
		id = int64(pos)
	}

	var parts []string
	for _, c := range textCols {
		if v := cell(c); v != "" {
			parts = append(parts, v)
		}
	}
	doc := strings.Join(parts, "\n")

	payload := make(map[string]any, len(columns))
	for i, name := range columns {
		if i == idCol {
			continue
		}
		payload[name] = typedValue(cell(i))
	}
	payload["id"] = id

	return domain.Record{ID: id, Document: doc, Payload: payload}
}

// normalizeID coerces a raw id cell: empty values fall back to the row
// position, numeric values are truncated to integers, anything else stays a
// string.
func normalizeID(raw string, pos int) any {
	if raw == "" {
		return int64(pos)
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return int64(f)
	}
	return raw
}

// typedValue keeps numeric-looking cells typed so the vector store payload
// round-trips integers and floats instead of strings.
func typedValue(raw string) any {
	if raw == "" {
		return ""
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return raw
}

// Documents extracts the document column from a record slice, in order.
func Documents(records []domain.Record) []string {
	docs := make([]string, len(records))
	for i, r := range records {
		docs[i] = r.Document
	}
	return docs
}
