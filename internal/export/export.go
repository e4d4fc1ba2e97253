// Package export writes duplicate pairs and comparison rows as CSV or XLSX.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/language"

	"github.com/sells-group/dedupe-cli/internal/model"
)

// Format is an output file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatXLSX:
		return f, nil
	default:
		return "", eris.Errorf("export: unknown format %q (want csv or xlsx)", s)
	}
}

// PairRecord is one exported duplicate pair.
type PairRecord struct {
	ID          int64   `csv:"id"`
	Entity1ID   int64   `csv:"entity1_id"`
	Entity1Name string  `csv:"entity1_name"`
	Entity2ID   int64   `csv:"entity2_id"`
	Entity2Name string  `csv:"entity2_name"`
	EntityType  string  `csv:"entity_type"`
	Form        string  `csv:"form"`
	Similarity  float64 `csv:"similarity"`
	Stars       float64 `csv:"stars"`
	Algorithms  string  `csv:"algorithms"`
	Ignored     bool    `csv:"ignored"`
	Merged      bool    `csv:"merged"`
	CreatedAt   string  `csv:"created_at"`
}

// ComparisonRecord is one exported comparison row of a session.
type ComparisonRecord struct {
	Field         string `csv:"field"`
	Label         string `csv:"label"`
	Entity1Value  string `csv:"entity1_value"`
	Entity1Status string `csv:"entity1_status"`
	Entity2Value  string `csv:"entity2_value"`
	Entity2Status string `csv:"entity2_status"`
	FinalValue    string `csv:"final_value"`
	FinalStatus   string `csv:"final_status"`
}

// PairRecords flattens pair metadata for export.
func PairRecords(pairs []model.DuplicatePairMetadata) []PairRecord {
	out := make([]PairRecord, 0, len(pairs))
	for _, p := range pairs {
		r := PairRecord{
			ID:          p.ID,
			Entity1ID:   p.Entity1.ID,
			Entity1Name: p.Entity1.Name,
			Entity2ID:   p.Entity2.ID,
			Entity2Name: p.Entity2.Name,
			Similarity:  p.Similarity,
			Stars:       p.Stars(),
			Algorithms:  strings.Join(algorithmTypes(p.Algorithms), ";"),
			Ignored:     p.Ignored,
			Merged:      p.Merged,
		}
		if p.EntityType != nil {
			r.EntityType = p.EntityType.Name
		}
		if p.Form != nil {
			r.Form = p.Form.Name
		}
		if !p.CreatedAt.IsZero() {
			r.CreatedAt = p.CreatedAt.UTC().Format(time.RFC3339)
		}
		out = append(out, r)
	}
	return out
}

func algorithmTypes(runs []model.AlgorithmRun) []string {
	seen := make(map[string]bool, len(runs))
	var types []string
	for _, a := range runs {
		if !seen[a.Type] {
			seen[a.Type] = true
			types = append(types, a.Type)
		}
	}
	return types
}

// ComparisonRecords flattens comparison rows, labelling fields in lang.
func ComparisonRecords(rows []model.ComparisonRow, lang language.Tag) []ComparisonRecord {
	out := make([]ComparisonRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, ComparisonRecord{
			Field:         row.Field.Key,
			Label:         row.Field.LocalizedLabel(lang),
			Entity1Value:  FormatValue(row.Entity1.Value),
			Entity1Status: string(row.Entity1.Status),
			Entity2Value:  FormatValue(row.Entity2.Value),
			Entity2Status: string(row.Entity2.Status),
			FinalValue:    FormatValue(row.Final.Value),
			FinalStatus:   string(row.Final.Status),
		})
	}
	return out
}

// FormatValue renders a candidate value as text. nil renders empty.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(t)
	}
}

// Write encodes records in the given format. records must be a slice of
// PairRecord or ComparisonRecord.
func Write[T PairRecord | ComparisonRecord](w io.Writer, format Format, records []T) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, records)
	case FormatXLSX:
		return WriteXLSX(w, records)
	default:
		return eris.Errorf("export: unknown format %q", format)
	}
}

// WriteCSV writes records with a header row.
func WriteCSV[T PairRecord | ComparisonRecord](w io.Writer, records []T) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	if len(records) == 0 {
		if err := enc.EncodeHeader(*new(T)); err != nil {
			return eris.Wrap(err, "export: csv header")
		}
	}
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return eris.Wrap(err, "export: csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: csv flush")
}

// WriteXLSX writes records to a single-sheet workbook. The header matches
// the CSV column names.
func WriteXLSX[T PairRecord | ComparisonRecord](w io.Writer, records []T) error {
	header, err := csvutil.Header(*new(T), "csv")
	if err != nil {
		return eris.Wrap(err, "export: xlsx header")
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName[T]())
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}
	addRow(sheet, toAny(header))
	for _, r := range records {
		addRow(sheet, cellValues(r))
	}

	return eris.Wrap(f.Write(w), "export: write xlsx")
}

func sheetName[T PairRecord | ComparisonRecord]() string {
	var zero T
	if _, ok := any(zero).(ComparisonRecord); ok {
		return "Comparison"
	}
	return "Duplicates"
}

func addRow(sheet *xlsx.Sheet, values []any) {
	row := sheet.AddRow()
	for _, v := range values {
		cell := row.AddCell()
		switch t := v.(type) {
		case int64:
			cell.SetInt64(t)
		case float64:
			cell.SetFloat(t)
		case bool:
			cell.SetBool(t)
		case string:
			cell.SetString(t)
		default:
			cell.SetString(fmt.Sprint(t))
		}
	}
}

func cellValues(r any) []any {
	switch t := r.(type) {
	case PairRecord:
		return []any{
			t.ID, t.Entity1ID, t.Entity1Name, t.Entity2ID, t.Entity2Name,
			t.EntityType, t.Form, t.Similarity, t.Stars, t.Algorithms,
			t.Ignored, t.Merged, t.CreatedAt,
		}
	case ComparisonRecord:
		return []any{
			t.Field, t.Label, t.Entity1Value, t.Entity1Status,
			t.Entity2Value, t.Entity2Status, t.FinalValue, t.FinalStatus,
		}
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
