// Package normalize cleans raw sheet values column by column: dates
// through a layered parsing ladder, amounts through separator
// stripping, and the tax-rate column through text-token mapping. A bad
// value never aborts a batch; it degrades to null plus a recorded
// failure sample.
package normalize

import (
	"strconv"
	"strings"

	"github.com/auditkit/invoice-ledger/internal/table"
)

// Options controls value normalization for one run.
type Options struct {
	// TaxTextToZero maps recognized exemption tokens to numeric 0.
	TaxTextToZero bool
	// DateSuccessRatio is the fraction of cells a parse method must
	// convert before it wins the date ladder.
	DateSuccessRatio float64
}

// DefaultOptions mirror the run defaults.
func DefaultOptions() Options {
	return Options{TaxTextToZero: true, DateSuccessRatio: 0.7}
}

// taxTextTokens are textual exemption markers seen in tax-rate cells.
var taxTextTokens = map[string]bool{
	"免税":  true,
	"不征税": true,
	"免征":  true,
}

// Table normalizes all recognized columns of a row batch in place and
// fills the audit and derived columns the target schema carries.
// importTime is the run timestamp stamped into every row.
func Table(rows []table.Row, schema table.Schema, file, sheet, importTime string, opts Options, rec *Recorder) {
	if len(rows) == 0 {
		return
	}

	for _, col := range table.DateColumns {
		idx := schema.Index(col)
		if idx < 0 {
			continue
		}
		normalizeDateColumn(rows, schema, idx, col, file, sheet, rec, opts)
	}

	for _, col := range table.NumericColumns {
		idx := schema.Index(col)
		if idx < 0 {
			continue
		}
		if col == table.ColTaxRate {
			normalizeTaxRateColumn(rows, schema, idx, file, sheet, rec, opts)
		} else {
			normalizeNumericColumn(rows, idx, col, file, sheet, rec)
		}
	}

	srcIdx := schema.Index(table.ColAuditSrcFile)
	timeIdx := schema.Index(table.ColAuditImportTime)
	yearIdx := schema.Index(table.ColInvoiceYear)
	dateIdx := schema.Index(table.ColInvoiceDate)
	for _, row := range rows {
		if srcIdx >= 0 {
			row[srcIdx] = table.String(file)
		}
		if timeIdx >= 0 {
			row[timeIdx] = table.String(importTime)
		}
		if yearIdx >= 0 {
			row[yearIdx] = deriveYear(row, dateIdx)
		}
	}
}

// deriveYear takes the first four characters of the normalized date.
func deriveYear(row table.Row, dateIdx int) table.Cell {
	if dateIdx < 0 || dateIdx >= len(row) {
		return table.Null
	}
	d := row[dateIdx]
	if !d.Valid || len(d.Value) < 4 {
		return table.Null
	}
	return table.String(d.Value[:4])
}

func normalizeDateColumn(rows []table.Row, schema table.Schema, idx int, col, file, sheet string, rec *Recorder, opts Options) {
	values := make([]table.Cell, len(rows))
	for i, row := range rows {
		values[i] = row[idx]
	}

	parsed, method, converted, failed := parseDateColumn(values, opts.DateSuccessRatio)

	codeIdx := schema.Index(table.ColInvoiceCode)
	numIdx := schema.Index(table.ColInvoiceNumber)
	for i, row := range rows {
		orig := row[idx]
		if !parsed[i].Valid && orig.Valid && strings.TrimSpace(orig.Value) != "" {
			sample := FailureSample{
				File:      file,
				Sheet:     sheet,
				Column:    col,
				RowIndex:  i,
				OrigValue: orig.Value,
			}
			if codeIdx >= 0 && row[codeIdx].Valid {
				sample.InvoiceCode = row[codeIdx].Value
			}
			if numIdx >= 0 && row[numIdx].Valid {
				sample.InvoiceNumber = row[numIdx].Value
			}
			rec.Sample(sample)
		}
		row[idx] = parsed[i]
	}

	rec.Stat(CastStat{
		File: file, Sheet: sheet, Column: col, Method: method,
		Total: len(rows), Converted: converted, Failed: failed,
	})
}

func normalizeNumericColumn(rows []table.Row, idx int, col, file, sheet string, rec *Recorder) {
	converted, failed := 0, 0
	for _, row := range rows {
		c := row[idx]
		if !c.Valid || strings.TrimSpace(c.Value) == "" {
			row[idx] = table.Null
			continue
		}
		if v, ok := parseNumeric(c.Value); ok {
			row[idx] = table.String(formatFloat(v))
			converted++
		} else {
			row[idx] = table.Null
			failed++
		}
	}
	rec.Stat(CastStat{
		File: file, Sheet: sheet, Column: col, Method: "numeric_parse",
		Total: len(rows), Converted: converted, Failed: failed,
	})
}

// normalizeTaxRateColumn keeps the original text column and always
// produces the derived numeric column alongside it. Exemption tokens
// are tracked separately from true parse failures.
func normalizeTaxRateColumn(rows []table.Row, schema table.Schema, idx int, file, sheet string, rec *Recorder, opts Options) {
	derivedIdx := schema.Index(table.ColTaxRateNumeric)
	converted, failed, textCount, mapped := 0, 0, 0, 0

	for _, row := range rows {
		c := row[idx]
		var derived table.Cell
		switch {
		case !c.Valid || strings.TrimSpace(c.Value) == "":
			derived = table.Null
		case taxTextTokens[strings.TrimSpace(c.Value)]:
			textCount++
			if opts.TaxTextToZero {
				derived = table.String("0")
				mapped++
			} else {
				derived = table.Null
			}
		default:
			cleaned := strings.TrimSpace(strings.NewReplacer(",", "", "％", "").Replace(c.Value))
			cleaned = strings.TrimRight(cleaned, "%")
			if v, ok := parseNumeric(cleaned); ok {
				derived = table.String(formatFloat(v))
				converted++
			} else {
				derived = table.Null
				failed++
			}
		}
		if derivedIdx >= 0 {
			row[derivedIdx] = derived
		}
	}

	if mapped > 0 {
		rec.Stat(CastStat{
			File: file, Sheet: sheet, Column: table.ColTaxRateNumeric, Method: "map_tax_text_to_zero",
			Total: len(rows), Converted: mapped, Failed: 0,
		})
	}
	rec.Stat(CastStat{
		File: file, Sheet: sheet, Column: table.ColTaxRateNumeric, Method: "tax_parse",
		Total: len(rows), Converted: converted, Failed: failed,
	})
	if textCount > 0 {
		rec.Stat(CastStat{
			File: file, Sheet: sheet, Column: table.ColTaxRate, Method: "tax_text_tokens",
			Total: len(rows), Converted: textCount, Failed: len(rows) - textCount - converted,
		})
	}
}

// parseNumeric strips thousands separators and percent signs before
// parsing. Both ASCII and full-width separators occur in the wild.
func parseNumeric(s string) (float64, bool) {
	cleaned := strings.NewReplacer(",", "", "，", "", "%", "").Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
