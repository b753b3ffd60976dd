package normalize

import (
	"strings"
	"time"

	"github.com/auditkit/invoice-ledger/internal/table"
)

// Date layouts tried by the generic parser, most common first.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"20060102",
	"2006.01.02",
	"2006年01月02日",
	"2006-1-2",
	"2006/1/2",
}

// Spreadsheet serial-date epochs. Workbooks written under the 1900
// system count days from 1899-12-30; the legacy Mac system counts from
// 1904-01-01.
var (
	epoch1899 = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)
	epoch1904 = time.Date(1904, 1, 1, 0, 0, 0, 0, time.UTC)
)

// parseDateColumn runs the parsing ladder over a whole column: generic
// layout parsing, the two serial epochs for numeric-looking columns,
// then a trimmed-string retry. The first method clearing its success
// ratio wins; cells it could not convert come out null.
func parseDateColumn(values []table.Cell, successRatio float64) (parsed []table.Cell, method string, converted, failed int) {
	total := len(values)
	if total == 0 {
		return nil, "none", 0, 0
	}

	generic, n := tryLayouts(values, false)
	if float64(n) >= successRatio*float64(total) {
		return generic, "generic_layouts", n, total - n
	}

	if numericCount(values)*2 >= total {
		serial1899, n1 := trySerial(values, epoch1899)
		if float64(n1) >= 0.5*float64(total) {
			return serial1899, "epoch_1899-12-30", n1, total - n1
		}
		serial1904, n2 := trySerial(values, epoch1904)
		return serial1904, "epoch_1904-01-01", n2, total - n2
	}

	trimmed, n3 := tryLayouts(values, true)
	return trimmed, "trimmed_string", n3, total - n3
}

func tryLayouts(values []table.Cell, trim bool) ([]table.Cell, int) {
	out := make([]table.Cell, len(values))
	converted := 0
	for i, c := range values {
		if !c.Valid {
			continue
		}
		s := c.Value
		if trim {
			s = strings.TrimSpace(s)
		}
		if t, ok := parseAnyLayout(s); ok {
			out[i] = table.String(t.Format("2006-01-02"))
			converted++
		}
	}
	return out, converted
}

func parseAnyLayout(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func trySerial(values []table.Cell, epoch time.Time) ([]table.Cell, int) {
	out := make([]table.Cell, len(values))
	converted := 0
	for i, c := range values {
		if !c.Valid {
			continue
		}
		v, ok := parseNumeric(c.Value)
		if !ok || v < 1 || v > 200000 {
			continue
		}
		t := epoch.AddDate(0, 0, int(v))
		out[i] = table.String(t.Format("2006-01-02"))
		converted++
	}
	return out, converted
}

func numericCount(values []table.Cell) int {
	n := 0
	for _, c := range values {
		if !c.Valid {
			continue
		}
		if _, ok := parseNumeric(c.Value); ok {
			n++
		}
	}
	return n
}
