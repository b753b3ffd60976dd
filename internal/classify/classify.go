// Package classify assigns workbook sheets to destination families
// based on sheet-name patterns. Classification is pure, total and
// evaluated in fixed priority: special categories, then summary, then
// header, then detail; anything unmatched is ignored.
package classify

import "regexp"

// Kind is the coarse classification of one sheet.
type Kind string

const (
	Detail  Kind = "detail"
	Header  Kind = "header"
	Summary Kind = "summary"
	Special Kind = "special"
	Ignored Kind = "ignored"
)

// Classification is the result for one sheet. Category is set only for
// Special kinds (e.g. "RAILWAY").
type Classification struct {
	Kind     Kind
	Category string
}

// String renders the classification for manifests and logs.
func (c Classification) String() string {
	if c.Kind == Special {
		return "special_" + c.Category
	}
	return string(c.Kind)
}

type specialPattern struct {
	re       *regexp.Regexp
	category string
}

// Special invoice sub-types recognized ahead of the generic patterns.
var specialPatterns = []specialPattern{
	{regexp.MustCompile(`铁路(电子)?客票|铁路电子发票`), "RAILWAY"},
	{regexp.MustCompile(`建筑服务`), "BUILDING_SERVICE"},
	{regexp.MustCompile(`不动产租赁`), "REAL_ESTATE_RENTAL"},
	{regexp.MustCompile(`机动车销售统一发票`), "VEHICLE"},
	{regexp.MustCompile(`货物运输服务`), "CARGO_TRANSPORT"},
	{regexp.MustCompile(`过路过桥费`), "TOLL"},
}

var (
	summaryRe = regexp.MustCompile(`信息汇总`)
	headerRe  = regexp.MustCompile(`发票基础(?:信息|表)?\d*`)
	detailRe  = regexp.MustCompile(`明细`)
)

// Classify maps a sheet to its destination family. A sheet without any
// header columns has nothing to stage and is always ignored.
func Classify(sheetName string, headerColumns []string) Classification {
	if len(headerColumns) == 0 {
		return Classification{Kind: Ignored}
	}
	for _, p := range specialPatterns {
		if p.re.MatchString(sheetName) {
			return Classification{Kind: Special, Category: p.category}
		}
	}
	if summaryRe.MatchString(sheetName) {
		return Classification{Kind: Summary}
	}
	if headerRe.MatchString(sheetName) {
		return Classification{Kind: Header}
	}
	if detailRe.MatchString(sheetName) {
		return Classification{Kind: Detail}
	}
	return Classification{Kind: Ignored}
}
