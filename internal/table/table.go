// Package table defines the staging and ledger table families, the
// ordered column schemas threaded through normalization, shard writing
// and merging, and the composite key sets used by the dedup pass.
package table

import "fmt"

// Audit tracking columns attached to every staged row.
const (
	ColAuditSrcFile     = "AUDIT_SRC_FILE"
	ColAuditImportTime  = "AUDIT_IMPORT_TIME"
	ColDedupCaptureTime = "DEDUP_CAPTURE_TIME"
)

// Invoice key columns as they appear in the source workbooks.
const (
	ColInvoiceCode    = "发票代码"
	ColInvoiceNumber  = "发票号码"
	ColEticketNumber  = "数电发票号码"
	ColInvoiceDate    = "开票日期"
	ColInvoiceYear    = "开票年份"
	ColTaxRate        = "税率"
	ColTaxRateNumeric = "税率_数值"
)

// InvoiceKeyColumns identify one invoice across sheet types.
var InvoiceKeyColumns = []string{ColInvoiceCode, ColInvoiceNumber, ColEticketNumber}

// DateColumns and NumericColumns drive per-column normalization.
var (
	DateColumns    = []string{ColInvoiceDate}
	NumericColumns = []string{"金额", "税额", "单价", "数量", "价税合计", ColTaxRate}
)

// DetailOutputColumns is the column set a detail ledger partition keeps.
var DetailOutputColumns = []string{
	ColInvoiceCode,
	ColInvoiceNumber,
	ColEticketNumber,
	"销方识别号",
	"销方名称",
	"购方识别号",
	"购买方名称",
	ColInvoiceDate,
	"税收分类编码",
	"特定业务类型",
	"货物或应税劳务名称",
	"规格型号",
	"单位",
	"数量",
	"单价",
	"金额",
	ColTaxRate,
	ColTaxRateNumeric,
	"税额",
	"价税合计",
	"发票来源",
	"发票票种",
	"发票状态",
	"是否正数发票",
	"发票风险等级",
	"开票人",
	"备注",
}

// HeaderOutputColumns is the column set a header ledger partition keeps.
var HeaderOutputColumns = []string{
	ColInvoiceCode,
	ColInvoiceNumber,
	ColEticketNumber,
	"销方识别号",
	"销方名称",
	"购方识别号",
	"购买方名称",
	ColInvoiceDate,
	"金额",
	ColTaxRate,
	ColTaxRateNumeric,
	"税额",
	"价税合计",
	"发票来源",
	"发票票种",
	"发票状态",
	"是否正数发票",
	"发票风险等级",
	"开票人",
	"备注",
}

// DetailDedupColumns is the composite key for detail rows. The line-item
// identity fields keep multiple goods lines of one invoice apart.
var DetailDedupColumns = []string{
	ColInvoiceCode,
	ColInvoiceNumber,
	ColEticketNumber,
	ColInvoiceDate,
	"货物或应税劳务名称",
	"数量",
	"单价",
	"金额",
	"税额",
	"发票票种",
	"发票状态",
	"开票人",
	"备注",
}

// HeaderDedupColumns is the composite key for header rows.
var HeaderDedupColumns = []string{ColInvoiceCode, ColInvoiceNumber, ColEticketNumber}

// Staging table names per business tag. Detail sheets land in the
// transit table (dropped at run end); summary sheets carry the real
// line items and land in the DETAIL table the ledger builder reads.
func TransitTable(tag string) string { return fmt.Sprintf("ODS_%s_TEMP_TRANSIT", tag) }
func DetailTable(tag string) string  { return fmt.Sprintf("ODS_%s_DETAIL", tag) }
func HeaderTable(tag string) string  { return fmt.Sprintf("ODS_%s_HEADER", tag) }
func SpecialTable(tag, category string) string {
	return fmt.Sprintf("ODS_%s_SPECIAL_%s", tag, category)
}

// LedgerType selects one of the two partitioned ledger families.
type LedgerType string

const (
	LedgerDetail LedgerType = "detail"
	LedgerHeader LedgerType = "header"
)

// PartitionTable returns the ledger partition name for a year and type.
func PartitionTable(tag, year string, typ LedgerType) string {
	switch typ {
	case LedgerHeader:
		return fmt.Sprintf("LEDGER_%s_%s_INVOICE_HEADER", tag, year)
	default:
		return fmt.Sprintf("LEDGER_%s_%s_INVOICE_DETAIL", tag, year)
	}
}

// StagingTable returns the staging table the ledger builder reads for a type.
func StagingTable(tag string, typ LedgerType) string {
	if typ == LedgerHeader {
		return HeaderTable(tag)
	}
	return DetailTable(tag)
}

// OutputColumns returns the partition column set for a type.
func OutputColumns(typ LedgerType) []string {
	if typ == LedgerHeader {
		return HeaderOutputColumns
	}
	return DetailOutputColumns
}

// DedupColumns returns the composite key columns for a type.
func DedupColumns(typ LedgerType) []string {
	if typ == LedgerHeader {
		return HeaderDedupColumns
	}
	return DetailDedupColumns
}

// IndexDef describes one lookup index on a ledger partition.
type IndexDef struct {
	Name    string
	Columns []string
}

// PartitionIndexes returns the two lookup indexes built on every
// freshly rewritten partition.
func PartitionIndexes(partition string) []IndexDef {
	return []IndexDef{
		{Name: "idx_" + partition + "_code_no", Columns: []string{ColInvoiceCode, ColInvoiceNumber}},
		{Name: "idx_" + partition + "_eticket", Columns: []string{ColEticketNumber}},
	}
}
