package ingest

import (
	"log/slog"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/auditkit/invoice-ledger/internal/classify"
	"github.com/auditkit/invoice-ledger/internal/fileval"
	"github.com/auditkit/invoice-ledger/internal/report"
	"github.com/auditkit/invoice-ledger/internal/shard"
	"github.com/auditkit/invoice-ledger/internal/table"
)

// SheetPlan is one sheet's routing decision from the pre-scan.
type SheetPlan struct {
	Name   string
	Header []string
	Class  classify.Classification
	// Family and Target are empty for ignored sheets.
	Family string
	Target string
}

// Document is one workbook that passed the pre-scan.
type Document struct {
	Path      string
	SizeBytes int64
	Sheets    []SheetPlan
}

// Plan is the immutable output of the pre-scan: the documents to
// ingest and the final schema of every destination table.
type Plan struct {
	Documents  []Document
	ScanFailed []report.ErrorRecord
	// Schemas maps destination table name to its full column schema
	// (observed columns, derived columns, audit columns).
	Schemas map[string]table.Schema
}

// route maps a classification onto a shard family and staging table.
// Detail sheets stage into the transit table; summary sheets carry the
// consolidated line items and stage into the DETAIL table.
func route(tag string, c classify.Classification) (family, target string, ok bool) {
	switch c.Kind {
	case classify.Detail:
		return shard.FamilyTransit, table.TransitTable(tag), true
	case classify.Summary:
		return shard.FamilyDetail, table.DetailTable(tag), true
	case classify.Header:
		return shard.FamilyHeader, table.HeaderTable(tag), true
	case classify.Special:
		return c.Category, table.SpecialTable(tag, c.Category), true
	default:
		return "", "", false
	}
}

// PreScan opens every accepted file, reads each sheet's header row,
// classifies the sheets and accumulates per-destination column unions.
// A file whose scan fails is recorded and excluded but still counted.
func PreScan(files []fileval.Result, tag string, log *slog.Logger) Plan {
	plan := Plan{Schemas: make(map[string]table.Schema)}
	unions := make(map[string][]string)

	for _, fr := range files {
		doc, err := scanDocument(fr)
		if err != nil {
			log.Warn("pre-scan failed", "file", fr.Path, "error", err)
			plan.ScanFailed = append(plan.ScanFailed, report.NewError(fr.Path, "", report.StageScan, err))
			continue
		}
		for i := range doc.Sheets {
			sp := &doc.Sheets[i]
			if family, target, ok := route(tag, sp.Class); ok {
				sp.Family, sp.Target = family, target
				// Trailing formatted-but-blank cells come back as empty
				// header names; they must not become columns.
				for _, h := range sp.Header {
					if strings.TrimSpace(h) != "" {
						unions[target] = append(unions[target], h)
					}
				}
			}
		}
		plan.Documents = append(plan.Documents, doc)
	}

	for target, cols := range unions {
		plan.Schemas[target] = finalSchema(table.NewSchema(cols))
	}
	return plan
}

// finalSchema appends the derived and audit columns every staged table
// carries.
func finalSchema(observed table.Schema) table.Schema {
	extra := []string{}
	if observed.Has(table.ColTaxRate) {
		extra = append(extra, table.ColTaxRateNumeric)
	}
	if observed.Has(table.ColInvoiceDate) {
		extra = append(extra, table.ColInvoiceYear)
	}
	extra = append(extra, table.ColAuditSrcFile, table.ColAuditImportTime)
	return observed.Union(extra...)
}

func scanDocument(fr fileval.Result) (Document, error) {
	f, err := excelize.OpenFile(fr.Path)
	if err != nil {
		return Document{}, err
	}
	defer f.Close()

	doc := Document{Path: fr.Path, SizeBytes: fr.SizeBytes}
	for _, sheet := range f.GetSheetList() {
		header, err := readHeader(f, sheet)
		if err != nil {
			return Document{}, err
		}
		doc.Sheets = append(doc.Sheets, SheetPlan{Name: sheet, Header: header, Class: classify.Classify(sheet, header)})
	}
	return doc, nil
}

// readHeader reads only the first row of a sheet.
func readHeader(f *excelize.File, sheet string) ([]string, error) {
	it, err := f.Rows(sheet)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	if !it.Next() {
		return nil, it.Error()
	}
	return it.Columns()
}
