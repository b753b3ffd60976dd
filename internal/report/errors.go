package report

// Stage identifies where in the pipeline an error was caught. The
// taxonomy follows processing stages, not Go error types.
type Stage string

const (
	StageScan        Stage = "scan"
	StageRead        Stage = "read"
	StageCast        Stage = "cast"
	StageWrite       Stage = "write"
	StageMerge       Stage = "merge"
	StageTransaction Stage = "transaction"
)

// ErrorRecord is one recovered failure. Records accumulate through the
// run and are exported at the end; they never block progress.
type ErrorRecord struct {
	File    string `json:"file"`
	Sheet   string `json:"sheet,omitempty"`
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
	Remedy  string `json:"remedy"`
}

// remedies is the fixed best-effort suggestion lookup per stage.
var remedies = map[Stage]string{
	StageScan:        "open the workbook in a spreadsheet program and re-save it; remove password protection",
	StageRead:        "check the file is a valid xlsx/xls workbook and is not truncated or locked by another program",
	StageCast:        "inspect the reported column for mixed formats; fix the source cells or accept the null values",
	StageWrite:       "check free disk space and permissions on the shard directory",
	StageMerge:       "check free disk space and that no other process holds the database; re-run to re-merge",
	StageTransaction: "close other programs using the database file and re-run; the affected table was rolled back",
}

// Remedy returns the suggestion for a stage, or an empty string.
func Remedy(stage Stage) string {
	return remedies[stage]
}

// NewError builds an ErrorRecord with its remedy attached.
func NewError(file, sheet string, stage Stage, err error) ErrorRecord {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return ErrorRecord{
		File:    file,
		Sheet:   sheet,
		Stage:   stage,
		Message: msg,
		Remedy:  Remedy(stage),
	}
}
