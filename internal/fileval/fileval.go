// Package fileval validates workbook files before they reach a worker.
package fileval

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Extensions the importer accepts.
var allowedExtensions = map[string]bool{
	".xlsx": true,
	".xls":  true,
	".xlsm": true,
}

// Result is the validation outcome for one file.
type Result struct {
	Path      string
	SizeBytes int64
	// Skip marks files silently ignored (Office lock files).
	Skip bool
	// Err is non-nil when the file must be reported as failed.
	Err error
}

// Validate checks one candidate file. Lock files (~$ prefix) are
// skipped without error; everything else either passes or fails with a
// reportable reason.
func Validate(path string, maxSizeMB int) Result {
	r := Result{Path: path}

	if strings.HasPrefix(filepath.Base(path), "~$") {
		r.Skip = true
		return r
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !allowedExtensions[ext] {
		r.Err = fmt.Errorf("unsupported file type %q", ext)
		return r
	}

	info, err := os.Stat(path)
	if err != nil {
		r.Err = fmt.Errorf("stating file: %w", err)
		return r
	}
	if info.IsDir() {
		r.Err = fmt.Errorf("is a directory")
		return r
	}
	r.SizeBytes = info.Size()
	if info.Size() == 0 {
		r.Err = fmt.Errorf("file is empty")
		return r
	}
	if maxSizeMB > 0 && info.Size() > int64(maxSizeMB)*1024*1024 {
		r.Err = fmt.Errorf("file size %d MB exceeds limit %d MB", info.Size()/(1024*1024), maxSizeMB)
		return r
	}
	return r
}

// Scan walks dir non-recursively and validates every entry. The
// returned slices are the accepted files and the failed ones; lock
// files appear in neither.
func Scan(dir string, maxSizeMB int) (accepted, failed []Result, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("scanning input dir %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		res := Validate(filepath.Join(dir, e.Name()), maxSizeMB)
		switch {
		case res.Skip:
		case res.Err != nil:
			failed = append(failed, res)
		default:
			accepted = append(accepted, res)
		}
	}
	return accepted, failed, nil
}
