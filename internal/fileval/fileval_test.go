package fileval

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		path     string
		wantSkip bool
		wantErr  bool
	}{
		{"valid xlsx", writeFile(t, dir, "a.xlsx", 10), false, false},
		{"valid xls", writeFile(t, dir, "b.xls", 10), false, false},
		{"uppercase extension", writeFile(t, dir, "c.XLSX", 10), false, false},
		{"lock file skipped", writeFile(t, dir, "~$a.xlsx", 10), true, false},
		{"wrong extension", writeFile(t, dir, "d.csv", 10), false, true},
		{"empty file", writeFile(t, dir, "e.xlsx", 0), false, true},
		{"missing file", filepath.Join(dir, "nope.xlsx"), false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Validate(tt.path, 100)
			if r.Skip != tt.wantSkip {
				t.Errorf("Skip = %v, want %v", r.Skip, tt.wantSkip)
			}
			if (r.Err != nil) != tt.wantErr {
				t.Errorf("Err = %v, want error %v", r.Err, tt.wantErr)
			}
		})
	}
}

func TestValidateSizeCap(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "big.xlsx", 2*1024*1024)

	if r := Validate(path, 1); r.Err == nil {
		t.Error("2MB file passed a 1MB cap")
	}
	if r := Validate(path, 0); r.Err != nil {
		t.Errorf("zero cap should disable the check, got %v", r.Err)
	}
}

func TestScanPartitionsFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.xlsx", 10)
	writeFile(t, dir, "bad.txt", 10)
	writeFile(t, dir, "~$good.xlsx", 10)
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	accepted, failed, err := Scan(dir, 100)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(accepted) != 1 || filepath.Base(accepted[0].Path) != "good.xlsx" {
		t.Errorf("accepted = %v", accepted)
	}
	if len(failed) != 1 || filepath.Base(failed[0].Path) != "bad.txt" {
		t.Errorf("failed = %v", failed)
	}
}
