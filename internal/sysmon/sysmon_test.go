package sysmon

import (
	"runtime"
	"testing"
)

func TestChooseWorkerCount(t *testing.T) {
	opts := DefaultOptions()

	tests := []struct {
		name       string
		fileCount  int
		configured int
		diskBusy   float64
		want       int
	}{
		{"explicit value wins", 100, 4, 0, 4},
		{"capped at file count", 2, 8, 0, 2},
		{"busy disk halves pool", 100, 8, 90, 4},
		{"busy reduction floors at min", 100, 1, 90, 1},
		{"zero files keeps target", 0, 3, 0, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChooseWorkerCount(tt.fileCount, tt.configured, tt.diskBusy, opts)
			if got != tt.want {
				t.Errorf("ChooseWorkerCount() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestChooseWorkerCountAuto(t *testing.T) {
	got := ChooseWorkerCount(1000, 0, 0, DefaultOptions())
	want := runtime.NumCPU() - 1
	if want < 1 {
		want = 1
	}
	if got != want {
		t.Errorf("auto worker count = %d, want %d", got, want)
	}
}

func TestChooseWorkerCountNeverZero(t *testing.T) {
	opts := DefaultOptions()
	opts.MinWorkers = 0
	for _, configured := range []int{0, 1, 2, 16} {
		for _, busy := range []float64{0, 50, 75, 100} {
			got := ChooseWorkerCount(5, configured, busy, opts)
			if got < 1 {
				t.Fatalf("worker count %d for configured=%d busy=%.0f", got, configured, busy)
			}
		}
	}
}

func TestChooseWorkerCountMonotonicInFiles(t *testing.T) {
	opts := DefaultOptions()
	prev := 0
	for files := 1; files <= 32; files++ {
		got := ChooseWorkerCount(files, 16, 0, opts)
		if got < prev {
			t.Fatalf("worker count decreased from %d to %d at %d files", prev, got, files)
		}
		prev = got
	}
}

func TestStreamDecision(t *testing.T) {
	opts := DefaultOptions()

	tests := []struct {
		name        string
		sizeMB      float64
		usedPercent float64
		availableMB float64
		want        bool
	}{
		{"small file, idle system", 10, 20, 8000, false},
		{"large file forces streaming", 150, 20, 8000, true},
		{"memory pressure forces streaming", 10, 80, 8000, true},
		{"file near available memory", 50, 20, 100, true},
		{"boundary: exactly at used threshold", 10, 75, 8000, true},
		{"boundary: exactly at large-file size", 100, 20, 8000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := streamDecision(tt.sizeMB, tt.usedPercent, tt.availableMB, opts)
			if got != tt.want {
				t.Errorf("streamDecision(%v, %v, %v) = %v, want %v",
					tt.sizeMB, tt.usedPercent, tt.availableMB, got, tt.want)
			}
		})
	}
}

func TestDynamicChunkSizeClamped(t *testing.T) {
	got := DynamicChunkSize(10000)
	if got < 5000 || got > 100000 {
		t.Errorf("DynamicChunkSize out of range: %d", got)
	}
}
