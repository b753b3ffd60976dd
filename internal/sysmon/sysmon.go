// Package sysmon samples system memory and disk busy-ness to drive two
// admission-control decisions: how many ingestion workers to run, and
// whether a given file should be read in streaming mode. Both are
// coarse, once-per-run heuristics, not a live scheduler.
package sysmon

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// Options carries the thresholds from the run configuration.
type Options struct {
	// LargeFileMB forces streaming for files above this size.
	LargeFileMB float64
	// StreamSwitchPercent forces streaming when system memory usage is
	// at or above this percentage.
	StreamSwitchPercent float64
	// AvailableFraction forces streaming when the file exceeds this
	// fraction of currently available memory.
	AvailableFraction float64
	// IOBusyThresholdPercent scales down the worker pool when a short
	// disk-busy sample is at or above it.
	IOBusyThresholdPercent float64
	// ReduceFactor is the worker-count reduction applied when busy.
	ReduceFactor float64
	// MinWorkers floors the reduced worker count.
	MinWorkers int
}

// DefaultOptions mirror the run defaults.
func DefaultOptions() Options {
	return Options{
		LargeFileMB:            100,
		StreamSwitchPercent:    75,
		AvailableFraction:      0.4,
		IOBusyThresholdPercent: 75,
		ReduceFactor:           0.5,
		MinWorkers:             1,
	}
}

// ChooseWorkerCount sizes the ingestion worker pool. configured <= 0
// means "auto" (logical CPUs minus one). The result is capped at the
// file count and scaled down when the disk-busy sample is at or above
// the threshold, floored at MinWorkers.
func ChooseWorkerCount(fileCount, configured int, diskBusyPercent float64, opts Options) int {
	target := configured
	if target <= 0 {
		target = runtime.NumCPU() - 1
	}
	if target < 1 {
		target = 1
	}
	if fileCount > 0 && target > fileCount {
		target = fileCount
	}

	if diskBusyPercent >= opts.IOBusyThresholdPercent {
		reduced := int(float64(target) * opts.ReduceFactor)
		minWorkers := opts.MinWorkers
		if minWorkers < 1 {
			minWorkers = 1
		}
		if reduced < minWorkers {
			reduced = minWorkers
		}
		target = reduced
	}

	if target < 1 {
		return 1
	}
	return target
}

// DiskBusyPercent samples aggregate disk read+write time over a short
// window and converts it to a busy percentage. ok is false when the
// platform exposes no counters.
func DiskBusyPercent(window time.Duration) (pct float64, ok bool) {
	before, err := disk.IOCounters()
	if err != nil || len(before) == 0 {
		return 0, false
	}
	time.Sleep(window)
	after, err := disk.IOCounters()
	if err != nil || len(after) == 0 {
		return 0, false
	}

	var deltaMs uint64
	for name, b := range before {
		a, found := after[name]
		if !found {
			continue
		}
		deltaMs += (a.ReadTime - b.ReadTime) + (a.WriteTime - b.WriteTime)
	}

	pct = float64(deltaMs) / float64(window.Milliseconds()) * 100
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct, true
}

// ShouldStream decides whether a file must be read in streaming mode.
// Any sampling failure falls back to batch mode.
func ShouldStream(fileSizeBytes int64, opts Options) bool {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return false
	}
	return streamDecision(float64(fileSizeBytes)/(1024*1024), vm.UsedPercent, float64(vm.Available)/(1024*1024), opts)
}

// streamDecision is the pure core of ShouldStream.
func streamDecision(fileSizeMB, usedPercent, availableMB float64, opts Options) bool {
	if fileSizeMB > opts.LargeFileMB {
		return true
	}
	if usedPercent >= opts.StreamSwitchPercent {
		return true
	}
	if fileSizeMB > availableMB*opts.AvailableFraction {
		return true
	}
	return false
}

// DynamicChunkSize derives a streaming chunk size from available
// memory, clamped to a sane range. fallback is used when sampling fails.
func DynamicChunkSize(fallback int) int {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return fallback
	}
	availableMB := float64(vm.Available) / (1024 * 1024)
	size := int(availableMB * 0.1 * 1024)
	if size < 5000 {
		size = 5000
	}
	if size > 100000 {
		size = 100000
	}
	return size
}
