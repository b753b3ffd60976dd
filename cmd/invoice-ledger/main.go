package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/auditkit/invoice-ledger/internal/config"
	"github.com/auditkit/invoice-ledger/internal/fileval"
	"github.com/auditkit/invoice-ledger/internal/ingest"
	"github.com/auditkit/invoice-ledger/internal/ledger"
	"github.com/auditkit/invoice-ledger/internal/logging"
	"github.com/auditkit/invoice-ledger/internal/merge"
	"github.com/auditkit/invoice-ledger/internal/metrics"
	"github.com/auditkit/invoice-ledger/internal/normalize"
	"github.com/auditkit/invoice-ledger/internal/report"
	"github.com/auditkit/invoice-ledger/internal/store"
	"github.com/auditkit/invoice-ledger/internal/sysmon"
	"github.com/auditkit/invoice-ledger/internal/table"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	logging.Setup(logging.Config{
		Format: os.Getenv("LOG_FORMAT"),
		Level:  os.Getenv("LOG_LEVEL"),
	})

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	if cfg.Metrics.Enabled {
		metrics.Init("invoice_ledger")
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				slog.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		slog.Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		if ctx.Err() != nil {
			slog.Info("run cancelled")
			os.Exit(1)
		}
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	started := time.Now()
	runID := logging.GenerateRunID()
	tag := cfg.Input.CompanyTag
	log := logging.RunLogger(runID, tag)
	importTime := started.UTC().Format("2006-01-02 15:04:05")

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	accepted, rejected, err := fileval.Scan(cfg.Input.Dir, cfg.Input.MaxFileSizeMB)
	if err != nil {
		return err
	}
	log.Info("input scanned", "accepted", len(accepted), "rejected", len(rejected))

	var errs []report.ErrorRecord
	for _, r := range rejected {
		errs = append(errs, report.NewError(r.Path, "", report.StageRead, r.Err))
	}

	plan := ingest.PreScan(accepted, tag, log)
	errs = append(errs, plan.ScanFailed...)

	smOpts := sysmon.Options{
		LargeFileMB:            cfg.Memory.LargeFileMB,
		StreamSwitchPercent:    cfg.Memory.StreamSwitchPercent,
		AvailableFraction:      cfg.Memory.AvailableFraction,
		IOBusyThresholdPercent: cfg.Workers.IOBusyThresholdPercent,
		ReduceFactor:           cfg.Workers.ReduceFactor,
		MinWorkers:             cfg.Workers.Min,
	}
	busy, sampled := sysmon.DiskBusyPercent(200 * time.Millisecond)
	if !sampled {
		busy = 0
	}
	workers := sysmon.ChooseWorkerCount(len(plan.Documents), cfg.Workers.Count, busy, smOpts)
	log.Info("workers sized", "workers", workers, "disk_busy_percent", busy, "files", len(plan.Documents))
	if m := metrics.Get(); m != nil {
		m.SetWorkerPoolSize(float64(workers))
		m.AddFilesSkipped(tag, float64(len(rejected)))
	}

	ingOpts := ingest.Options{
		Tag:               tag,
		ShardDir:          cfg.Database.ShardDir,
		ImportTime:        importTime,
		Workers:           workers,
		StreamChunkRows:   cfg.Memory.StreamChunkRows,
		InsertChunkRows:   cfg.Database.InsertChunkRows,
		MaxFailureSamples: cfg.Normalize.MaxFailureSamples,
		Normalize: normalize.Options{
			TaxTextToZero:    cfg.Normalize.TaxTextToZero,
			DateSuccessRatio: cfg.Normalize.DateSuccessRatio,
		},
		Sysmon:         smOpts,
		HandoffTimeout: 100 * time.Millisecond,
	}

	var ingRes ingest.Result
	if cfg.Workers.Sequential {
		ingRes, err = ingest.RunSequential(ctx, plan, st, ingOpts)
	} else {
		ingRes, err = ingest.Run(ctx, plan, ingOpts)
	}
	if err != nil {
		return err
	}
	errs = append(errs, ingRes.Errors...)

	var rowsMerged int64
	if !cfg.Workers.Sequential {
		mergeRes, err := merge.Run(ctx, st, cfg.Database.ShardDir, tag, plan.Schemas, cfg.Database.InsertChunkRows)
		if err != nil {
			return err
		}
		errs = append(errs, mergeRes.Errors...)
		for name, n := range mergeRes.RowsMerged {
			rowsMerged += n
			if m := metrics.Get(); m != nil {
				m.AddRowsMerged(tag, name, float64(n))
			}
		}
		if err := merge.Cleanup(cfg.Database.ShardDir); err != nil {
			log.Warn("shard cleanup failed", "error", err)
		}
	}

	ledRes, err := ledger.Build(ctx, st, tag, importTime)
	if err != nil {
		return err
	}
	errs = append(errs, ledRes.Errors...)

	// The transit table only exists to absorb unconsolidated detail
	// sheets for one run.
	if err := store.DropTable(ctx, st.DB(), table.TransitTable(tag)); err != nil {
		log.Warn("transit table drop failed", "error", err)
	}

	recordMetrics(tag, ingRes, ledRes, errs)
	writeReports(ctx, cfg, runID, started, tag, plan, ingRes, ledRes, rowsMerged, len(accepted)+len(rejected), errs, log)

	log.Info("run complete",
		"files_processed", ingRes.FilesProcessed,
		"files_failed", ingRes.FilesFailed,
		"rows_merged", rowsMerged,
		"partitions", len(ledRes.Partitions),
		"errors", len(errs),
		"duration", time.Since(started).Round(time.Millisecond).String(),
	)
	return nil
}

// recordMetrics publishes the run outcome. A no-op when the metrics
// endpoint is disabled.
func recordMetrics(tag string, ingRes ingest.Result, ledRes ledger.Result, errs []report.ErrorRecord) {
	m := metrics.Get()
	if m == nil {
		return
	}
	for i := 0; i < ingRes.FilesProcessed; i++ {
		m.IncFilesProcessed(tag)
	}
	for i := 0; i < ingRes.FilesFailed; i++ {
		m.IncFilesFailed(tag)
	}
	for _, p := range ledRes.Partitions {
		m.IncPartitionsRebuilt(tag, string(p.Type))
	}
	for typ, rows := range ledRes.Duplicates {
		m.AddDuplicatesDetected(tag, string(typ), float64(len(rows)))
	}
	for _, e := range errs {
		m.IncStageErrors(tag, string(e.Stage))
	}
}

// writeReports emits every export. The report target is non-critical;
// failures are logged and the run still succeeds.
func writeReports(ctx context.Context, cfg config.Config, runID string, started time.Time, tag string, plan ingest.Plan, ingRes ingest.Result, ledRes ledger.Result, rowsMerged int64, totalFiles int, errs []report.ErrorRecord, log *slog.Logger) {
	rw, err := report.NewWriter(ctx, cfg.Report.Dir, runID)
	if err != nil {
		log.Warn("report target unavailable", "error", err)
		return
	}
	defer rw.Close()

	summary := report.Summary{
		RunID:          runID,
		CompanyTag:     tag,
		StartedAt:      started.UTC(),
		FinishedAt:     time.Now().UTC(),
		TotalFiles:     totalFiles,
		FilesProcessed: ingRes.FilesProcessed,
		ScanFailed:     len(plan.ScanFailed),
		ReadFailed:     ingRes.FilesFailed,
		RowsMerged:     rowsMerged,
		ErrorCount:     len(errs),
	}

	var ledgerEntries []report.LedgerEntry
	for _, p := range ledRes.Partitions {
		ledgerEntries = append(ledgerEntries, report.LedgerEntry{
			Year:        p.Year,
			Type:        string(p.Type),
			RowsFetched: p.RowsFetched,
			RowsKept:    p.RowsKept,
			RowsDropped: p.RowsDropped,
		})
	}
	rw.WriteAll(ctx, ingRes.Manifest, summary, ledgerEntries, errs)

	if err := rw.WriteCastStats(ctx, ingRes.Recorder.Stats()); err != nil {
		log.Warn("cast stat export failed", "error", err)
	}
	if err := rw.WriteFailureSamples(ctx, ingRes.Recorder.Samples()); err != nil {
		log.Warn("failure sample export failed", "error", err)
	}
	for typ, rows := range ledRes.Duplicates {
		err := rw.WriteDuplicates(ctx, string(typ), ledRes.DuplicateColumns[typ], rows, cfg.Report.DuplicateExportMaxRows)
		if err != nil {
			log.Warn("duplicate export failed", "type", string(typ), "error", err)
		}
	}
}
