// Package importer runs export files from disk through the pipeline.
package importer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/MikeSquared-Agency/cartographer/internal/export"
)

// Processor runs one export to completion and returns its run id.
type Processor interface {
	Process(ctx context.Context, data []byte) (string, error)
}

type Config struct {
	// Paths are export files or directories of *.json exports.
	Paths     []string
	StatePath string
	// Force re-imports content that the state says was already imported.
	Force  bool
	DryRun bool
}

// Report counts the outcome of one Run. Every file is a full export, so
// LastRunID names the run whose data the service now serves.
type Report struct {
	Imported  int
	Skipped   int
	Failed    int
	LastRunID string
}

type Runner struct {
	cfg    Config
	proc   Processor
	logger *slog.Logger
}

func NewRunner(cfg Config, proc Processor, logger *slog.Logger) *Runner {
	if cfg.StatePath == "" {
		cfg.StatePath = DefaultStatePath
	}
	return &Runner{cfg: cfg, proc: proc, logger: logger}
}

func (r *Runner) Run(ctx context.Context) (Report, error) {
	var report Report

	state, err := LoadState(r.cfg.StatePath)
	if err != nil {
		return report, fmt.Errorf("load state: %w", err)
	}

	files, err := discoverFiles(r.cfg.Paths)
	if err != nil {
		return report, fmt.Errorf("discover files: %w", err)
	}
	r.logger.Info("files discovered", "count", len(files), "dry_run", r.cfg.DryRun)

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			r.logger.Info("import interrupted, saving state")
			_ = state.Save()
			return report, err
		}

		data, err := os.ReadFile(path)
		if err != nil {
			r.logger.Warn("failed to read export", "path", path, "error", err)
			state.AddError(fmt.Sprintf("read %s: %v", path, err))
			report.Failed++
			continue
		}
		sum := sha256.Sum256(data)
		sha := hex.EncodeToString(sum[:])

		if prev, ok := state.Lookup(sha); ok && !r.cfg.Force {
			r.logger.Info("skipping imported export", "path", path, "run_id", prev.RunID, "imported_at", prev.ImportedAt)
			report.Skipped++
			continue
		}

		if r.cfg.DryRun {
			convs, err := export.Parse(bytes.NewReader(data))
			if err != nil {
				r.logger.Warn("export would fail to parse", "path", path, "error", err)
				report.Failed++
				continue
			}
			r.logger.Info("would import export", "path", path, "conversations", len(convs))
			continue
		}

		r.logger.Info("importing export", "path", path, "bytes", len(data))
		runID, err := r.proc.Process(ctx, data)
		if err != nil {
			r.logger.Error("import failed", "path", path, "run_id", runID, "error", err)
			state.AddError(fmt.Sprintf("import %s: %v", path, err))
			report.Failed++
			continue
		}

		state.Record(Import{Path: path, SHA256: sha, RunID: runID, ImportedAt: time.Now().UTC()})
		report.Imported++
		report.LastRunID = runID
		r.logger.Info("export imported", "path", path, "run_id", runID)
	}

	if !r.cfg.DryRun {
		if err := state.Save(); err != nil {
			return report, fmt.Errorf("save state: %w", err)
		}
	}
	r.logger.Info("import complete",
		"imported", report.Imported,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	return report, nil
}

// discoverFiles expands directories to the *.json files directly inside
// them. Explicit file paths are kept in the order given.
func discoverFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(p, "*.json"))
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		files = append(files, matches...)
	}
	return files, nil
}
