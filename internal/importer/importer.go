package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"nestsync/internal/domain"
	"nestsync/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// Mode selects the reconciliation strategy.
type Mode string

const (
	// ModeMerge upserts every record. A colliding id is overwritten, not
	// skipped: checking existence per record against the remote store was
	// judged too slow, so merge deliberately degrades to overwrite.
	ModeMerge Mode = "merge"
	// ModeReplace drops the owner's remote collection first.
	ModeReplace Mode = "replace"
)

// ParseMode validates a strategy string.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeMerge:
		return ModeMerge, nil
	case ModeReplace:
		return ModeReplace, nil
	default:
		return "", fmt.Errorf("unknown import mode %q (want merge or replace)", s)
	}
}

// Report summarizes one reconciliation run.
type Report struct {
	Total   int      `json:"total"`
	Applied int      `json:"applied"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// Importer applies an externally supplied dataset through the same backend
// write path the queue uses. One-shot and non-queued: failures are reported,
// not retried.
type Importer struct {
	backend domain.Backend
	logger  *zerolog.Logger
}

func New(backend domain.Backend, logger *zerolog.Logger) *Importer {
	return &Importer{backend: backend, logger: logger}
}

// ImportFile loads a dataset (.json or .xlsx) and applies it for the owner.
func (i *Importer) ImportFile(ctx context.Context, path, ownerID string, mode Mode) (*Report, error) {
	var (
		records []models.RemoteRecord
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		records, err = loadJSON(path)
	case ".xlsx":
		records, err = loadXLSX(path)
	default:
		return nil, fmt.Errorf("unsupported dataset format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	return i.Apply(ctx, ownerID, records, mode)
}

// Apply runs the reconciliation. replace clears the owner's collection before
// writing; merge upserts in place.
func (i *Importer) Apply(ctx context.Context, ownerID string, records []models.RemoteRecord, mode Mode) (*Report, error) {
	if mode != ModeMerge && mode != ModeReplace {
		return nil, fmt.Errorf("unknown import mode %q", mode)
	}

	if mode == ModeReplace {
		if err := i.backend.DeleteOwner(ctx, ownerID); err != nil {
			return nil, fmt.Errorf("clear remote collection: %w", err)
		}
	}

	report := &Report{Total: len(records)}
	for idx := range records {
		rec := &records[idx]
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		rec.OwnerID = ownerID
		if rec.UpdatedAt.IsZero() {
			rec.UpdatedAt = time.Now()
		}

		if err := i.backend.Upsert(ctx, rec); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", rec.ID, err))
			i.logger.Error().Err(err).Str("record_id", rec.ID).Msg("import record failed")
			continue
		}
		report.Applied++
	}

	i.logger.Info().
		Str("owner", ownerID).
		Str("mode", string(mode)).
		Int("total", report.Total).
		Int("applied", report.Applied).
		Int("failed", report.Failed).
		Msg("reconciliation completed")
	return report, nil
}

func loadJSON(path string) ([]models.RemoteRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []models.RemoteRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse dataset: %w", err)
	}
	return records, nil
}

// loadXLSX reads the first sheet with columns id, type, updated_at, data.
// The header row is required; updated_at is RFC 3339 and optional.
func loadXLSX(path string) ([]models.RemoteRecord, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q is empty", sheet)
	}

	col := make(map[string]int)
	for idx, name := range rows[0] {
		col[strings.ToLower(strings.TrimSpace(name))] = idx
	}
	for _, required := range []string{"id", "type", "data"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("sheet %q is missing column %q", sheet, required)
		}
	}

	cell := func(row []string, name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	var records []models.RemoteRecord
	for _, row := range rows[1:] {
		rec := models.RemoteRecord{
			ID:   cell(row, "id"),
			Type: cell(row, "type"),
			Data: cell(row, "data"),
		}
		if rec.Type == "" && rec.Data == "" {
			continue
		}
		if raw := cell(row, "updated_at"); raw != "" {
			if ts, err := time.Parse(time.RFC3339, raw); err == nil {
				rec.UpdatedAt = ts
			}
		}
		records = append(records, rec)
	}
	return records, nil
}
