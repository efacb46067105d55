package database

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"nestsync/internal/config"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// BackupService periodically snapshots the sync database so a corrupted
// device store can be rebuilt without losing queued operations or the error
// ledger.
type BackupService struct {
	dbPath string
	cfg    config.BackupConfig
	logger *zerolog.Logger
}

func NewBackupService(dbPath string, cfg config.BackupConfig, logger *zerolog.Logger) *BackupService {
	return &BackupService{dbPath: dbPath, cfg: cfg, logger: logger}
}

// Start runs the snapshot loop until ctx is done. The first snapshot happens
// immediately.
func (s *BackupService) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}

	interval := s.interval()
	s.logger.Info().Dur("interval", interval).Msg("backup service started")

	if err := s.Snapshot(); err != nil {
		s.logger.Error().Err(err).Msg("snapshot failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Snapshot(); err != nil {
				s.logger.Error().Err(err).Msg("snapshot failed")
			}
			s.Prune()
		}
	}
}

func (s *BackupService) interval() time.Duration {
	if d, err := time.ParseDuration(s.cfg.Schedule); err == nil && d > 0 {
		return d
	}
	if s.cfg.Schedule != "" {
		s.logger.Warn().Str("schedule", s.cfg.Schedule).Msg("unparseable backup schedule, using 24h")
	}
	return 24 * time.Hour
}

// Snapshot writes a timestamped copy of the database. VACUUM INTO is safe
// against a live writer; a plain file copy is the fallback when it fails.
func (s *BackupService) Snapshot() error {
	if err := os.MkdirAll(s.cfg.StoragePath, 0o755); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}
	target := filepath.Join(s.cfg.StoragePath, fmt.Sprintf("backup_%s.db", time.Now().Format("20060102_150405")))

	db, err := sql.Open("sqlite3", s.dbPath)
	if err != nil {
		return fmt.Errorf("open source database: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec(fmt.Sprintf("VACUUM INTO '%s'", target)); err != nil {
		s.logger.Warn().Err(err).Msg("vacuum into failed, copying file instead")
		if err := copyFile(s.dbPath, target); err != nil {
			return fmt.Errorf("fallback copy: %w", err)
		}
	}

	s.logger.Info().Str("path", target).Msg("snapshot written")
	return nil
}

// Prune deletes snapshots older than the retention window.
func (s *BackupService) Prune() {
	if s.cfg.RetentionDays <= 0 {
		return
	}
	entries, err := os.ReadDir(s.cfg.StoragePath)
	if err != nil {
		s.logger.Error().Err(err).Msg("read backup directory")
		return
	}

	cutoff := time.Now().AddDate(0, 0, -s.cfg.RetentionDays)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.cfg.StoragePath, entry.Name())); err != nil {
			s.logger.Error().Err(err).Str("file", entry.Name()).Msg("delete old snapshot")
			continue
		}
		s.logger.Info().Str("file", entry.Name()).Msg("old snapshot deleted")
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
