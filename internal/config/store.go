// Package config persists user settings in a local SQLite database.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"media-encoder/internal/domain"
)

// Store defines persistence operations for app settings.
type Store interface {
	Load() (domain.Settings, error)
	Save(domain.Settings) error
}

// settingRow is one key/value pair in the settings table.
type settingRow struct {
	Key   string `gorm:"primaryKey;column:key"`
	Value string `gorm:"column:value"`
}

// TableName keeps the table compatible with earlier releases.
func (settingRow) TableName() string { return "settings" }

// Setting keys. Values are stored as strings and converted on load.
const (
	keyDestinationDir    = "destination_dir"
	keyPresetDir         = "preset_dir"
	keyTargetSizeMB      = "target_size_mb"
	keyAudioBitrates     = "audio_bitrates"
	keyVideoEncoder      = "video_encoder"
	keyAudioEncoder      = "audio_encoder"
	keyProcessPriority   = "process_priority"
	keyVariableBitrate   = "variable_bitrate"
	keyMultiPass         = "multi_pass"
	keyDeleteSource      = "delete_source_files"
	keyPerFileOutputOnly = "per_file_output_only"
	keyMaxConcurrent     = "max_concurrent"
	keyContainerOverhead = "container_overhead"
	keyMinVideoKbps      = "min_video_kbps"
)

// SQLiteStore persists settings as key/value rows in a SQLite file,
// using the pure Go driver so builds stay CGO-free.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens (or creates) the settings database at path and
// migrates the settings table.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating settings directory: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening settings database: %w", err)
	}

	if err := db.AutoMigrate(&settingRow{}); err != nil {
		return nil, fmt.Errorf("migrating settings table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Load reads stored settings, filling any missing keys from defaults.
func (s *SQLiteStore) Load() (domain.Settings, error) {
	var rows []settingRow
	if err := s.db.Find(&rows).Error; err != nil {
		return domain.Settings{}, fmt.Errorf("loading settings: %w", err)
	}

	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row.Key] = row.Value
	}

	cfg := DefaultSettings()
	applyString(values, keyDestinationDir, &cfg.DestinationDir)
	applyString(values, keyPresetDir, &cfg.PresetDir)
	applyFloat(values, keyTargetSizeMB, &cfg.TargetSizeMB)
	applyString(values, keyAudioBitrates, &cfg.AudioBitrates)
	applyString(values, keyVideoEncoder, &cfg.VideoEncoder)
	applyString(values, keyAudioEncoder, &cfg.AudioEncoder)
	applyBool(values, keyVariableBitrate, &cfg.VariableBitrate)
	applyBool(values, keyMultiPass, &cfg.MultiPass)
	applyBool(values, keyDeleteSource, &cfg.DeleteSource)
	applyBool(values, keyPerFileOutputOnly, &cfg.PerFileOutputOnly)
	applyInt(values, keyMaxConcurrent, &cfg.MaxConcurrent)
	applyFloat(values, keyContainerOverhead, &cfg.ContainerOverhead)
	applyInt(values, keyMinVideoKbps, &cfg.MinVideoKbps)

	if raw, ok := values[keyProcessPriority]; ok {
		switch p := domain.Priority(raw); p {
		case domain.PriorityNormal, domain.PriorityBelowNormal, domain.PriorityLow:
			cfg.ProcessPriority = p
		}
	}

	return cfg, nil
}

// Save upserts every setting as a key/value row.
func (s *SQLiteStore) Save(cfg domain.Settings) error {
	rows := []settingRow{
		{keyDestinationDir, cfg.DestinationDir},
		{keyPresetDir, cfg.PresetDir},
		{keyTargetSizeMB, strconv.FormatFloat(cfg.TargetSizeMB, 'f', -1, 64)},
		{keyAudioBitrates, cfg.AudioBitrates},
		{keyVideoEncoder, cfg.VideoEncoder},
		{keyAudioEncoder, cfg.AudioEncoder},
		{keyProcessPriority, string(cfg.ProcessPriority)},
		{keyVariableBitrate, strconv.FormatBool(cfg.VariableBitrate)},
		{keyMultiPass, strconv.FormatBool(cfg.MultiPass)},
		{keyDeleteSource, strconv.FormatBool(cfg.DeleteSource)},
		{keyPerFileOutputOnly, strconv.FormatBool(cfg.PerFileOutputOnly)},
		{keyMaxConcurrent, strconv.Itoa(cfg.MaxConcurrent)},
		{keyContainerOverhead, strconv.FormatFloat(cfg.ContainerOverhead, 'f', -1, 64)},
		{keyMinVideoKbps, strconv.Itoa(cfg.MinVideoKbps)},
	}

	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}

func applyString(values map[string]string, key string, dst *string) {
	if v, ok := values[key]; ok {
		*dst = v
	}
}

func applyBool(values map[string]string, key string, dst *bool) {
	if v, ok := values[key]; ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dst = parsed
		}
	}
}

func applyInt(values map[string]string, key string, dst *int) {
	if v, ok := values[key]; ok {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func applyFloat(values map[string]string, key string, dst *float64) {
	if v, ok := values[key]; ok {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = parsed
		}
	}
}
