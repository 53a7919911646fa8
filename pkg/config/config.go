package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rincr/rincr/pkg/buildinfo"
	"github.com/rincr/rincr/pkg/flagparse"
	"github.com/rincr/rincr/pkg/lockdir"
	"github.com/rincr/rincr/pkg/metafile"
	"github.com/rincr/rincr/pkg/plog"
	"github.com/rincr/rincr/pkg/timestamp"
	"github.com/rincr/rincr/pkg/util"
)

// ConfigFileName is the name of the configuration file.
const ConfigFileName = "rincr.config.json"

// systemExcludePatterns is a slice of patterns that should always be excluded
// from the transfer for the system to function correctly. They protect the
// bookkeeping files in case a backup destination is itself inside the source.
var systemExcludePatterns = []string{metafile.MetaFileName, lockdir.LockDirName, ConfigFileName}

type NamingConfig struct {
	BackupDirPrefix     string `json:"backupDirPrefix"`
	IncompleteDirPrefix string `json:"incompleteDirPrefix"`
	CurrentLinkName     string `json:"currentLinkName"`
	TimeLayout          string `json:"timeLayout"`
}

type TransferConfig struct {
	RsyncPath string `json:"rsyncPath"`
	// DefaultExcludePatterns covers caches, runtime filesystems and other
	// locations that are pointless or unsafe to copy.
	DefaultExcludePatterns []string `json:"defaultExcludePatterns,omitempty"`
	// Note: omitempty is intentionally not used for user-configurable slices
	// so that they appear in the generated config file for better discoverability.
	UserExcludePatterns []string `json:"userExcludePatterns"`
	IncludePatterns     []string `json:"includePatterns"`
}

type RetentionConfig struct {
	Enabled bool `json:"enabled"`
	// DaysToKeep is the age at which a complete backup becomes eligible for
	// deletion. Backups exactly at the cutoff are deleted as well.
	DaysToKeep    int `json:"daysToKeep"`
	DeleteWorkers int `json:"deleteWorkers"`
}

type ExportConfig struct {
	Format string `json:"format"`
}

type HooksConfig struct {
	// PreBackup is a list of shell commands to execute before the transfer begins.
	// SECURITY: These commands are executed as provided. Ensure they are from a trusted source.
	PreBackup []string `json:"preBackup"`
	// PostBackup is a list of shell commands to execute after the run completes.
	// SECURITY: These commands are executed as provided. Ensure they are from a trusted source.
	PostBackup []string `json:"postBackup"`
}

type RuntimeConfig struct {
	DryRun bool
}

type Config struct {
	Version     string          `json:"version"`
	Source      string          `json:"source"`
	Destination string          `json:"-"` // Never added to config file
	Runtime     RuntimeConfig   `json:"-"` // Never added to config file
	LogLevel    string          `json:"logLevel"`
	FailFast    bool            `json:"failFast"`
	Naming      NamingConfig    `json:"naming"`
	Transfer    TransferConfig  `json:"transfer"`
	Retention   RetentionConfig `json:"retention"`
	Export      ExportConfig    `json:"export"`
	Hooks       HooksConfig     `json:"hooks"`
}

// NewDefault creates and returns a Config struct with sensible default values.
func NewDefault() Config {
	return Config{
		Version:  buildinfo.Version,
		Source:   "",     // Intentionally empty to force user configuration.
		LogLevel: "info", // Default log level.
		Runtime: RuntimeConfig{
			DryRun: false,
		},
		Naming: NamingConfig{
			BackupDirPrefix:     "backup-",
			IncompleteDirPrefix: "incomplete-backup-",
			CurrentLinkName:     "current",
			TimeLayout:          timestamp.DefaultLayout,
		},
		Transfer: TransferConfig{
			RsyncPath: "", // Empty means "rsync" from PATH.
			DefaultExcludePatterns: []string{
				"/home/*/.cache",
				"/home/*/.thumbnails",
				"/tmp/*",
				"/var/tmp/*",
				"/var/log/journal/*",
				"/dev/*",
				"/proc/*",
				"/sys/*",
				"/mnt/*",
			},
			UserExcludePatterns: []string{},
			IncludePatterns:     []string{},
		},
		Retention: RetentionConfig{
			Enabled:       true,
			DaysToKeep:    365, // Keep a year of history by default.
			DeleteWorkers: 4,   // A sensible default for deleting entire backup sets.
		},
		Export: ExportConfig{
			Format: "tar.zst",
		},
		Hooks: HooksConfig{
			PreBackup:  []string{},
			PostBackup: []string{},
		},
	}
}

// Load attempts to load a configuration from "rincr.config.json" in the
// destination directory. If the file doesn't exist, it returns the default
// config without an error. If the file exists but fails to parse, it returns
// an error and a zero-value config.
func Load(destination string) (Config, error) {
	absDestPath, err := util.AbsPath(destination)
	if err != nil {
		return Config{}, fmt.Errorf("could not determine absolute path for load directory %s: %w", destination, err)
	}

	configPath := filepath.Join(absDestPath, ConfigFileName)

	file, err := os.Open(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := NewDefault()
			cfg.Destination = absDestPath
			return cfg, nil // Config file doesn't exist, which is a normal case.
		}
		return Config{}, fmt.Errorf("error opening config file %s: %w", configPath, err)
	}
	defer file.Close()

	plog.Info("Loading configuration", "path", configPath)
	// Start with default values, then overwrite with the file's content.
	// This makes the config loading resilient to missing fields in the JSON file.
	config := NewDefault()
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&config); err != nil {
		return Config{}, fmt.Errorf("error parsing config file %s: %w", configPath, err)
	}
	config.Destination = absDestPath

	// At this point our config has been migrated if needed so override the version in the struct
	if config.Version != buildinfo.Version {
		config.Version = buildinfo.Version
	}
	return config, nil
}

// Generate creates or overwrites a rincr.config.json file in the destination
// directory of the given config.
func Generate(configToGenerate Config) error {
	configPath := filepath.Join(configToGenerate.Destination, ConfigFileName)
	jsonData, err := json.MarshalIndent(configToGenerate, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config to JSON: %w", err)
	}

	if err := os.WriteFile(configPath, jsonData, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	plog.Info("Successfully saved config file", "path", configPath)
	return nil
}

// Validate checks the configuration for logical errors and inconsistencies.
// It performs strict checks, including ensuring the source path is non-empty
// and exists when checkSource is set.
func (c *Config) Validate(checkSource bool) error {
	// --- Strict Path Validation (Fail-Fast) ---
	if checkSource && c.Source == "" {
		return fmt.Errorf("source path cannot be empty")
	}
	if c.Destination == "" {
		return fmt.Errorf("destination path cannot be empty")
	}

	var err error

	// --- Validate Source Path ---
	if c.Source != "" {
		c.Source, err = util.ExpandPath(c.Source)
		if err != nil {
			return fmt.Errorf("could not expand source path: %w", err)
		}
		c.Source = filepath.Clean(c.Source)

		if checkSource {
			if _, err := os.Stat(c.Source); os.IsNotExist(err) {
				return fmt.Errorf("source path '%s' does not exist", c.Source)
			}
		}
	}

	// --- Validate Destination Path ---
	c.Destination, err = util.ExpandPath(c.Destination)
	if err != nil {
		return fmt.Errorf("could not expand destination path: %w", err)
	}
	c.Destination = filepath.Clean(c.Destination)

	// --- Validate Naming ---
	if c.Naming.BackupDirPrefix == "" {
		return fmt.Errorf("naming.backupDirPrefix cannot be empty")
	}
	if c.Naming.IncompleteDirPrefix == "" {
		return fmt.Errorf("naming.incompleteDirPrefix cannot be empty")
	}
	if c.Naming.CurrentLinkName == "" {
		return fmt.Errorf("naming.currentLinkName cannot be empty")
	}
	if c.Naming.BackupDirPrefix == c.Naming.IncompleteDirPrefix {
		return fmt.Errorf("naming.backupDirPrefix and naming.incompleteDirPrefix cannot be the same")
	}
	// A complete name must never parse as incomplete or vice versa; with a
	// shared stem the longer prefix must be checked first, which the catalog
	// only guarantees when neither prefix extends the other.
	if strings.HasPrefix(c.Naming.BackupDirPrefix, c.Naming.IncompleteDirPrefix) {
		return fmt.Errorf("naming.backupDirPrefix cannot start with naming.incompleteDirPrefix")
	}
	for _, name := range []string{c.Naming.BackupDirPrefix, c.Naming.IncompleteDirPrefix, c.Naming.CurrentLinkName} {
		if strings.ContainsAny(name, `\/`) {
			return fmt.Errorf("naming entries cannot contain path separators ('/' or '\\'): %q", name)
		}
	}

	// The timestamp layout must render at a fixed width for every instant,
	// otherwise names would not sort chronologically and could not be parsed
	// back from their suffix.
	codec := timestamp.NewCodec(c.Naming.TimeLayout)
	if !codec.IsFixedWidth() {
		return fmt.Errorf("naming.timeLayout %q does not produce fixed-width timestamps", c.Naming.TimeLayout)
	}

	// --- Validate Retention ---
	if c.Retention.DaysToKeep < 0 {
		return fmt.Errorf("retention.daysToKeep cannot be negative")
	}
	if c.Retention.DeleteWorkers < 1 {
		return fmt.Errorf("retention.deleteWorkers must be at least 1")
	}

	return nil
}

// ExcludePatterns returns the final, combined slice of exclude patterns,
// including non-overridable system patterns, default patterns, and
// user-configured patterns. It automatically handles deduplication.
func (t *TransferConfig) ExcludePatterns() []string {
	return util.MergeAndDeduplicate(systemExcludePatterns, t.DefaultExcludePatterns, t.UserExcludePatterns)
}

// LogSummary prints a user-friendly summary of the configuration.
func (c *Config) LogSummary() {
	logArgs := []interface{}{
		"log_level", c.LogLevel,
		"source", c.Source,
		"destination", c.Destination,
		"dry_run", c.Runtime.DryRun,
		"fail_fast", c.FailFast,
		"backup_prefix", c.Naming.BackupDirPrefix,
		"incomplete_prefix", c.Naming.IncompleteDirPrefix,
		"current_link", c.Naming.CurrentLinkName,
	}

	if c.Retention.Enabled {
		retentionSummary := fmt.Sprintf("enabled (d:%d w:%d)", c.Retention.DaysToKeep, c.Retention.DeleteWorkers)
		logArgs = append(logArgs, "retention", retentionSummary)
	}

	if excludes := c.Transfer.ExcludePatterns(); len(excludes) > 0 {
		logArgs = append(logArgs, "exclude_patterns", strings.Join(excludes, ", "))
	}
	if len(c.Transfer.IncludePatterns) > 0 {
		logArgs = append(logArgs, "include_patterns", strings.Join(c.Transfer.IncludePatterns, ", "))
	}
	if len(c.Hooks.PreBackup) > 0 {
		logArgs = append(logArgs, "pre_backup_hooks", strings.Join(c.Hooks.PreBackup, "; "))
	}
	if len(c.Hooks.PostBackup) > 0 {
		logArgs = append(logArgs, "post_backup_hooks", strings.Join(c.Hooks.PostBackup, "; "))
	}
	plog.Info("Configuration loaded", logArgs...)
}

// MergeConfigWithFlags overlays the configuration values from flags on top of a base
// configuration. It iterates over the setFlags map, which contains only the flags
// explicitly provided by the user on the command line.
func MergeConfigWithFlags(command flagparse.Command, base Config, setFlags map[string]any) Config {
	merged := base

	for name, value := range setFlags {
		switch name {
		case "source":
			merged.Source = value.(string)
		case "dest":
			merged.Destination = value.(string)
		case "log-level":
			merged.LogLevel = value.(string)
		case "dry-run":
			merged.Runtime.DryRun = value.(bool)
		case "fail-fast":
			merged.FailFast = value.(bool)
		case "rsync-path":
			merged.Transfer.RsyncPath = value.(string)
		case "exclude":
			merged.Transfer.UserExcludePatterns = value.([]string)
		case "include":
			merged.Transfer.IncludePatterns = value.([]string)
		case "pre-backup-hooks":
			merged.Hooks.PreBackup = value.([]string)
		case "post-backup-hooks":
			merged.Hooks.PostBackup = value.([]string)
		case "days-to-keep":
			merged.Retention.DaysToKeep = value.(int)
		case "delete-workers":
			merged.Retention.DeleteWorkers = value.(int)
		case "export-format":
			merged.Export.Format = value.(string)
		case "backup-name", "out", "force":
			// Consumed directly by the command dispatch, not part of the config.
		default:
			plog.Debug("unhandled flag in MergeConfigWithFlags", "flag", name)
		}
	}
	return merged
}
