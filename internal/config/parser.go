// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/nityam2007/rclone-backup-manager/internal/models"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Default transfer settings, applied when the config file omits them.
const (
	DefaultTransfers    = 8
	DefaultCheckers     = 8
	DefaultRetries      = 3
	DefaultRetriesSleep = "10s"

	DefaultAutoRunIntervalMin = 5
)

// Parser handles configuration file parsing.
type Parser struct {
	v      *viper.Viper
	logger zerolog.Logger
}

// NewParser creates a new configuration parser.
func NewParser(logger zerolog.Logger) *Parser {
	v := viper.New()
	v.SetConfigType("json")
	return &Parser{v: v, logger: logger}
}

// Defaults returns the default configuration used when no file exists.
func Defaults() *models.Config {
	return &models.Config{
		BackupSets: []models.BackupSet{},
		Settings: models.TransferSettings{
			Transfers:    DefaultTransfers,
			Checkers:     DefaultCheckers,
			Retries:      DefaultRetries,
			RetriesSleep: DefaultRetriesSleep,
		},
		App: models.AppSettings{
			AutoRunIntervalMin: DefaultAutoRunIntervalMin,
			ShowNotifications:  true,
		},
	}
}

// LoadFile loads configuration from a file path. A missing file yields the
// defaults; an unreadable or malformed file is logged and also yields the
// defaults. Loading never fails hard: the core must come up with an empty
// configuration rather than crash on a bad file.
func (p *Parser) LoadFile(path string) *models.Config {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		p.logger.Debug().Str("file", path).Msg("config file not found, using defaults")
		return Defaults()
	}

	p.v.SetConfigFile(path)
	if err := p.v.ReadInConfig(); err != nil {
		p.logger.Error().Err(err).Str("file", path).Msg("failed to read config, using defaults")
		return Defaults()
	}

	return p.parse()
}

// LoadFileStrict loads configuration and surfaces read or parse errors
// instead of falling back to defaults. Used when the user explicitly asks
// to validate a file.
func (p *Parser) LoadFileStrict(path string) (*models.Config, error) {
	p.v.SetConfigFile(path)
	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return p.parse(), nil
}

// LoadReader loads configuration from a string (useful for testing).
func (p *Parser) LoadReader(content string) *models.Config {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		p.logger.Error().Err(err).Msg("failed to read config, using defaults")
		return Defaults()
	}

	return p.parse()
}

func (p *Parser) parse() *models.Config {
	cfg := Defaults()

	var sets []models.BackupSet
	if err := p.v.UnmarshalKey("backup_sets", &sets); err != nil {
		p.logger.Error().Err(err).Msg("invalid backup_sets section, ignoring")
	} else if sets != nil {
		cfg.BackupSets = sets
	}

	// Merge settings key-by-key so partial sections keep their defaults.
	if p.v.IsSet("settings.transfers") {
		cfg.Settings.Transfers = p.v.GetInt("settings.transfers")
	}
	if p.v.IsSet("settings.checkers") {
		cfg.Settings.Checkers = p.v.GetInt("settings.checkers")
	}
	if p.v.IsSet("settings.retries") {
		cfg.Settings.Retries = p.v.GetInt("settings.retries")
	}
	if p.v.IsSet("settings.retries_sleep") {
		cfg.Settings.RetriesSleep = p.v.GetString("settings.retries_sleep")
	}

	if p.v.IsSet("app_settings.dry_run") {
		cfg.App.DryRun = p.v.GetBool("app_settings.dry_run")
	}
	if p.v.IsSet("app_settings.auto_run_enabled") {
		cfg.App.AutoRunEnabled = p.v.GetBool("app_settings.auto_run_enabled")
	}
	if p.v.IsSet("app_settings.auto_run_interval_min") {
		cfg.App.AutoRunIntervalMin = p.v.GetInt("app_settings.auto_run_interval_min")
	}
	if p.v.IsSet("app_settings.show_notifications") {
		cfg.App.ShowNotifications = p.v.GetBool("app_settings.show_notifications")
	}

	// Parse optional notification config.
	if p.v.IsSet("notifications") {
		cfg.Notify = &models.NotifyConfig{
			BotToken: os.ExpandEnv(p.v.GetString("notifications.bot_token")),
			ChatID:   os.ExpandEnv(p.v.GetString("notifications.chat_id")),
		}
	}

	return cfg
}

// ValidateBackupSet checks a single backup set for completeness.
func ValidateBackupSet(set models.BackupSet) error {
	if set.Name == "" {
		return fmt.Errorf("name is required")
	}
	if set.Local == "" {
		return fmt.Errorf("local path is required")
	}
	if set.Remote == "" {
		return fmt.Errorf("remote path is required")
	}
	if !strings.Contains(set.Remote, ":") {
		return fmt.Errorf("remote must include rclone remote name (e.g., myremote:path)")
	}
	return nil
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	for _, set := range cfg.BackupSets {
		if err := ValidateBackupSet(set); err != nil {
			name := set.Name
			if name == "" {
				name = "unnamed"
			}
			return fmt.Errorf("backup set %q: %w", name, err)
		}
	}

	if cfg.Notify != nil {
		if cfg.Notify.BotToken == "" {
			return fmt.Errorf("notifications.bot_token is required when notifications is configured")
		}
		if cfg.Notify.ChatID == "" {
			return fmt.Errorf("notifications.chat_id is required when notifications is configured")
		}
	}

	return nil
}
