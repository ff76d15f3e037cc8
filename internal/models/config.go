// Package models contains the data structures used throughout rclone-backup-manager.
package models

// BackupSet is a named (local folder, remote path) pair configured by the user.
// Names are used as lookup keys; uniqueness is not enforced, last wins.
type BackupSet struct {
	Name   string `json:"name"`
	Local  string `json:"local"`
	Remote string `json:"remote"`
}

// TransferSettings holds the global rclone transfer options.
type TransferSettings struct {
	Transfers    int    `json:"transfers"`
	Checkers     int    `json:"checkers"`
	Retries      int    `json:"retries"`
	RetriesSleep string `json:"retries_sleep"`
}

// AppSettings holds application behavior settings consumed by the core
// and the CLI. GUI-only keys of the config file (theme, tray) are ignored.
type AppSettings struct {
	DryRun             bool `json:"dry_run"`
	AutoRunEnabled     bool `json:"auto_run_enabled"`
	AutoRunIntervalMin int  `json:"auto_run_interval_min"`
	ShowNotifications  bool `json:"show_notifications"`
}

// NotifyConfig holds Telegram completion notification settings.
type NotifyConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

// Config is the complete application configuration.
type Config struct {
	BackupSets []BackupSet      `json:"backup_sets"`
	Settings   TransferSettings `json:"settings"`
	App        AppSettings      `json:"app_settings"`
	Notify     *NotifyConfig    `json:"notifications,omitempty"` // nil if not configured
}
