package config

import (
	"path/filepath"
	"sync"
	"time"
)

type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	Paths     PathsConfig     `yaml:"paths" mapstructure:"paths"`
	Queue     QueueConfig     `yaml:"queue" mapstructure:"queue"`
	Reconcile ReconcileConfig `yaml:"reconcile" mapstructure:"reconcile"`
	History   HistoryConfig   `yaml:"history" mapstructure:"history"`
	path      string
}

type ServerConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Host    string `yaml:"host" mapstructure:"host"`
	Port    int    `yaml:"port" mapstructure:"port"`
}

type LoggingConfig struct {
	LogPath           string `yaml:"log_path" mapstructure:"log_path"`
	EnableFileLogging bool   `yaml:"enable_file_logging" mapstructure:"enable_file_logging"`
	VerboseSQL        bool   `yaml:"verbose_sql" mapstructure:"verbose_sql"`
}

type PathsConfig struct {
	// Every downloaded file lives under this directory.
	DownloadPath      string `yaml:"download_path" mapstructure:"download_path"`
	YoutubeDLPath     string `yaml:"ytdl_path" mapstructure:"ytdl_path"`
	TwitchDLPath      string `yaml:"twitchdl_path" mapstructure:"twitchdl_path"`
	LocalDatabasePath string `yaml:"local_database_path" mapstructure:"local_database_path"`
}

type QueueConfig struct {
	Workers       int           `yaml:"workers" mapstructure:"workers"`
	Backlog       int           `yaml:"backlog" mapstructure:"backlog"`
	SoftTimeLimit time.Duration `yaml:"soft_time_limit" mapstructure:"soft_time_limit"`
}

type ReconcileConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Schedule string `yaml:"schedule" mapstructure:"schedule"`
}

type HistoryConfig struct {
	RecentWindow time.Duration `yaml:"recent_window" mapstructure:"recent_window"`
	PageSize     int           `yaml:"page_size" mapstructure:"page_size"`
}

var (
	instance     *Config
	instanceOnce sync.Once
)

func Instance() *Config {
	if instance == nil {
		instanceOnce.Do(func() {
			instance = &Config{}
			instance.Paths.DownloadPath = "."
			instance.Paths.YoutubeDLPath = "yt-dlp"
			instance.Paths.TwitchDLPath = "twitch-dl"
			instance.Paths.LocalDatabasePath = "."
			instance.Queue.Workers = 2
			instance.Queue.Backlog = 64
			instance.Queue.SoftTimeLimit = time.Hour * 4
			instance.Reconcile.Enabled = true
			instance.Reconcile.Schedule = "@every 1h"
			instance.History.RecentWindow = time.Hour * 24
			instance.History.PageSize = 20
		})
	}
	return instance
}

// SetPath records where the config file was read from.
func (c *Config) SetPath(p string) { c.path = p }

// Path of the directory containing the config file
func (c *Config) Dir() string { return filepath.Dir(c.path) }

// Absolute path of the config file
func (c *Config) Path() string { return c.path }
