package main

import (
	"context"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/downloadui/download-ui/server"
	"github.com/downloadui/download-ui/server/config"

	"github.com/spf13/viper"
)

func main() {
	// Parse optional config path from flag
	var configFile string
	flag.StringVar(&configFile, "conf", "./config.yml", "Config file path")
	flag.Parse()

	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3033)
	v.SetDefault("paths.download_path", ".")
	v.SetDefault("paths.ytdl_path", "yt-dlp")
	v.SetDefault("paths.twitchdl_path", "twitch-dl")
	v.SetDefault("paths.local_database_path", ".")
	v.SetDefault("queue.workers", 2)
	v.SetDefault("queue.backlog", 64)
	v.SetDefault("queue.soft_time_limit", "4h")
	v.SetDefault("logging.log_path", "download-ui.log")
	v.SetDefault("logging.enable_file_logging", false)
	v.SetDefault("logging.verbose_sql", false)
	v.SetDefault("reconcile.enabled", true)
	v.SetDefault("reconcile.schedule", "@every 1h")
	v.SetDefault("history.recent_window", "24h")
	v.SetDefault("history.page_size", 20)

	// Env binding
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()

	// Load YAML file if exists
	if err := v.ReadInConfig(); err != nil {
		slog.Debug("using defaults")
	} else {
		config.Instance().SetPath(v.ConfigFileUsed())
	}

	cfg := config.Instance()
	if err := v.Unmarshal(cfg); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if cfg.Queue.Workers <= 0 {
		cfg.Queue.Workers = max(runtime.NumCPU()/2, 1)
	}

	var appFS fs.FS
	if fp := v.GetString("frontend_path"); fp != "" {
		appFS = os.DirFS(fp)
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"workers", cfg.Queue.Workers,
	)

	if err := server.Run(ctx, &server.RunConfig{
		App: appFS,
	}); err != nil {
		slog.Error("server stopped with error", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited cleanly")
}
