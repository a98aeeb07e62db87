// a stupid package name...
package server

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"

	"github.com/downloadui/download-ui/server/config"
	"github.com/downloadui/download-ui/server/download"
	"github.com/downloadui/download-ui/server/download/domain"
	"github.com/downloadui/download-ui/server/download/service"
	"github.com/downloadui/download-ui/server/download/task"
	"github.com/downloadui/download-ui/server/internal/catalog"
	"github.com/downloadui/download-ui/server/internal/database"
	"github.com/downloadui/download-ui/server/internal/downloaders"
	"github.com/downloadui/download-ui/server/internal/kv"
	"github.com/downloadui/download-ui/server/internal/queue"
	"github.com/downloadui/download-ui/server/internal/storage"
	"github.com/downloadui/download-ui/server/logging"
	middlewares "github.com/downloadui/download-ui/server/middleware"
	"github.com/downloadui/download-ui/server/rest"
	"github.com/downloadui/download-ui/server/status"

	bolt "go.etcd.io/bbolt"
)

type RunConfig struct {
	// App is served under the base url when set.
	App fs.FS
}

type serverConfig struct {
	app      fs.FS
	db       *gorm.DB
	boltdb   *bolt.DB
	mdb      *kv.Store
	mq       *queue.MessageQueue
	registry *downloaders.Registry
	catalog  *catalog.Catalog
	sweeper  *task.Sweeper
	download *download.ContainerArgs
}

func Run(ctx context.Context, rc *RunConfig) error {
	conf := config.Instance()

	// ---- LOGGING ---------------------------------------------------
	logWriters := []io.Writer{
		os.Stdout,
	}

	// file based logging
	if conf.Logging.EnableFileLogging {
		logger, err := logging.NewRotableLogger(conf.Logging.LogPath)
		if err != nil {
			return err
		}

		defer logger.Close()

		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Hour * 24):
					if err := logger.Rotate(); err != nil {
						slog.Error("log rotation failed", slog.Any("err", err))
					}
				}
			}
		}()

		logWriters = append(logWriters, logger)
	}

	logger := slog.New(slog.NewTextHandler(io.MultiWriter(logWriters...), &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// make the new logger the default one with all the new writers
	slog.SetDefault(logger)
	// ----------------------------------------------------------------

	boltdb, err := bolt.Open(filepath.Join(conf.Paths.LocalDatabasePath, "tasks.db"), 0600, &bolt.Options{
		Timeout: time.Second,
	})
	if err != nil {
		return err
	}

	db, err := database.Open(database.Options{
		Path:    filepath.Join(conf.Paths.LocalDatabasePath, "downloads.db"),
		Verbose: conf.Logging.VerboseSQL,
	}, domain.Models()...)
	if err != nil {
		boltdb.Close()
		return err
	}

	mdb, err := kv.NewStore(boltdb)
	if err != nil {
		return err
	}
	if _, err := mdb.Restore(); err != nil {
		slog.Error("failed to restore task results", slog.Any("err", err))
	}

	// backends report paths under the root they were given, which must be
	// the same directory the file store resolves against
	files, err := storage.NewLocal(conf.Paths.DownloadPath)
	if err != nil {
		return err
	}

	registry := downloaders.DefaultRegistry(downloaders.Paths{
		YoutubeDL:  conf.Paths.YoutubeDLPath,
		TwitchDL:   conf.Paths.TwitchDLPath,
		OutputRoot: files.Root(),
	})

	cat := catalog.New(db)
	if err := cat.SeedCommands(ctx, registry.Commands()); err != nil {
		return err
	}

	mq, err := queue.NewMessageQueue(mdb, queue.Options{
		Workers:       conf.Queue.Workers,
		Backlog:       conf.Queue.Backlog,
		SoftTimeLimit: conf.Queue.SoftTimeLimit,
	})
	if err != nil {
		return err
	}

	downloadArgs := &download.ContainerArgs{
		DB:       db,
		Results:  mdb,
		Queue:    mq,
		Registry: registry,
		Catalog:  cat,
		Files:    files,
		Options: service.Options{
			RecentWindow: conf.History.RecentWindow,
			PageSize:     conf.History.PageSize,
		},
	}

	runner := download.Runner(downloadArgs)
	if _, err := runner.Recover(ctx); err != nil {
		slog.Error("failed to recover interrupted downloads", slog.Any("err", err))
	}
	mq.SetupConsumers(runner.Handle)

	sweeper := task.NewSweeper(download.Reconciler(downloadArgs), conf.Reconcile.Schedule)
	if conf.Reconcile.Enabled {
		if err := sweeper.Schedule(); err != nil {
			return err
		}
	}

	scfg := serverConfig{
		app:      rc.App,
		db:       db,
		boltdb:   boltdb,
		mdb:      mdb,
		mq:       mq,
		registry: registry,
		catalog:  cat,
		sweeper:  sweeper,
		download: downloadArgs,
	}

	srv := newServer(scfg)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		gracefulShutdown(ctx, srv, &scfg)
	}()

	var (
		network = "tcp"
		address = fmt.Sprintf("%s:%d", conf.Server.Host, conf.Server.Port)
	)

	// support unix sockets
	if strings.HasPrefix(conf.Server.Host, "/") {
		network = "unix"
		address = conf.Server.Host
	}

	listener, err := net.Listen(network, address)
	if err != nil {
		slog.Error("failed to listen", slog.String("err", err.Error()))
		return err
	}

	slog.Info("download-ui started", slog.String("address", address))

	if err := srv.Serve(listener); err != http.ErrServerClosed {
		slog.Warn("http server stopped", slog.String("err", err.Error()))
		return err
	}

	<-stopped
	return nil
}

func newServer(c serverConfig) *http.Server {
	r := chi.NewRouter()

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	r.Use(corsMiddleware.Handler)
	r.Use(middleware.RequestID)
	r.Use(middlewares.RequestLogger)

	if c.app != nil {
		baseUrl := config.Instance().Server.BaseURL
		r.Mount(baseUrl+"/", http.StripPrefix(baseUrl, http.FileServerFS(c.app)))
	}

	binaries := map[downloaders.Command]string{
		downloaders.YoutubeDL: config.Instance().Paths.YoutubeDLPath,
		downloaders.TwitchDL:  config.Instance().Paths.TwitchDLPath,
	}

	// REST API handlers
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(rest.ApplyRouter(&rest.ContainerArgs{
			Catalog:  c.catalog,
			Sweeper:  c.sweeper,
			Binaries: binaries,
		}))

		r.Route("/downloads", download.Container(c.download).ApplyRouter())

		// Status
		r.Route("/status", status.ApplyRouter(&status.Sources{
			Downloads: download.Repository(c.download),
			Tasks:     c.mdb,
			Queue:     c.mq,
		}))
	})

	return &http.Server{Handler: r}
}

func gracefulShutdown(ctx context.Context, srv *http.Server, cfg *serverConfig) {
	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown", slog.Any("err", err))
	}

	cfg.sweeper.Stop()

	// running downloads become terminated
	if err := cfg.mq.Stop(); err != nil {
		slog.Warn("task queue stopped with error", slog.Any("err", err))
	}

	database.Close(cfg.db)
	cfg.boltdb.Close()
}
