package commands

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/openhearth/hearth/archive"
	"github.com/openhearth/hearth/config"
	"github.com/openhearth/hearth/errors"
	"github.com/openhearth/hearth/ingest"
	"github.com/openhearth/hearth/logger"
	"github.com/openhearth/hearth/msg"
	"github.com/openhearth/hearth/notify"
	"github.com/openhearth/hearth/producers/heartbeat"
	"github.com/openhearth/hearth/producers/logbridge"
	"github.com/openhearth/hearth/render"
	"github.com/openhearth/hearth/server"
	"github.com/openhearth/hearth/storage"
	"github.com/openhearth/hearth/store"
	"github.com/openhearth/hearth/version"
)

// ServeCmd starts the hub.
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the Hearth hub and its websocket admin server",
	Long: `Start the message hub: load the snapshot, run the scheduler
loops, start enabled producer instances, and serve the admin command
bus over a websocket.`,
	RunE: runServe,
}

var serveNoProducers bool

func init() {
	ServeCmd.Flags().BoolVar(&serveNoProducers, "no-producers", false, "Do not start producer instances")
}

func logLevel(s string) zapcore.Level {
	switch s {
	case "debug", "trace":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}

	if err := logger.InitializeWithLevel(cfg.Log.JSON, logLevel(cfg.Log.Level)); err != nil {
		return errors.Wrap(err, "initialize logger")
	}
	defer logger.Cleanup()

	printStartupBanner(cfg)

	ctx := context.Background()

	factory := msg.NewFactory(logger.Logger)
	renderer := render.New(render.DefaultLocale())
	writer := storage.NewWriter(cfg.SnapshotPath(), cfg.Storage.WriteInterval(), logger.Logger)
	archiver := archive.New(archive.Config{
		BaseDir:           cfg.Archive.BaseDir,
		FileExtension:     cfg.Archive.FileExtension,
		FlushInterval:     cfg.Archive.FlushInterval(),
		KeepPreviousWeeks: cfg.Archive.KeepPreviousWeeks,
	}, logger.Logger)

	dispatcher := notify.NewDispatcher(logger.Logger)
	quiet, err := cfg.QuietHours.Build()
	if err != nil {
		return errors.Wrap(err, "quiet hours configuration")
	}
	dispatcher.SetQuietHours(quiet)

	st := store.New(logger.Logger, factory, renderer, writer, archiver, dispatcher, store.Options{
		PruneInterval:      cfg.Store.PruneInterval(),
		CloseSweepInterval: cfg.Store.CloseSweepInterval(),
		HardDeleteInterval: cfg.Store.HardDeleteInterval(),
		DuePollInterval:    cfg.Store.DuePollInterval(),
		Retention:          cfg.Store.Retention(),
	})
	st.Start(ctx)

	host, err := ingest.NewHost(logger.Logger, version.Semver(), st, dispatcher, cfg.Ingest.InstancesFile)
	if err != nil {
		return errors.Wrap(err, "create producer host")
	}
	for _, desc := range []ingest.Descriptor{heartbeat.Descriptor(), logbridge.Descriptor()} {
		if err := host.RegisterType(desc); err != nil {
			logger.Warnw("Producer type registration failed", "type", desc.Meta.Name, "error", err)
		}
	}
	if err := host.LoadInstances(); err != nil {
		logger.Warnw("Producer instance table load failed", "error", err)
	}
	if !serveNoProducers {
		host.StartAll(ctx)
	}

	states, err := server.NewIngestStates(logger.Logger,
		filepath.Join(cfg.Storage.BaseDir, "ingest_states.json"))
	if err != nil {
		return errors.Wrap(err, "load ingest states")
	}

	srv := server.New(logger.Logger, cfg.Server, st, host, archiver, states)
	if err := srv.Start(); err != nil {
		return errors.Wrap(err, "start admin server")
	}
	srv.SetReady()

	// Quiet-hours edits from the UI take effect without a restart.
	watcher, err := config.NewWatcher(config.UIConfigPath())
	if err != nil {
		logger.Warnw("Config watcher unavailable", "error", err)
	} else {
		watcher.OnReload(func(c *config.Config) error {
			q, err := c.QuietHours.Build()
			if err != nil {
				return err
			}
			dispatcher.SetQuietHours(q)
			return nil
		})
		watcher.Start()
		config.SetGlobalWatcher(watcher)
	}

	pterm.Success.Printf("Hearth listening on port %d\n", cfg.Server.EffectivePort())
	pterm.Info.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	pterm.Info.Println("Shutting down gracefully (press Ctrl+C again to force)...")
	go func() {
		<-sigChan
		pterm.Warning.Println("Forced shutdown")
		os.Exit(1)
	}()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if watcher != nil {
		_ = watcher.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("Admin server shutdown failed", "error", err)
	}
	host.StopAll("shutdown")
	if err := st.Close(shutdownCtx); err != nil {
		logger.Warnw("Store close failed", "error", err)
	}

	pterm.Success.Println("Hearth stopped")
	return nil
}
