package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/alert"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/ami"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/config"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/daemon"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/db"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/health"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/logging"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/notify"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/publish"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/reconcile"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/snapshot"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/stats"
	"gorm.io/gorm"
)

type startFlags struct {
	configFlags
	debug  bool
	detach bool
}

func newStartCmd() *cobra.Command {
	var f startFlags

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the wallboard daemon",
		Long:  "Connects to the PBX manager interface and streams queue and agent events into the state store. Runs in the foreground unless --detach is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, &f)
		},
	}

	f.register(cmd)
	cmd.Flags().BoolVar(&f.debug, "debug", false, "debug logging plus a raw protocol trace file")
	cmd.Flags().BoolVarP(&f.detach, "detach", "d", false, "run in the background")
	return cmd
}

func runStart(cmd *cobra.Command, f *startFlags) error {
	cfg, err := f.load()
	if err != nil {
		return err
	}
	if pid, ok := daemon.Running(cfg.Daemon.PIDFile); ok {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}
	if f.detach {
		return spawnDetached(cmd, f, cfg)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return runDaemon(ctx, cfg, f.debug, cmd.ErrOrStderr())
}

// spawnDetached re-executes this binary in the foreground mode inside a new
// session and waits for it to write its pid file.
func spawnDetached(cmd *cobra.Command, f *startFlags, cfg *config.Config) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	args := []string{"start", "--config", f.path, "--env-file", f.envFile}
	if f.debug {
		args = append(args, "--debug")
	}

	child := exec.Command(exe, args...)
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := child.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	pid := child.Process.Pid
	exited := make(chan error, 1)
	go func() { exited <- child.Wait() }()

	out := cmd.OutOrStdout()
	deadline := time.After(5 * time.Second)
	for {
		if got, ok := daemon.Running(cfg.Daemon.PIDFile); ok && got == pid {
			fmt.Fprintf(out, "Wallboard daemon started (pid %d)\n", pid)
			return nil
		}
		select {
		case err := <-exited:
			return fmt.Errorf("daemon exited during startup (%v), see %s", err, cfg.Daemon.LogFile)
		case <-deadline:
			fmt.Fprintf(out, "Wallboard daemon starting (pid %d), pid file not written yet\n", pid)
			return nil
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// runDaemon wires every component and blocks until ctx is cancelled.
func runDaemon(ctx context.Context, cfg *config.Config, debug bool, console io.Writer) error {
	level := cfg.Daemon.LogLevel
	if debug {
		level = "debug"
	}
	logger, logCloser, err := logging.New(logging.Options{
		Level:   level,
		File:    cfg.Daemon.LogFile,
		Console: console,
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()

	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		logger.Error().Err(err).Msg("database unavailable")
		return err
	}
	if err := db.PingContext(ctx, gormDB); err != nil {
		logger.Error().Err(err).Msg("database unavailable")
		return err
	}

	amiCfg, err := resolveAMI(cfg.AMI, gormDB)
	if err != nil {
		logger.Error().Err(err).Msg("manager interface not configured")
		return err
	}

	clientOpts := ami.Options{
		Addr:                 amiCfg.Addr(),
		Username:             amiCfg.Username,
		Secret:               amiCfg.Secret,
		ConnectTimeout:       amiCfg.ConnectTimeout,
		ActionTimeout:        amiCfg.ActionTimeout,
		ReconnectBase:        amiCfg.ReconnectBase,
		ReconnectCap:         amiCfg.ReconnectCap,
		MaxReconnectAttempts: amiCfg.MaxReconnectAttempts,
		StaleAfter:           amiCfg.StaleAfter,
		RedactFields:         amiCfg.RedactFields,
		Logger:               logger,
	}
	if debug {
		trace, err := logging.OpenTrace(cfg.Daemon.DebugLogFile)
		if err != nil {
			logger.Warn().Err(err).Msg("protocol trace disabled")
		} else {
			defer trace.Close()
			clientOpts.Tracer = trace
			logger.Info().Str("file", cfg.Daemon.DebugLogFile).Msg("protocol trace enabled")
		}
	}
	client := ami.New(clientOpts)

	store := snapshot.NewStore(gormDB, logger)

	var pub publish.Publisher = publish.Nop{}
	if cfg.Redis.Enabled {
		rp, err := publish.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, state changes will not be published")
		} else {
			defer rp.Close()
			pub = rp
		}
	}

	rec := reconcile.New(reconcile.Options{
		DB:        gormDB,
		Snapshot:  store,
		Publisher: pub,
		Logger:    logger,
	})

	httpClient := &http.Client{Timeout: cfg.Notify.HTTPTimeout}
	dispatcher := notify.NewDispatcher(notify.Options{
		Channels: func() []notify.Channel {
			return notify.FromSnapshot(store.Current(), cfg.Notify, httpClient, logger)
		},
		RatePerSecond: cfg.Notify.RatePerSecond,
		Burst:         cfg.Notify.Burst,
		Logger:        logger,
	})

	engine := alert.New(alert.Options{
		DB:              gormDB,
		Snapshot:        store,
		Notifier:        dispatcher,
		Logger:          logger,
		Interval:        cfg.Daemon.AlertInterval,
		MinSamples:      cfg.Alerts.SLAMinSamples,
		DefaultCooldown: cfg.Alerts.DefaultCooldown,
		AbandonedWindow: cfg.Alerts.AbandonedWindow,
	})

	rollup := stats.New(stats.Options{DB: gormDB, Snapshot: store, Logger: logger})

	sup, err := daemon.New(daemon.Options{
		Conn:               client,
		Handler:            rec,
		Alerts:             engine,
		Snapshot:           store,
		Stats:              rollup,
		PIDFile:            cfg.Daemon.PIDFile,
		EventTimeout:       amiCfg.EventTimeout,
		RetryDelay:         cfg.Daemon.RetryDelay,
		ReconnectDelay:     cfg.Daemon.ReconnectDelay,
		PingInterval:       cfg.Daemon.PingInterval,
		StatusPollInterval: cfg.Daemon.StatusPollInterval,
		RefreshInterval:    cfg.Daemon.ConfigRefreshInterval,
		StatsCron:          cfg.Daemon.StatsCron,
		ResetCron:          cfg.Daemon.ResetCron,
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				logger.Info().Msg("SIGHUP received, reloading configuration")
				sup.Reload()
			}
		}
	}()

	if cfg.Health.Listen != "" {
		go serveHealth(ctx, cfg, gormDB, sup, logger)
	}

	return sup.Run(ctx)
}

func serveHealth(ctx context.Context, cfg *config.Config, gormDB *gorm.DB, sup *daemon.Supervisor, logger zerolog.Logger) {
	err := health.Serve(ctx, health.ServerOpts{
		Listen: cfg.Health.Listen,
		Check: func(ctx context.Context) health.Report {
			return health.Check(ctx, health.Options{
				LogFile:    cfg.Daemon.LogFile,
				StaleAfter: cfg.Health.StaleAfter,
				DB:         gormDB,
				Session:    sup,
			})
		},
		Logger: logger,
	})
	if err != nil {
		logger.Error().Err(err).Msg("health listener stopped")
	}
}

// resolveAMI falls back to the active ami_config row when the config file
// does not name a host.
func resolveAMI(c config.AMIConfig, gormDB *gorm.DB) (config.AMIConfig, error) {
	if c.Host != "" {
		return c, nil
	}
	row, err := db.ActiveAMIConfig(gormDB)
	if err != nil {
		return c, err
	}
	if row == nil || row.AMIHost == "" {
		return c, fmt.Errorf("no ami.host in config and no active ami_config row")
	}
	c.Host = row.AMIHost
	if row.AMIPort > 0 {
		c.Port = row.AMIPort
	}
	if c.Username == "" {
		c.Username = row.AMIUsername
	}
	if c.Secret == "" {
		c.Secret = row.AMIPassword
	}
	return c, nil
}
