// Command tiktok-live-recorder records TikTok live streams.
// It:
//   - Loads configuration from defaults, an optional TOML file, the environment
//     and flags, and initializes structured logging.
//   - Resolves the target (user, live URL, room id or the session's followers)
//     and runs the manual, automatic or followers monitor.
//   - Fans recording events out to optional subscribers: uploads, notifications,
//     the Postgres catalog and a Kafka topic.
//   - Exposes a minimal HTTP server with /healthz, /status, /recordings and /metrics.
//
// The first SIGINT/SIGTERM stops recordings gracefully; a second one exits immediately.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/tiktok-live-recorder/config"
	"github.com/onnwee/tiktok-live-recorder/db"
	"github.com/onnwee/tiktok-live-recorder/events"
	"github.com/onnwee/tiktok-live-recorder/monitor"
	"github.com/onnwee/tiktok-live-recorder/notify"
	"github.com/onnwee/tiktok-live-recorder/recorder"
	"github.com/onnwee/tiktok-live-recorder/server"
	"github.com/onnwee/tiktok-live-recorder/telemetry"
	"github.com/onnwee/tiktok-live-recorder/tiktok"
	"github.com/onnwee/tiktok-live-recorder/upload"
)

var version = "dev"

// drainTimeout bounds how long shutdown waits for recorders and event handlers.
const drainTimeout = 30 * time.Second

func main() {
	// Local dev convenience only; production relies on real env
	_ = godotenv.Load()

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := run(ctx, cancel, cfg); err != nil {
		slog.Error("exiting", slog.Any("err", err))
		os.Exit(1)
	}
}

// setupLogging configures the default slog logger. Defaults: level=info, format=text.
func setupLogging(level, format string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		defer slog.Warn("unknown LOG_LEVEL, using info", slog.String("value", level))
	}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
}

// handleSignals cancels on the first signal and exits on the second.
func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	slog.Info("shutting down, stopping recordings (signal again to force)")
	cancel()
	<-sigs
	slog.Warn("forced exit")
	os.Exit(1)
}

func run(ctx context.Context, cancel context.CancelFunc, cfg *config.Config) error {
	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing(cfg.OTLPEndpoint, "tiktok-live-recorder", version)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer shutdownTracing()

	cookies, err := config.LoadCookies(cfg.CookiesFile)
	if err != nil {
		return err
	}
	if cfg.Mode == config.ModeFollowers {
		if err := config.RequireSession(cookies); err != nil {
			return err
		}
	}

	client, err := tiktok.NewClient(tiktok.ClientOptions{
		Proxy:             cfg.ProxyURL,
		Cookies:           cookies,
		Timeout:           cfg.HTTPTimeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Logger:            slog.Default(),
	})
	if err != nil {
		return err
	}
	api := tiktok.NewAPI(client, slog.Default())
	defer func() {
		if err := api.Close(); err != nil {
			slog.Warn("close tiktok client", slog.Any("err", err))
		}
	}()

	var progress io.Writer
	if cfg.Mode == config.ModeManual && len(cfg.Users) <= 1 {
		progress = os.Stderr
	}
	factory, err := recorder.NewFactory(recorder.Options{
		Kind:       cfg.Recorder,
		FFmpegPath: cfg.FFmpegPath,
		HTTPClient: client.StreamClient(),
		Progress:   progress,
		Logger:     slog.Default(),
	})
	if err != nil {
		return err
	}

	bus := events.NewBus(slog.Default())
	bus.OnFailure = telemetry.EventHandlerFailed
	cleanup, deps, err := attachSubscribers(ctx, cfg, bus)
	defer cleanup()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	mon := monitor.New(api, factory, bus, monitor.Options{
		OutputDir:          cfg.OutputDir,
		Duration:           cfg.Duration,
		Interval:           cfg.AutomaticInterval,
		Cooldown:           cfg.ConnectionCooldown,
		ErrorBackoff:       cfg.ErrorBackoff,
		Stagger:            cfg.FollowerStagger,
		AliveChunkSize:     cfg.AliveChunkSize,
		ResolveConcurrency: cfg.ResolveConcurrency,
		CacheTTL:           cfg.ResolutionCacheTTL,
		MaxConcurrent:      cfg.MaxConcurrentRecordings,
		Logger:             slog.Default(),
	})

	srvErr := make(chan error, 1)
	if cfg.HTTPAddr != "" {
		deps.Registry = mon.Registry()
		deps.Gate = mon.Gate()
		deps.Mode = cfg.Mode
		go func() { srvErr <- server.Start(ctx, cfg.HTTPAddr, deps) }()
	}

	runErr := runTargets(ctx, mon, cfg)
	if isCanceled(runErr) {
		runErr = nil
	}

	// Manual mode ends on its own; stop the server and polling either way.
	cancel()
	mon.Registry().StopAll()
	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer drainCancel()
	if err := mon.Registry().Wait(drainCtx); err != nil {
		slog.Warn("recordings did not stop in time", slog.Any("err", err))
	}
	if err := bus.Wait(drainCtx); err != nil {
		slog.Warn("event handlers did not finish in time", slog.Any("err", err))
	}
	if cfg.HTTPAddr != "" {
		if err := <-srvErr; err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}
	return runErr
}

// runTargets dispatches the configured mode. Several users are monitored
// concurrently, each in its own automatic or manual loop.
func runTargets(ctx context.Context, mon *monitor.Monitor, cfg *config.Config) error {
	mode := monitor.Mode(cfg.Mode)
	if len(cfg.Users) <= 1 || mode == monitor.ModeFollowers {
		t := monitor.Target{Mode: mode, URL: cfg.URL, RoomID: cfg.RoomID}
		if len(cfg.Users) == 1 {
			t.User = cfg.Users[0]
		}
		return mon.Run(ctx, t)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, user := range cfg.Users {
		g.Go(func() error {
			err := mon.Run(gctx, monitor.Target{Mode: mode, User: user})
			if err != nil && !isCanceled(err) {
				// One failing user does not stop the others.
				slog.Error("monitor exited", slog.String("user", user), slog.Any("err", err))
			}
			return nil
		})
	}
	return g.Wait()
}

// attachSubscribers wires the optional event subscribers and returns a
// cleanup func that is always safe to call.
func attachSubscribers(ctx context.Context, cfg *config.Config, bus *events.Bus) (func(), server.Deps, error) {
	var (
		closers []func()
		deps    server.Deps
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	up, err := upload.New(ctx, cfg)
	if err != nil {
		return cleanup, deps, fmt.Errorf("uploader: %w", err)
	}
	if up != nil {
		upload.NewHandler(up, cfg.DeleteAfterUpload, slog.Default()).Attach(bus)
		slog.Info("uploads enabled", slog.String("target", up.Name()))
	}

	if cfg.DiscordWebhookURL != "" {
		notify.Attach(bus, notify.NewDiscord(cfg.DiscordWebhookURL))
	}
	if cfg.DesktopNotify {
		notify.Attach(bus, notify.NewDesktop("", slog.Default()))
	}

	if cfg.DBDsn != "" {
		database, err := db.Connect(ctx, cfg.DBDsn)
		if err != nil {
			return cleanup, deps, err
		}
		closers = append(closers, func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		})
		slog.Info("running database migrations", slog.String("component", "db_migrate"))
		if err := db.RunMigrations(database); err != nil {
			return cleanup, deps, fmt.Errorf("migrate: %w", err)
		}
		catalog := db.NewCatalog(database, slog.Default())
		catalog.Attach(bus)
		deps.Catalog = catalog
		deps.DB = database
	}

	if cfg.KafkaBrokers != "" {
		sink, err := events.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return cleanup, deps, fmt.Errorf("kafka: %w", err)
		}
		sink.Attach(bus)
		closers = append(closers, func() {
			if err := sink.Close(); err != nil {
				slog.Warn("close kafka writer", slog.Any("err", err))
			}
		})
	}
	return cleanup, deps, nil
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
