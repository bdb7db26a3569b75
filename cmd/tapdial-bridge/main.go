// Command tapdial-bridge turns raw Hue Tap Dial actions from zigbee2mqtt into
// normalized button, dial and combined events on MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sweeney/tapdial-bridge/internal/bridge"
	"github.com/sweeney/tapdial-bridge/internal/config"
	"github.com/sweeney/tapdial-bridge/internal/gpio"
	"github.com/sweeney/tapdial-bridge/internal/logging"
	"github.com/sweeney/tapdial-bridge/internal/logic"
	"github.com/sweeney/tapdial-bridge/internal/metrics"
	"github.com/sweeney/tapdial-bridge/internal/mqtt"
	"github.com/sweeney/tapdial-bridge/internal/session"
	"github.com/sweeney/tapdial-bridge/internal/status"
	"github.com/sweeney/tapdial-bridge/internal/store"
	"github.com/sweeney/tapdial-bridge/internal/web"
)

// statusRefresh is how often connection state is copied into the tracker.
const statusRefresh = 5 * time.Second

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	configPath := fs.String("config", "", "YAML config file (defaults are used when empty)")
	envFile := fs.String("env-file", ".env", "dotenv file to load before reading the environment")
	fs.String("broker", "", "MQTT broker address")
	fs.String("http", "", `HTTP status address ("" disables)`)
	fs.String("store", "", `device registry SQLite path ("" disables)`)
	fs.Int("debounce-ms", 0, "duplicate action window in milliseconds")
	fs.Int("heartbeat-ms", 0, "heartbeat interval in milliseconds (0 disables)")
	fs.Int("led-pin", 0, "activity LED GPIO line (-1 disables)")
	fs.Bool("discovery", false, "provision Tap Dials found in the zigbee2mqtt device list")
	fs.String("log-level", "", "log level: debug, info, warn, error")
	fs.String("log-format", "", "log format: text or json")
	_ = fs.Parse(os.Args[1:])

	cfg, err := loadConfig(*configPath, *envFile, overridesFromFlags(fs), os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// overridesFromFlags returns overrides for the flags actually given on the
// command line.
func overridesFromFlags(fs *flag.FlagSet) config.FlagOverrides {
	var o config.FlagOverrides
	fs.Visit(func(f *flag.Flag) {
		getter, ok := f.Value.(flag.Getter)
		if !ok {
			return
		}
		switch v := getter.Get().(type) {
		case string:
			switch f.Name {
			case "broker":
				o.Broker = &v
			case "http":
				o.HTTPAddr = &v
			case "store":
				o.StorePath = &v
			case "log-level":
				o.LogLevel = &v
			case "log-format":
				o.LogFormat = &v
			}
		case int:
			switch f.Name {
			case "debounce-ms":
				o.DebounceMS = &v
			case "heartbeat-ms":
				o.HeartbeatMS = &v
			case "led-pin":
				o.LEDPin = &v
			}
		case bool:
			if f.Name == "discovery" {
				o.Discovery = &v
			}
		}
	})
	return o
}

// loadConfig layers defaults, the config file, the environment (after
// loading envFile) and flags, then validates the result.
func loadConfig(path, envFile string, flags config.FlagOverrides, getenv func(string) string) (config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return config.Config{}, err
	}

	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadConfigFile(path); err != nil {
			return config.Config{}, err
		}
	}
	config.ApplyEnv(&cfg, getenv)
	flags.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func topicsFor(cfg config.Config) mqtt.Topics {
	return mqtt.Topics{
		Base:            cfg.MQTT.BaseTopic,
		EventPrefix:     cfg.MQTT.EventPrefix,
		DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topics := topicsFor(cfg)

	// Status tracker comes first so STARTUP carries a snapshot.
	tracker := status.NewTracker(time.Now(), status.Config{
		DebounceMs:  cfg.Debounce().Milliseconds(),
		HeartbeatMs: cfg.Heartbeat().Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		BaseTopic:   topics.Base,
		EventPrefix: topics.EventPrefix,
		HTTPAddr:    cfg.HTTP.Addr,
		Discovery:   cfg.Discovery.Enabled,
	})
	tracker.SetNetwork(status.NetworkFromEnv(os.Getenv))

	collector := metrics.New()

	var registry bridge.Registry
	var recorder logic.Sink
	if cfg.Store.Path != "" {
		db, err := store.Open(store.Config{Path: config.ExpandPath(cfg.Store.Path), Logger: logger})
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close(db)
		repo := store.NewDeviceRepository(db)
		registry = repo
		recorder = store.NewRecorder(repo, logger, nil)
		logger.Info("device registry opened", "path", cfg.Store.Path)
	}

	var indicator *gpio.Indicator
	if cfg.GPIO.LEDPin >= 0 {
		line, err := gpio.NewRealLine(cfg.GPIO.Chip, cfg.GPIO.LEDPin)
		if err != nil {
			return fmt.Errorf("init activity led: %w", err)
		}
		indicator = gpio.NewIndicator(line, cfg.Pulse(), logger)
		defer indicator.Close()
	}

	var hub *web.Hub
	if cfg.HTTP.Addr != "" {
		hub = web.NewHub(logger, web.HubConfig{})
	}

	// The bridge needs the client and the client's connect hook needs the
	// bridge; the hook is a no-op until the bridge exists.
	var current atomic.Pointer[bridge.Bridge]
	client, err := mqtt.NewRealClient(mqtt.Options{
		Broker:     cfg.MQTT.Broker,
		ClientID:   cfg.MQTT.ClientID,
		Username:   cfg.MQTT.Username,
		Password:   cfg.MQTT.Password,
		Topics:     topics,
		BufferSize: cfg.MQTT.BufferSize,
		Logger:     logger,
		OnConnect: func() {
			if b := current.Load(); b != nil {
				b.OnConnect()
			}
		},
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer client.Close()

	sinks := logic.MultiSink{mqtt.NewEventSink(client, logger, nil), tracker, collector}
	if recorder != nil {
		sinks = append(sinks, recorder)
	}
	if hub != nil {
		sinks = append(sinks, hub)
	}
	if indicator != nil {
		sinks = append(sinks, indicator)
	}

	sessions := session.NewManager(session.Config{
		Debounce: cfg.Debounce(),
		Sink:     sinks,
		Observer: collector,
		Logger:   logger,
	})
	br := bridge.New(bridge.Config{
		Client:        client,
		Sessions:      sessions,
		Tracker:       tracker,
		Registry:      registry,
		Gauges:        collector,
		Discovery:     cfg.Discovery.Enabled,
		HomeAssistant: cfg.Discovery.HomeAssistant,
		Logger:        logger,
	}, topics)
	current.Store(br)
	defer br.Close()

	static := make([]bridge.Device, 0, len(cfg.Devices))
	for _, d := range cfg.Devices {
		static = append(static, bridge.Device{ID: d.ID, Name: d.Name})
	}
	if err := br.Start(ctx, static); err != nil {
		return fmt.Errorf("start bridge: %w", err)
	}
	br.SyncStatus()

	publishSystem(client, tracker, logger, "STARTUP", "", time.Now())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return br.Run(gctx) })

	if cfg.HTTP.Addr != "" {
		srv := web.New(web.Config{
			Addr:        cfg.HTTP.Addr,
			Tracker:     tracker,
			Metrics:     collector.Handler(),
			Hub:         hub,
			Devices:     br,
			CORSOrigins: cfg.HTTP.CORSOrigins,
			Logger:      logger,
		})
		g.Go(func() error {
			hub.Run(gctx)
			return nil
		})
		g.Go(func() error {
			logger.Info("http status server listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("started",
		"broker", cfg.MQTT.Broker,
		"devices", len(sessions.Devices()),
		"debounce", cfg.Debounce(),
		"heartbeat", cfg.Heartbeat(),
		"discovery", cfg.Discovery.Enabled)

	var heartbeat <-chan time.Time
	if hb := cfg.Heartbeat(); hb > 0 {
		t := time.NewTicker(hb)
		defer t.Stop()
		heartbeat = t.C
	}
	refresh := time.NewTicker(statusRefresh)
	defer refresh.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	loopErr := runLoop(loop{
		publisher: client,
		status:    br,
		tracker:   tracker,
		now:       time.Now,
		getenv:    os.Getenv,
		logger:    logger,
	}, heartbeat, refresh.C, sigCh, gctx.Done())

	cancel()
	if err := g.Wait(); err != nil {
		return err
	}
	return loopErr
}

// statusSyncer refreshes connection state in the tracker.
type statusSyncer interface {
	SyncStatus()
}

type loop struct {
	publisher mqtt.Publisher
	status    statusSyncer
	tracker   *status.Tracker
	now       func() time.Time
	getenv    func(string) string
	logger    *slog.Logger
}

// runLoop publishes heartbeats and keeps the tracker current until a signal
// arrives or done is closed. It publishes SHUTDOWN before returning.
func runLoop(l loop, heartbeat, refresh <-chan time.Time, sig <-chan os.Signal, done <-chan struct{}) error {
	for {
		select {
		case s := <-sig:
			name := signalName(s)
			l.logger.Info("shutting down", "signal", name)
			l.status.SyncStatus()
			publishSystem(l.publisher, l.tracker, l.logger, "SHUTDOWN", name, l.now())
			return nil

		case <-done:
			l.logger.Warn("shutting down after component failure")
			l.status.SyncStatus()
			publishSystem(l.publisher, l.tracker, l.logger, "SHUTDOWN", "ERROR", l.now())
			return nil

		case <-heartbeat:
			l.status.SyncStatus()
			l.tracker.SetNetwork(status.NetworkFromEnv(l.getenv))
			snap := l.tracker.Snapshot()
			l.logger.Info("heartbeat",
				"uptime", snap.Uptime().Truncate(time.Second),
				"devices", len(snap.Devices),
				"short", snap.Totals.Short,
				"long", snap.Totals.Long,
				"dial", snap.Totals.Dial,
				"combined", snap.Totals.Combined)
			publishSystem(l.publisher, l.tracker, l.logger, "HEARTBEAT", "", l.now())

		case <-refresh:
			l.status.SyncStatus()
		}
	}
}

// publishSystem sends a lifecycle event carrying a full status snapshot.
// STARTUP and SHUTDOWN are retained; heartbeats are not.
func publishSystem(pub mqtt.Publisher, tracker *status.Tracker, logger *slog.Logger, event, reason string, at time.Time) {
	snap := tracker.Snapshot()
	err := pub.PublishSystem(mqtt.SystemEvent{
		Timestamp:  at,
		Event:      event,
		Reason:     reason,
		Retained:   event != "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
	if err != nil {
		logger.Error("publish system event failed", "event", event, "error", err)
		return
	}
	logger.Debug("published system event", "event", event)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
