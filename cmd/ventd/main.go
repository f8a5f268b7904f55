package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"ventcore/internal/metrics"
	"ventcore/internal/protocol"
	"ventcore/internal/store"
	"ventcore/internal/transport"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("ventd v%s\n", version)
	fmt.Println("Ventilator UI core daemon")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  ventd [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Keeps a WebSocket link to the ventilator controller, folds its protobuf")
	fmt.Println("  messages into the UI state (waveforms, PV loop, event log, smoothed")
	fmt.Println("  readouts) and sends the operator's requests back on a round-robin")
	fmt.Println("  schedule. UI clients read the state from a JSON WebSocket feed.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file (defaults are used when empty)")
	fmt.Println()
	fmt.Println("  -device-host string")
	fmt.Printf("        Ventilator controller host (default %q)\n", defaultDeviceHost)
	fmt.Println()
	fmt.Println("  -device-port int")
	fmt.Printf("        Ventilator controller port (default %d)\n", defaultDevicePort)
	fmt.Println()
	fmt.Println("  -retry-interval-ms int")
	fmt.Printf("        Delay between reconnect attempts in ms (default %d)\n", defaultRetryIntervalMS)
	fmt.Println()
	fmt.Println("  -ui-listen string")
	fmt.Println("        HTTP listen address for the UI feed and metrics (default \"127.0.0.1:3001\")")
	fmt.Println()
	fmt.Println("  -ui-update-hz int")
	fmt.Printf("        UI state frame rate in Hz (default %d)\n", defaultUpdateHz)
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Println("        Unix domain socket path for IPC (default \"/tmp/ventd.sock\")")
	fmt.Println()
	fmt.Println("  -metrics")
	fmt.Println("        Serve Prometheus metrics (default true)")
	fmt.Println()
	fmt.Println("  -rotary-device string")
	fmt.Println("        Linux input event device for the local knob (empty disables it)")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -development")
	fmt.Println("        Panic on programmer errors instead of logging them")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start daemon with default settings")
	fmt.Println("  ventd")
	fmt.Println()
	fmt.Println("  # Connect to a controller on the local network")
	fmt.Println("  ventd -device-host 192.168.1.50 -device-port 8000")
	fmt.Println()
	fmt.Println("  # Use a config file and a local knob")
	fmt.Println("  ventd -config /etc/ventd.yaml -rotary-device /dev/input/event2")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Flags override values from the config file")
	fmt.Println("  - The knob requires read access to the input device (root or 'input' group)")
	fmt.Println()
}

func main() {
	// Check for version flag early
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath      = flag.String("config", "", "Path to YAML config file")
		deviceHost      = flag.String("device-host", defaultDeviceHost, "Ventilator controller host")
		devicePort      = flag.Int("device-port", defaultDevicePort, "Ventilator controller port")
		retryIntervalMS = flag.Int("retry-interval-ms", defaultRetryIntervalMS, "Delay between reconnect attempts (ms)")
		uiListen        = flag.String("ui-listen", "127.0.0.1:3001", "HTTP listen address for the UI feed and metrics")
		uiUpdateHz      = flag.Int("ui-update-hz", defaultUpdateHz, "UI state frame rate in Hz")
		ipcSocketPath   = flag.String("ipc-socket", "/tmp/ventd.sock", "Unix domain socket path for IPC")
		metricsEnabled  = flag.Bool("metrics", true, "Serve Prometheus metrics")
		rotaryDevice    = flag.String("rotary-device", "", "Linux input event device for the local knob")
		logLevelStr     = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		development     = flag.Bool("development", false, "Panic on programmer errors")
		showVersion     = flag.Bool("version", false, "Print version and exit")
		showHelp        = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Only flags given on the command line override the file.
	var o FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "device-host":
			o.DeviceHost = deviceHost
		case "device-port":
			o.DevicePort = devicePort
		case "retry-interval-ms":
			o.RetryIntervalMS = retryIntervalMS
		case "ui-listen":
			o.UIListenAddr = uiListen
		case "ui-update-hz":
			o.UIUpdateHz = uiUpdateHz
		case "ipc-socket":
			o.IPCSocketPath = ipcSocketPath
		case "metrics":
			o.MetricsEnabled = metricsEnabled
		case "rotary-device":
			o.RotaryDevice = rotaryDevice
		case "log-level":
			o.LogLevel = logLevelStr
		case "development":
			o.Development = development
		}
	})
	o.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, _ := parseLogLevel(cfg.Logging.Level)
	logger := setupLogger(logLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("ventd stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shut down")
}

// run wires every component of the daemon and blocks until a shutdown signal
// arrives or one of them fails.
func run(cfg Config, logger *slog.Logger) error {
	sched, err := cfg.ToSchedule()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	met := metrics.New(reg)

	codec := protocol.NewCodec(nil)

	// Central event bus: transport, UI clients, IPC and the knob all feed it;
	// only the daemon loop reads it.
	events := make(chan store.Event, 256)
	broadcasts := make(chan uiBroadcast, 64)

	g, gctx := errgroup.WithContext(ctx)

	emit := func(ev store.Event) {
		select {
		case events <- ev:
		case <-gctx.Done():
		}
	}

	mgr := transport.NewManager(cfg.ToTransportConfig(), transport.Options{
		Codec:   codec,
		Logger:  logger.With("component", "transport"),
		Metrics: met,
		OnMessage: func(msg protocol.Message) {
			emit(store.StateUpdate{Message: msg})
		},
		OnState: func(c transport.StateChange) {
			emit(store.ConnectionObserved{
				State:   c.State.String(),
				Open:    c.State == transport.Open,
				Session: c.Session,
				Err:     c.Err,
			})
		},
	})

	snapshotTimeout := ms(defaultSnapshotTimeout)
	stateSrv := NewServer(logger.With("component", "ui"), met, events, ServerConfig{
		SnapshotTimeout: snapshotTimeout,
	})

	var gatherer prometheus.Gatherer
	if cfg.Metrics.Enabled {
		gatherer = reg
	}
	mux := newHTTPMux(httpDeps{
		UI:              cfg.UI,
		Metrics:         cfg.Metrics,
		Gatherer:        gatherer,
		State:           stateSrv,
		Events:          events,
		SnapshotTimeout: snapshotTimeout,
	}, logger.With("component", "http"))

	logger.Info("starting ventd",
		"version", version,
		"device", cfg.ToTransportConfig().URL(),
		"ui_listen", cfg.UI.ListenAddr,
		"ui_state_path", cfg.UI.StatePath,
		"ipc", cfg.IPC.SocketPath,
		"update_hz", cfg.UI.UpdateHz,
		"rotary_devices", cfg.Input.RotaryDevices,
		"development", cfg.Development)

	g.Go(func() error {
		return runDaemon(gctx, events, store.NewState(), daemonOptions{
			Store:       cfg.ToStoreConfig(),
			Schedule:    sched,
			Codec:       codec,
			Sender:      mgr,
			Broadcasts:  broadcasts,
			Metrics:     met,
			UpdateHz:    cfg.UI.UpdateHz,
			Development: cfg.Development,
		}, logger.With("component", "daemon"))
	})
	g.Go(func() error {
		return mgr.Run(gctx)
	})
	g.Go(func() error {
		stateSrv.Hub().Run(gctx)
		return nil
	})
	g.Go(func() error {
		RunBroadcaster(gctx, stateSrv.Hub(), broadcasts, logger.With("component", "broadcaster"))
		return nil
	})
	g.Go(func() error {
		return runIPCServer(gctx, ExpandPath(cfg.IPC.SocketPath), events, logger.With("component", "ipc"))
	})
	g.Go(func() error {
		return runHTTPServer(gctx, cfg.UI.ListenAddr, mux, logger.With("component", "http"))
	})
	if len(cfg.Input.RotaryDevices) > 0 {
		g.Go(func() error {
			return runRotaryInput(gctx, cfg.Input.RotaryDevices, cfg.ToRotaryConfig(), events, logger.With("component", "rotary"))
		})
	}

	err = g.Wait()
	if ctx.Err() != nil {
		logger.Info("shutting down")
	}
	return err
}
