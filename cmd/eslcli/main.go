// Command eslcli is a small command-line client for the FreeSWITCH
// Event Socket protocol: issue synchronous and background commands,
// or stream live events, against a running FreeSWITCH instance.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/go-eventsocket/internal/buildinfo"
	"github.com/nugget/go-eventsocket/internal/config"
	"github.com/nugget/go-eventsocket/internal/connwatch"
	"github.com/nugget/go-eventsocket/internal/esl"
	"github.com/nugget/go-eventsocket/internal/journal"
	"github.com/nugget/go-eventsocket/internal/mqttbridge"
	"github.com/nugget/go-eventsocket/internal/wsgateway"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "eslcli:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("eslcli", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config.yaml (optional)")
	host := fs.String("host", "", "Event Socket host (overrides config)")
	port := fs.Int("port", 0, "Event Socket port (overrides config)")
	password := fs.String("password", "", "Event Socket password (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() == 0 {
		printUsage()
		return nil
	}

	subcommand := fs.Arg(0)
	if subcommand == "version" {
		fmt.Println(buildinfo.String())
		for k, v := range buildinfo.BuildInfo() {
			fmt.Printf("  %-12s %s\n", k+":", v)
		}
		return nil
	}

	cfg := config.Default()
	if path, err := config.FindConfig(*configPath); err == nil {
		loaded, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if *host != "" {
		cfg.ESL.Host = *host
	}
	if *port != 0 {
		cfg.ESL.Port = *port
	}
	if *password != "" {
		cfg.ESL.Password = *password
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))

	engineCfg := esl.Config{
		Host:          cfg.ESL.Host,
		Port:          cfg.ESL.Port,
		Password:      cfg.ESL.Password,
		MaxRetries:    cfg.ESL.MaxRetries,
		RetryInterval: time.Duration(cfg.ESL.RetryIntervalMs) * time.Millisecond,
		Logger:        logger,
	}
	var engine *esl.Engine
	if cfg.MQTT.Enabled || cfg.WebSocket.Enabled {
		// mqttbridge/wsgateway only relay what the engine receives;
		// the server-side event subscription they depend on is lost on
		// every reconnect, so issue "event plain all" here whenever the
		// engine reaches the connected state.
		engineCfg.OnStateChange = func(s esl.State) {
			if s != esl.StateConnected {
				return
			}
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if _, err := engine.Event(ctx, "plain", "all"); err != nil {
					logger.Warn("re-subscribe after reconnect failed", "error", err)
				}
			}()
		}
	}
	engine = esl.NewEngine(engineCfg)
	engine.Start()
	defer engine.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-engine.Done():
		if engine.Err() != nil {
			return engine.Err()
		}
	case <-waitConnected(ctx, engine):
	}

	switch subcommand {
	case "api":
		return runAPI(ctx, engine, fs.Args()[1:])
	case "bgapi":
		return runBgapi(ctx, engine, fs.Args()[1:])
	case "listen":
		return runListen(ctx, engine, fs.Args()[1:])
	case "serve":
		return runServe(ctx, engine, cfg, logger)
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand %q", subcommand)
	}
}

// runServe starts the engine's optional collaborators — the MQTT
// bridge, the WebSocket dashboard gateway, and the SQLite journal —
// according to cfg, and blocks until ctx is cancelled.
func runServe(ctx context.Context, engine *esl.Engine, cfg *config.Config, logger *slog.Logger) error {
	instanceID := uuid.NewString()
	watch := connwatch.NewManager(logger)
	defer watch.Stop()

	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path, logger)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		defer j.Close()

		sub := engine.StartListening(ctx, nil, 256)
		go j.WatchEvents(sub, ctx.Done())
		logger.Info("journal enabled", "path", cfg.Journal.Path)
	}

	if cfg.MQTT.Enabled {
		bridge := mqttbridge.New(mqttbridge.Config{
			Broker:          cfg.MQTT.Broker,
			DeviceName:      cfg.MQTT.DeviceName,
			DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
			TopicPrefix:     cfg.MQTT.TopicPrefix,
		}, instanceID, logger)

		watch.Watch(ctx, connwatch.WatcherConfig{
			Name:   "mqtt-broker",
			Logger: logger,
			Probe: func(probeCtx context.Context) error {
				return probeTCP(probeCtx, cfg.MQTT.Broker)
			},
			OnReady: func() {
				logger.Info("mqtt broker reachable", "broker", cfg.MQTT.Broker)
			},
			OnDown: func(err error) {
				logger.Warn("mqtt broker unreachable", "broker", cfg.MQTT.Broker, "error", err)
			},
		})

		sub := engine.StartListening(ctx, nil, 256)
		go func() {
			if err := bridge.Run(ctx, sub); err != nil && ctx.Err() == nil {
				logger.Error("mqttbridge stopped", "error", err)
			}
		}()
	}

	if cfg.WebSocket.Enabled {
		gateway := wsgateway.New(engine, logger)
		addr := fmt.Sprintf("%s:%d", cfg.WebSocket.Address, cfg.WebSocket.Port)
		httpServer := &http.Server{Addr: addr, Handler: gateway}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpServer.Shutdown(shutdownCtx)
		}()

		watch.Watch(ctx, connwatch.WatcherConfig{
			Name:   "wsgateway",
			Logger: logger,
			Probe: func(probeCtx context.Context) error {
				return probeTCP(probeCtx, addr)
			},
		})

		go func() {
			logger.Info("wsgateway listening", "addr", addr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("wsgateway stopped", "error", err)
			}
		}()
	}

	<-ctx.Done()
	return nil
}

// probeTCP dials target (a bare host:port, or a tcp://host:port URL as
// used for an MQTT broker address) and reports whether it accepted the
// connection.
func probeTCP(ctx context.Context, target string) error {
	addr := target
	if u, err := url.Parse(target); err == nil && u.Host != "" {
		addr = u.Host
	}
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

func waitConnected(ctx context.Context, engine *esl.Engine) <-chan struct{} {
	ready := make(chan struct{})
	go func() {
		defer close(ready)
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			if engine.State() == esl.StateConnected {
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			case <-engine.Done():
				return
			}
		}
	}()
	return ready
}

func runAPI(ctx context.Context, engine *esl.Engine, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: eslcli api <cmd> [args...]")
	}
	packet, err := engine.Api(ctx, args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Print(string(packet.Body))
	return nil
}

func runBgapi(ctx context.Context, engine *esl.Engine, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: eslcli bgapi <cmd> [args...]")
	}
	jobID, resultCh, err := engine.Bgapi(ctx, args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "job-uuid: %s\n", jobID)

	select {
	case result := <-resultCh:
		fmt.Print(string(result.Packet.Body))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-engine.Done():
		return engine.Err()
	}
}

func runListen(ctx context.Context, engine *esl.Engine, args []string) error {
	filter := ""
	if len(args) > 0 {
		filter = args[0]
	}

	if _, err := engine.Event(ctx, "plain", "all"); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	predicate := func(p *esl.Packet) bool {
		if filter == "" {
			return true
		}
		return strings.Contains(p.Field("Event-Name"), filter)
	}

	sub := engine.StartListening(ctx, predicate, 256)
	defer sub.Stop()

	for {
		select {
		case p, ok := <-sub.Events():
			if !ok {
				return nil
			}
			fmt.Printf("%s %s\n", p.Field("Event-Name"), p.Field("Unique-ID"))
		case <-ctx.Done():
			return nil
		case <-engine.Done():
			return engine.Err()
		}
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: eslcli [-config path] [-host h] [-port p] [-password p] <subcommand> [args...]

subcommands:
  api <cmd> [args...]     issue a synchronous command and print its response
  bgapi <cmd> [args...]   issue a background command and print its result
  listen [filter]         stream events, optionally matching Event-Name substring filter
  serve                   run the configured mqtt/websocket/journal collaborators until interrupted
  version                 print build information`)
}
