package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/goliatone/go-sonarfit/bridge"
	"github.com/goliatone/go-sonarfit/logging"
	"github.com/goliatone/go-sonarfit/mainloop"
	"github.com/goliatone/go-sonarfit/observability"
	"github.com/goliatone/go-sonarfit/rpc"
	"github.com/goliatone/go-sonarfit/simulator"
	"github.com/goliatone/go-sonarfit/transport/httpapi"
	"github.com/goliatone/go-sonarfit/transport/stdio"
)

// Globals are shared by every command.
type Globals struct {
	LogLevel     string        `name:"log-level" env:"SONARFIT_LOG_LEVEL" default:"info" enum:"debug,info,warn,error" help:"Log level (${enum})."`
	LogFormat    string        `name:"log-format" env:"SONARFIT_LOG_FORMAT" default:"text" enum:"text,json" help:"Log format (${enum})."`
	LogBackend   string        `name:"log-backend" env:"SONARFIT_LOG_BACKEND" default:"charm" enum:"charm,glog" help:"Logging library (${enum})."`
	Script       string        `name:"script" env:"SONARFIT_SCRIPT" type:"path" help:"YAML script driving the simulator engine."`
	DismissDelay time.Duration `name:"dismiss-delay" env:"SONARFIT_DISMISS_DELAY" default:"0s" help:"Delay before a dismissed view is gone."`
	OTLPEndpoint string        `name:"otlp-endpoint" env:"SONARFIT_OTLP_ENDPOINT" help:"OTLP gRPC endpoint for traces. Tracing is off when empty."`
	ServiceName  string        `name:"service-name" env:"SONARFIT_SERVICE_NAME" default:"sonarfit-bridge" help:"Service name reported in traces."`
}

type CLI struct {
	Globals

	Version    kong.VersionFlag `short:"v" help:"Print version and exit."`
	ServeHTTP  ServeHTTPCmd     `cmd:"" name:"serve-http" help:"Serve the bridge methods over HTTP."`
	ServeStdio ServeStdioCmd    `cmd:"" name:"serve-stdio" help:"Serve the bridge methods as CBOR frames on stdin/stdout."`
	Endpoints  EndpointsCmd     `cmd:"" help:"Print the endpoint manifest."`
}

// runtime is the wired bridge shared by the serve commands.
type runtime struct {
	logger   logging.Logger
	server   *rpc.Server
	registry *prometheus.Registry
	loop     *mainloop.Loop
	shutdown func(context.Context) error
}

func (g *Globals) logger() (logging.Logger, error) {
	level, err := logging.ParseLevel(g.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.JSON = g.LogFormat == "json"
	cfg.Backend = logging.Backend(g.LogBackend)
	// stdout may carry frames, logs always go to stderr
	cfg.Output = os.Stderr
	return logging.New(cfg), nil
}

func (g *Globals) build(ctx context.Context) (*runtime, error) {
	logger, err := g.logger()
	if err != nil {
		return nil, err
	}

	script, err := simulator.LoadScript(g.Script)
	if err != nil {
		return nil, err
	}

	shutdown, err := observability.InitTracer(ctx, g.ServiceName, version, g.OTLPEndpoint)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	loop := mainloop.New(mainloop.WithLogger(logger.With("component", "mainloop")))
	loop.Start(ctx)

	window := simulator.NewWindow("root", simulator.WithDismissDelay(g.DismissDelay))
	engine := simulator.NewEngine(script, simulator.WithEngineLogger(logger.With("component", "simulator")))

	b := bridge.New(engine, window,
		bridge.WithLogger(logger.With("component", "bridge")),
		bridge.WithExecutor(loop),
		bridge.WithObserver(metrics),
	)
	server, err := bridge.NewServer(b, rpc.WithMiddleware(
		observability.TracingMiddleware(),
		observability.MetricsMiddleware(metrics),
		observability.LoggingMiddleware(logger),
	))
	if err != nil {
		loop.Close()
		_ = shutdown(ctx)
		return nil, err
	}

	logger.Info("bridge ready",
		"channel", bridge.ChannelName,
		"outcome", script.Outcome,
		"tracing", g.OTLPEndpoint != "",
	)
	return &runtime{
		logger:   logger,
		server:   server,
		registry: registry,
		loop:     loop,
		shutdown: shutdown,
	}, nil
}

func (r *runtime) close() {
	r.loop.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.shutdown(ctx); err != nil {
		r.logger.Warn("tracer shutdown failed", "error", err)
	}
}

type ServeHTTPCmd struct {
	Addr            string        `name:"addr" env:"SONARFIT_HTTP_ADDR" default:":8080" help:"Listen address."`
	CallTimeout     time.Duration `name:"call-timeout" env:"SONARFIT_CALL_TIMEOUT" default:"0s" help:"Maximum wait for a reply. Zero waits for the client."`
	CORS            bool          `name:"cors" env:"SONARFIT_CORS" help:"Enable CORS."`
	AllowedOrigins  []string      `name:"allowed-origin" env:"SONARFIT_ALLOWED_ORIGINS" help:"Allowed CORS origins; all when empty."`
	ShutdownTimeout time.Duration `name:"shutdown-timeout" default:"5s" help:"Graceful shutdown bound."`
}

func (c *ServeHTTPCmd) Run(g *Globals, ctx context.Context) error {
	rt, err := g.build(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	srv := httpapi.New(rt.server, httpapi.Config{
		Addr:            c.Addr,
		CallTimeout:     c.CallTimeout,
		CORS:            c.CORS,
		AllowedOrigins:  c.AllowedOrigins,
		ShutdownTimeout: c.ShutdownTimeout,
	},
		httpapi.WithLogger(rt.logger.With("component", "httpapi")),
		httpapi.WithGatherer(rt.registry),
	)
	return srv.ListenAndServe(ctx)
}

type ServeStdioCmd struct {
	Channel  string `name:"channel" env:"SONARFIT_CHANNEL" default:"${channel}" help:"Channel name the host must announce."`
	MaxFrame int    `name:"max-frame" default:"16777216" help:"Largest accepted frame in bytes."`
}

func (c *ServeStdioCmd) Run(g *Globals, ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	rt, err := g.build(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	srv := stdio.NewServer(rt.server,
		stdio.WithLogger(rt.logger.With("component", "stdio")),
		stdio.WithChannel(c.Channel),
		stdio.WithMaxFrame(c.MaxFrame),
	)
	err = srv.Serve(ctx, stdin, stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type EndpointsCmd struct {
	Format string `name:"format" short:"f" default:"json" enum:"json,ts" help:"Output format (${enum})."`
	Out    string `name:"out" short:"o" type:"path" help:"Write to a file instead of stdout."`
	Export string `name:"export" default:"${export}" help:"Exported const name for the ts format."`
}

func (c *EndpointsCmd) Run(stdout io.Writer) error {
	server, err := bridge.NewServer(bridge.New(nil, nil))
	if err != nil {
		return err
	}
	endpoints := server.Endpoints()

	var content []byte
	switch c.Format {
	case "ts":
		content, err = rpc.RenderTypeScript(endpoints, c.Export)
	default:
		content, err = json.MarshalIndent(map[string]any{
			"channel":   bridge.ChannelName,
			"endpoints": endpoints,
		}, "", "  ")
		content = append(content, '\n')
	}
	if err != nil {
		return err
	}

	if c.Out == "" {
		_, err = stdout.Write(content)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.Out), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(c.Out, content, 0o644); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}
	return nil
}
