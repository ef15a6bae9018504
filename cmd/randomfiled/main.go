// Command randomfiled serves one random file over HTTP: queued and direct
// appends, policy-driven range reads, stats and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/fluxorio/randomfile/pkg/config"
	"github.com/fluxorio/randomfile/pkg/core"
	"github.com/fluxorio/randomfile/pkg/events"
	rfprom "github.com/fluxorio/randomfile/pkg/observability/prometheus"
	"github.com/fluxorio/randomfile/pkg/observability/tracing"
	"github.com/fluxorio/randomfile/pkg/randomfile"
)

// AppConfig is the daemon configuration file.
type AppConfig struct {
	Store   randomfile.Config `yaml:"store"`
	Server  ServerConfig      `yaml:"server"`
	Log     LogConfig         `yaml:"log"`
	Metrics MetricsConfig     `yaml:"metrics"`
	Tracing tracing.Config    `yaml:"tracing"`
	NATS    NATSConfig        `yaml:"nats"`

	// Create makes an empty file at Store.Path when none exists.
	Create bool `yaml:"create"`
}

type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	MaxBodyBytes    int           `yaml:"max_body_bytes"`
	WaitTimeout     time.Duration `yaml:"wait_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Prefix  string `yaml:"prefix"`
	Name    string `yaml:"name"`
}

func defaultConfig() *AppConfig {
	return &AppConfig{
		Store: randomfile.Config{
			Path:           "randomfile.bin",
			MaxQueuedBytes: 64 << 20,
			SyncOnClose:    true,
			DefaultPolicy:  "throw",
		},
		Server: ServerConfig{
			Listen:          ":8080",
			MaxBodyBytes:    16 << 20,
			WaitTimeout:     30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Log:     LogConfig{Level: "info"},
		Metrics: MetricsConfig{Enabled: true},
		Tracing: tracing.DefaultConfig(),
		NATS:    NATSConfig{URL: "nats://127.0.0.1:4222", Prefix: "randomfile", Name: "randomfiled"},
	}
}

// loadConfig layers the file at path (if present) and RANDOMFILED_*
// variables over the defaults.
func loadConfig(path string) (*AppConfig, error) {
	cfg := defaultConfig()
	if err := config.LoadWithEnv(path, "RANDOMFILED", cfg); err != nil {
		return nil, err
	}
	if err := cfg.Store.Validate(); err != nil {
		return nil, err
	}
	err := config.Validate(cfg,
		config.RequiredFields("Server.Listen"),
		config.RangeValidator("Server.MaxBodyBytes", 1, 1<<30),
		config.OneOfValidator("Log.Level", true, "debug", "info", "warn", "warning", "error"),
		config.OneOfValidator("Tracing.Exporter", true, "stdout", "zipkin"),
	)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "randomfiled.yaml"
	}
	configPath := flag.String("config", defaultPath, "path to the YAML or JSON config file")
	writeDefault := flag.String("write-default-config", "", "write the default config as YAML to this path and exit")
	flag.Parse()

	if *writeDefault != "" {
		if err := writeDefaultConfig(*writeDefault); err != nil {
			log.Fatalf("Failed to write default config: %v", err)
		}
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := core.NewLogger(core.ParseLevel(cfg.Log.Level), "randomfiled")
	if err := run(ctx, cfg, logger); err != nil {
		logger.Errorf("exiting: %v", err)
		os.Exit(1)
	}
}

// writeDefaultConfig saves defaultConfig to path. An existing file is
// left untouched.
func writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s: %w", path, fs.ErrExist)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return config.SaveYAML(path, defaultConfig())
}

// run serves until ctx is done, then shuts down the server, drains the
// store and closes the exporters.
func run(ctx context.Context, cfg *AppConfig, logger core.Logger) (err error) {
	if cfg.Create {
		if err := createIfMissing(cfg.Store.Path); err != nil {
			return err
		}
	}

	shutdownTracing, err := tracing.Install(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warnf("tracing shutdown: %v", err)
		}
	}()

	opts := cfg.Store.Options()
	opts.Logger = logger
	fileOpts := []randomfile.Option{randomfile.WithOptions(opts)}

	var metrics *rfprom.Metrics
	if cfg.Metrics.Enabled {
		metrics = rfprom.GetMetrics()
		fileOpts = append(fileOpts, randomfile.WithObserver(metrics.Observer()))
	}

	if cfg.NATS.Enabled {
		pub, err := events.Connect(events.Config{URL: cfg.NATS.URL, Prefix: cfg.NATS.Prefix, Name: cfg.NATS.Name}, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := pub.Close(); err != nil {
				logger.Warnf("nats drain: %v", err)
			}
		}()
		fileOpts = append(fileOpts, randomfile.WithObserver(pub.Observer()))
		logger.Infof("publishing events to %s under %s", cfg.NATS.URL, cfg.NATS.Prefix)
	}

	file, err := randomfile.Open(cfg.Store.Path, fileOpts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			logger.Errorf("closing %s: %v", cfg.Store.Path, cerr)
			err = errors.Join(err, cerr)
		}
	}()

	policy, err := cfg.Store.Policy()
	if err != nil {
		return err
	}
	srv := &server{
		file:        file,
		policy:      policy,
		noCopy:      cfg.Store.NoCopy,
		waitTimeout: cfg.Server.WaitTimeout,
		metrics:     metrics,
		gatherer:    rfprom.DefaultRegistry,
		logger:      logger,
	}
	httpServer := &fasthttp.Server{
		Handler:            srv.handler(),
		Name:               "randomfiled",
		MaxRequestBodySize: cfg.Server.MaxBodyBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s, serving %s", cfg.Server.Listen, cfg.Store.Path)
		errCh <- httpServer.ListenAndServe(cfg.Server.Listen)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	return nil
}

func createIfMissing(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	// #nosec G304 -- path comes from the operator's config.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return fmt.Errorf("create %s: %w", path, err)
	}
	return f.Close()
}
