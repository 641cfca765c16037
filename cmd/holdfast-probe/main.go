// Command holdfast-probe is a small console for poking an API through
// the resilience layer: it issues one request and reports whether the
// answer came live, from the cache, or went to the replay queue, along
// with any notifications the call produced.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/lmittmann/tint"

	"github.com/grafana/holdfast"
	"github.com/grafana/holdfast/log"
	"github.com/grafana/holdfast/notify"
	"github.com/grafana/holdfast/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "holdfast-probe:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		method     = flag.String("method", "GET", "HTTP method")
		path       = flag.String("path", "/health", "request path")
		data       = flag.String("data", "", "JSON payload for mutations")
		cacheKey   = flag.String("cache-key", "", "cache key for reads")
		offline    = flag.Bool("offline", false, "hint the client offline before the call")
		wait       = flag.Duration("wait", 10*time.Second, "how long to wait for a queued request to settle")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slogger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if cfg.BaseURL == "" {
		return fmt.Errorf("base_url is required (config file or HOLDFAST_BASE_URL)")
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	opts := []holdfast.Option{
		holdfast.WithStorage(store),
		holdfast.WithLogger(log.NewSlog(slogger)),
	}
	if cfg.HealthPath != "" {
		opts = append(opts, holdfast.WithHealthPath(cfg.HealthPath))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, holdfast.WithTimeout(cfg.Timeout))
	}
	if cfg.ProbeInterval > 0 {
		opts = append(opts, holdfast.WithProbeInterval(cfg.ProbeInterval))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, holdfast.WithUserAgent(cfg.UserAgent))
	}
	if cfg.InlineRetries > 0 {
		opts = append(opts, holdfast.WithInlineRetries(cfg.InlineRetries))
	}

	client, err := holdfast.New(cfg.BaseURL, opts...)
	if err != nil {
		return err
	}
	defer client.Close()

	unsub := client.Notifications().Subscribe(func(n notify.Notification) {
		slogger.Info("notification", "severity", string(n.Severity), "title", n.Title, "message", n.Message)
	})
	defer unsub()

	if *offline {
		client.Connectivity().ReportHint(false)
	}

	ctx := context.Background()
	resp, err := issue(ctx, client, strings.ToUpper(*method), *path, *data, *cacheKey)
	if err != nil {
		return err
	}

	if resp.Queued != nil {
		slogger.Info("request queued for replay", "id", resp.Queued.ID(), "pending", client.Queue().Len())
		client.Connectivity().ReportHint(true)

		waitCtx, cancel := context.WithTimeout(ctx, *wait)
		defer cancel()
		resp = resp.Settle(waitCtx)
	}

	return report(resp)
}

type probeConfig struct {
	BaseURL       string
	HealthPath    string
	UserAgent     string
	Timeout       time.Duration
	ProbeInterval time.Duration
	InlineRetries int
	Storage       struct {
		Backend string
		Path    string
	}
}

// loadConfig merges the YAML file (if given) with HOLDFAST_-prefixed
// environment variables; the environment wins.
func loadConfig(path string) (*probeConfig, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("HOLDFAST_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "HOLDFAST_"))
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := &probeConfig{}
	cfg.BaseURL = k.String("base_url")
	cfg.HealthPath = k.String("health_path")
	cfg.UserAgent = k.String("user_agent")
	cfg.Timeout = k.Duration("timeout")
	cfg.ProbeInterval = k.Duration("probe_interval")
	cfg.InlineRetries = k.Int("inline_retries")
	cfg.Storage.Backend = k.String("storage_backend")
	cfg.Storage.Path = k.String("storage_path")
	return cfg, nil
}

func openStore(cfg *probeConfig) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "", "memory":
		return storage.NewMemory(), nil
	case "file":
		if cfg.Storage.Path == "" {
			return nil, fmt.Errorf("storage.path is required for the file backend")
		}
		return storage.NewFile(cfg.Storage.Path)
	case "sqlite":
		if cfg.Storage.Path == "" {
			return nil, fmt.Errorf("storage.path is required for the sqlite backend")
		}
		return storage.NewSQLite(cfg.Storage.Path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func issue(ctx context.Context, client holdfast.Client, method, path, data, cacheKey string) (*holdfast.Response, error) {
	opts := &holdfast.RequestOptions{CacheKey: cacheKey}

	var payload any
	if data != "" {
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return nil, fmt.Errorf("payload is not valid JSON: %w", err)
		}
	}

	switch method {
	case "GET":
		return client.Get(ctx, path, opts), nil
	case "POST":
		return client.Post(ctx, path, payload, opts), nil
	case "PUT":
		return client.Put(ctx, path, payload, opts), nil
	case "PATCH":
		return client.Patch(ctx, path, payload, opts), nil
	case "DELETE":
		return client.Delete(ctx, path, opts), nil
	default:
		return nil, fmt.Errorf("unsupported method %q", method)
	}
}

func report(resp *holdfast.Response) error {
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if resp.FromCache {
		fmt.Println("(served from cache)")
	}
	if !resp.Success {
		return fmt.Errorf("request failed: %s", resp.Message)
	}
	return nil
}
