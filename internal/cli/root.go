// Package cli implements the semantic-memory CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/rcliao/semantic-memory/internal/config"
	"github.com/rcliao/semantic-memory/internal/embedding"
	"github.com/rcliao/semantic-memory/internal/memory"
	"github.com/rcliao/semantic-memory/internal/store"
	"github.com/rcliao/semantic-memory/internal/store/pg"
)

// Version is reported by the HTTP root endpoint.
const Version = "1.0.0"

var (
	configPath string
	dbPath     string
	formatFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "semantic-memory",
	Short: "Semantic memory store with deduplication",
	Long:  "Save short text memories and find them again by meaning. SQLite-backed by default, single binary.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ./config.yaml or ~/.config/semantic-memory/config.yaml)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "SQLite database path (overrides store.path and $MEMORY_STORE_PATH)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Store.Driver = "sqlite"
		cfg.Store.Path = dbPath
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func openStore(cfg config.StoreConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return pg.NewPGStore(cfg.DSN, logger)
	default:
		return store.NewSQLiteStore(cfg.Path, cfg.BusyTimeout)
	}
}

func newProvider(cfg config.EmbedConfig, logger *slog.Logger) (*embedding.Provider, error) {
	load, err := embedding.NewLoader(embedding.Config{
		Provider:      cfg.Provider,
		Model:         cfg.Model,
		Device:        cfg.Device,
		URL:           cfg.URL,
		APIKey:        cfg.APIKey,
		Dims:          cfg.Dims,
		ModelPath:     cfg.ModelPath,
		TokenizerPath: cfg.TokenizerPath,
		ChunkSize:     cfg.ChunkSize,
	})
	if err != nil {
		return nil, err
	}
	return embedding.NewProvider(load, logger.With("component", "embedding")), nil
}

// app bundles what every command needs.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    store.Store
	provider *embedding.Provider
	svc      *memory.Service
}

// openApp loads config and opens the store. reg may be nil when metrics are
// not exposed.
func openApp(reg prometheus.Registerer) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Log, os.Stderr)

	st, err := openStore(cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	provider, err := newProvider(cfg.Embed, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	var metrics *memory.Metrics
	if reg != nil {
		metrics = memory.NewMetrics(reg)
	}
	svc := memory.New(st, provider, memory.Options{
		MaxTextLength:       cfg.MaxTextLength,
		SimilarityThreshold: &cfg.SimilarityThreshold,
		DefaultLimit:        cfg.DefaultLimit,
		Metrics:             metrics,
	}, logger.With("component", "memory"))

	return &app{cfg: cfg, logger: logger, store: st, provider: provider, svc: svc}, nil
}

func (a *app) Close() {
	if err := a.provider.Close(); err != nil {
		a.logger.Warn("close embedding model", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", "error", err)
	}
}

func mustOpenApp() *app {
	a, err := openApp(nil)
	if err != nil {
		exitErr("init", err)
	}
	return a
}

// printResult writes v as JSON, or calls text when --format=text.
func printResult(w io.Writer, v any, text func(io.Writer)) {
	if formatFlag == "text" && text != nil {
		text(w)
		return
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(w, string(b))
}

func parseTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// readText returns args joined by spaces, falling back to piped stdin.
func readText(args []string, stdin *os.File) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	stat, err := stdin.Stat()
	if err != nil || (stat.Mode()&os.ModeCharDevice) != 0 {
		return "", nil
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
