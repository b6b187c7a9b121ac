// Package cli implements the stream-note CLI commands.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bainianlaoyao/stream-note/internal/analysis"
	"github.com/bainianlaoyao/stream-note/internal/config"
	"github.com/bainianlaoyao/stream-note/internal/extractor"
	"github.com/bainianlaoyao/stream-note/internal/logging"
	"github.com/bainianlaoyao/stream-note/internal/notes"
	"github.com/bainianlaoyao/stream-note/internal/store"
)

var (
	dbPath     string
	configPath string
	ownerID    string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "stream-note",
	Short: "A single running note with revisions and silent task extraction",
	Long: "stream-note keeps one rich-text note per owner, snapshots it as it changes, " +
		"and extracts actionable tasks in the background with an LLM. SQLite-backed, single binary.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $STREAM_NOTE_DB or ~/.stream-note/stream-note.db)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default: $STREAM_NOTE_CONFIG)")
	RootCmd.PersistentFlags().StringVarP(&ownerID, "owner", "o", defaultOwner(), "Owner id (default: $STREAM_NOTE_OWNER or \"local\")")
}

func defaultOwner() string {
	if env := os.Getenv("STREAM_NOTE_OWNER"); env != "" {
		return env
	}
	return "local"
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	return cfg, nil
}

// app is everything a command needs, opened from the loaded configuration.
type app struct {
	cfg     config.Config
	log     zerolog.Logger
	store   *store.SQLiteStore
	svc     *notes.Service
	closers []io.Closer
}

func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, logFile, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}

	s, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		logFile.Close()
		return nil, err
	}

	extractors := analysis.ProviderExtractors(s, cfg.LLM(), analysis.OpenAIClients,
		extractor.WithLogger(log), extractor.WithRateLimit(cfg.AI.RequestsPerSecond))
	q := analysis.NewQueue(s, cfg.Queue(), extractors, log)

	log.Debug().Str("db", cfg.DBPath).Str("provider", cfg.AI.Provider).Str("model", cfg.AI.Model).
		Bool("api_key_set", cfg.AI.APIKey != "").Msg("configuration loaded")

	return &app{
		cfg:     cfg,
		log:     log,
		store:   s,
		svc:     notes.New(s, q, log),
		closers: []io.Closer{s, logFile},
	}, nil
}

func (a *app) Close() {
	for _, c := range a.closers {
		c.Close()
	}
}

func mustOpenApp() *app {
	a, err := openApp()
	if err != nil {
		exitErr("open", err)
	}
	return a
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		exitErr("encode output", err)
	}
	fmt.Println(string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	switch {
	case errors.Is(err, store.ErrNotFound):
		os.Exit(2)
	case errors.Is(err, store.ErrBusy):
		os.Exit(3)
	}
	os.Exit(1)
}
