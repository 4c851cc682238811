package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/takeshy/tagstash/internal/app"
	"github.com/takeshy/tagstash/internal/config"
	"github.com/takeshy/tagstash/internal/gemini"
	"github.com/takeshy/tagstash/internal/metrics"
)

var (
	Version     = "dev"
	apiKey      string
	configFile  string
	promptFile  string
	logLevel    string
	logFormat   string
	actorID     string
	actorRoles  []string
	parallelism int
)

var rootCmd = &cobra.Command{
	Use:     "tagstash",
	Short:   "AI-tagged image and video storage",
	Version: Version,
	Long: `tagstash stores images and videos under descriptive names.
Each upload is tagged by Gemini and saved as YYYYMMDD_tags_name.ext in a
monthly YYYYMM bucket, either on the local disk or in Google Drive.`,
	SilenceUsage: true,
}

// Execute runs the root command. SIGINT and SIGTERM cancel its context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	defaultActor := os.Getenv("USER")
	if defaultActor == "" {
		defaultActor = "cli"
	}

	rootCmd.PersistentFlags().StringVarP(&apiKey, "api-key", "k", "", "Gemini API key (or set GEMINI_API_KEY env var); tagging is disabled without one")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: $TAGSTASH_CONFIG or ~/.tagstash.json)")
	rootCmd.PersistentFlags().StringVar(&promptFile, "prompt-file", "", "File holding a custom tagging prompt")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	rootCmd.PersistentFlags().StringVar(&actorID, "as", defaultActor, "User id recorded for this command")
	rootCmd.PersistentFlags().StringSliceVar(&actorRoles, "roles", []string{"admin"}, "Roles held by the user")
	rootCmd.PersistentFlags().IntVarP(&parallelism, "parallelism", "p", 4, "Number of parallel uploads")
}

func getAPIKey() string {
	if apiKey != "" {
		return apiKey
	}
	return os.Getenv("GEMINI_API_KEY")
}

func currentActor() app.Actor {
	return app.Actor{ID: actorID, Roles: actorRoles}
}

func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", logLevel)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(logFormat) {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format: %s (must be text or json)", logFormat)
	}
}

// openService loads the configuration and wires the service around it.
// The caller must Close the returned service.
func openService(ctx context.Context) (*app.Service, *slog.Logger, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, nil, err
	}

	path := configFile
	if path == "" {
		if path, err = config.DefaultPath(); err != nil {
			return nil, nil, err
		}
	}
	store, err := config.NewStore(path, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open config: %w", err)
	}
	cfg, err := store.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	m, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	prompt, err := gemini.LoadPrompt(promptFile)
	if err != nil {
		return nil, nil, err
	}
	var client *gemini.Client
	if key := getAPIKey(); key != "" {
		client = gemini.NewClient(key)
	} else {
		logger.Warn("no Gemini API key, uploads will be stored without tags")
	}
	tagger := gemini.NewTagger(client, cfg.TaggingModelID,
		gemini.WithPrompt(prompt),
		gemini.WithLogger(logger),
		gemini.WithMetrics(m),
	)

	svc, err := app.New(ctx, app.Options{
		Store:       store,
		Tagger:      tagger,
		Metrics:     m,
		Logger:      logger,
		Parallelism: parallelism,
	})
	if err != nil {
		return nil, nil, err
	}
	return svc, logger, nil
}

// userError reduces err to what the user may see, logging the detail.
func userError(logger *slog.Logger, err error) error {
	msg := app.UserMessage(err)
	if msg != err.Error() {
		logger.Error("command failed", "error", err)
	}
	return fmt.Errorf("%s", msg)
}
