package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tutorlab/testcraft/internal/evaluate"
	"github.com/tutorlab/testcraft/internal/generate"
	"github.com/tutorlab/testcraft/internal/handler"
	"github.com/tutorlab/testcraft/internal/llm"
	"github.com/tutorlab/testcraft/internal/progress"
	"github.com/tutorlab/testcraft/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "testcraft",
		Short: "LLM-powered test generator and evaluator",
	}

	serve := serveCmd()
	root.AddCommand(serve)

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP test service",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "testcraft.db", "SQLite database path")
	f.String("llm-url", "https://api.groq.com/openai/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "", "API key for LLM (or set TESTCRAFT_LLM_KEY)")
	f.String("llm-model", "llama-3.1-8b-instant", "LLM model name")
	f.Float32("temperature", 0.3, "LLM sampling temperature (capped at 0.3)")
	f.Int("max-attempts", llm.DefaultMaxAttempts, "Structured-decode attempts per LLM call")
	f.Float64("mastery-threshold", evaluate.DefaultMasteryThreshold, "Normalized score below which a concept is weak")
	f.Duration("request-timeout", 60*time.Second, "Timeout per LLM attempt")
	f.Bool("skip-llm-check", false, "Skip the startup LLM health check")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("TESTCRAFT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("testcraft")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/testcraft")
	v.AddConfigPath("/etc/testcraft")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if v.GetString("llm-key") == "" {
		slog.Warn("no LLM API key configured; set --llm-key or TESTCRAFT_LLM_KEY")
	}

	llmClient := llm.NewClient(llm.Config{
		BaseURL:        v.GetString("llm-url"),
		APIKey:         v.GetString("llm-key"),
		Model:          v.GetString("llm-model"),
		Temperature:    float32(v.GetFloat64("temperature")),
		RequestTimeout: v.GetDuration("request-timeout"),
	})
	if !v.GetBool("skip-llm-check") {
		if err := llmClient.Ping(context.Background()); err != nil {
			return fmt.Errorf("LLM health check: %w", err)
		}
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
	}

	maxAttempts := v.GetInt("max-attempts")
	threshold := v.GetFloat64("mastery-threshold")

	generator := generate.New(llmClient, generate.Config{MaxAttempts: maxAttempts})
	evaluator := evaluate.New(llmClient, evaluate.Config{
		MaxAttempts:      maxAttempts,
		MasteryThreshold: threshold,
	})
	tracker := progress.New(db, progress.Config{MasteryThreshold: threshold})

	h := handler.New(db, generator, evaluator, tracker, handler.Info{
		Model:  v.GetString("llm-model"),
		LLMURL: v.GetString("llm-url"),
	})

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"model", v.GetString("llm-model"),
		"llm_url", v.GetString("llm-url"),
		"max_attempts", maxAttempts,
		"mastery_threshold", threshold,
	)
	return http.ListenAndServe(addr, r)
}
