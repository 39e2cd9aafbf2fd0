package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"deskbot/internal/bus"
	"deskbot/internal/chat"
	"deskbot/internal/config"
	"deskbot/internal/escalation"
	"deskbot/internal/handoff"
	"deskbot/internal/provider"
	"deskbot/internal/retrieval"
	"deskbot/internal/sentiment"
	"deskbot/internal/server"
	"deskbot/internal/store"
	"deskbot/internal/ticket"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "deskbot",
		Short:   "deskbot: customer support assistant with human handoff",
		Long:    "deskbot answers support questions from an indexed knowledge base and hands frustrated or stuck conversations to a human agent.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.deskbot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(ingestCmd())
	root.AddCommand(doctorCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the chat API server",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger = newLogger(cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewSQLiteStore(cfg.Storage.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	eventBus := bus.New(100, logger)
	defer eventBus.Close()

	vocab, err := escalation.LoadVocab(cfg.Escalation.VocabPath)
	if err != nil {
		return err
	}
	engine := escalation.NewEngine(st, escalation.EngineConfig{
		Vocab:                vocab,
		SentimentWindow:      cfg.Escalation.SentimentWindow,
		MinLabeledMessages:   cfg.Escalation.MinLabeledMessages,
		RepetitionWindow:     cfg.Escalation.RepetitionWindow,
		MinUserMessages:      cfg.Escalation.MinUserMessages,
		SimilarityThreshold:  cfg.Escalation.SimilarityThreshold,
		ExactRepeatThreshold: cfg.Escalation.ExactRepeatThreshold,
		SimilarThreshold:     cfg.Escalation.SimilarThreshold,
		Logger:               logger,
	})

	notifierCfg := handoff.NotifierConfig{Logger: logger}
	if cfg.Handoff.Ticket.Enabled {
		notifierCfg.Tickets = ticket.NewClient(ticket.ClientConfig{
			Endpoint: cfg.Handoff.Ticket.Endpoint,
			Secret:   cfg.Handoff.Ticket.Secret,
			Logger:   logger,
		})
	}
	if cfg.Handoff.Telegram.Enabled {
		alerter, err := handoff.NewTelegramAlerter(cfg.Handoff.Telegram.Token, cfg.Handoff.Telegram.ChatID)
		if err != nil {
			return fmt.Errorf("telegram alerter: %w", err)
		}
		notifierCfg.Telegram = alerter
	}
	notifier := handoff.NewNotifier(notifierCfg)
	escalator := escalation.NewEscalator(st, notifier, eventBus, logger)

	openAI := provider.NewOpenAI(provider.OpenAIConfig{
		APIKey:          cfg.OpenAI.APIKey,
		Model:           cfg.OpenAI.Model,
		ClassifierModel: cfg.OpenAI.ClassifierModel,
		MaxTokens:       cfg.OpenAI.MaxTokens,
		Temperature:     cfg.OpenAI.Temperature,
		Logger:          logger,
	})

	retriever := retrieval.NewEngine(st, retrieval.EngineConfig{
		ChunkSize: cfg.Retrieval.ChunkSize,
		Overlap:   cfg.Retrieval.ChunkOverlap,
		Logger:    logger,
	})

	labeler := sentiment.NewLabeler(openAI, st,
		time.Duration(cfg.OpenAI.ClassifierTimeoutSeconds)*time.Second, logger)

	chatSvc := chat.NewService(st, engine, escalator, retriever, openAI, labeler, eventBus, chat.ServiceConfig{
		TopK:       cfg.Retrieval.TopK,
		MinScore:   cfg.Retrieval.MinScore,
		GenTimeout: time.Duration(cfg.OpenAI.TimeoutSeconds) * time.Second,
		Logger:     logger,
	})

	ingestor := handoff.NewIngestor(st, eventBus, logger)

	srv := server.New(chatSvc, ingestor, server.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeout) * time.Second,
		WebhookSecret:  cfg.Handoff.WebhookSecret,
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsPath:    cfg.Metrics.Path,
		Logger:         logger,
	})

	return srv.Start(ctx)
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Index documents into the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger = newLogger(cfg.Logging.Level)

			st, err := store.NewSQLiteStore(cfg.Storage.DBPath, logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			engine := retrieval.NewEngine(st, retrieval.EngineConfig{
				ChunkSize: cfg.Retrieval.ChunkSize,
				Overlap:   cfg.Retrieval.ChunkOverlap,
				Logger:    logger,
			})

			ctx := cmd.Context()
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				doc, err := engine.IndexDocument(ctx, filepath.Base(path), mimeTypeOf(path), string(data))
				if err != nil {
					return fmt.Errorf("index %s: %w", path, err)
				}
				fmt.Printf("indexed %s: id=%s chunks=%d\n", path, doc.ID, doc.ChunkCount)
			}
			return nil
		},
	}
}

func mimeTypeOf(path string) string {
	switch filepath.Ext(path) {
	case ".md":
		return "text/markdown"
	case ".html", ".htm":
		return "text/html"
	case ".json":
		return "application/json"
	default:
		return "text/plain"
	}
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				fmt.Printf("config:    FAIL (%v)\n", err)
				return err
			}
			fmt.Printf("config:    ok (%s)\n", cfgPath)

			st, err := store.NewSQLiteStore(cfg.Storage.DBPath, logger)
			if err != nil {
				fmt.Printf("storage:   FAIL (%v)\n", err)
				return err
			}
			docs, err := st.ListDocuments(cmd.Context())
			st.Close()
			if err != nil {
				fmt.Printf("storage:   FAIL (%v)\n", err)
				return err
			}
			fmt.Printf("storage:   ok (%s, %d documents)\n", cfg.Storage.DBPath, len(docs))

			if cfg.OpenAI.APIKey == "" {
				fmt.Println("openai:    MISSING api key")
			} else {
				fmt.Println("openai:    configured")
			}
			if cfg.Handoff.Ticket.Enabled {
				fmt.Printf("tickets:   enabled (%s)\n", cfg.Handoff.Ticket.Endpoint)
			} else {
				fmt.Println("tickets:   disabled")
			}
			if cfg.Handoff.Telegram.Enabled {
				fmt.Println("telegram:  enabled")
			} else {
				fmt.Println("telegram:  disabled")
			}
			return nil
		},
	}
}
