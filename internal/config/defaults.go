package config

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8080,
			RequestTimeout: 120,
		},
		Storage: StorageConfig{
			DBPath: "~/.deskbot/deskbot.db",
		},
		OpenAI: OpenAIConfig{
			Model:                    "gpt-4o-mini",
			ClassifierModel:          "gpt-4o-mini",
			MaxTokens:                1024,
			Temperature:              0.3,
			TimeoutSeconds:           60,
			ClassifierTimeoutSeconds: 10,
		},
		Retrieval: RetrievalConfig{
			TopK:         5,
			MinScore:     0.3,
			ChunkSize:    512,
			ChunkOverlap: 50,
		},
		Escalation: EscalationConfig{
			SentimentWindow:      3,
			MinLabeledMessages:   2,
			RepetitionWindow:     6,
			MinUserMessages:      4,
			SimilarityThreshold:  0.8,
			ExactRepeatThreshold: 2,
			SimilarThreshold:     3,
		},
		Handoff: HandoffConfig{
			Ticket: TicketConfig{
				Enabled: false,
			},
			Telegram: TelegramConfig{
				Enabled: false,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
