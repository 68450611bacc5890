package config

import (
	"os"
	"time"
)

// Config holds server configuration.
type Config struct {
	Port             string
	LogLevel         string
	DatabaseURL      string
	JWTSecret        string
	SweepInterval    time.Duration
	EscalationWindow time.Duration
	EvidenceBucket   string
	EvidenceRegion   string
	EvidenceEndpoint string
	EvidenceDir      string
	NotifyWebhookURL string
	OTLPEndpoint     string
	ProfilesDir      string
	JurisdictionCode string
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		// Default to a local file for lite mode
		dbURL = "sqlite://aic.db"
	}

	sweep := durationEnv("SWEEP_INTERVAL", 15*time.Minute)
	window := durationEnv("ESCALATION_WINDOW", 72*time.Hour)

	evidenceDir := os.Getenv("EVIDENCE_DIR")
	if evidenceDir == "" {
		evidenceDir = "./evidence"
	}

	return &Config{
		Port:             port,
		LogLevel:         logLevel,
		DatabaseURL:      dbURL,
		JWTSecret:        os.Getenv("JWT_SECRET"),
		SweepInterval:    sweep,
		EscalationWindow: window,
		EvidenceBucket:   os.Getenv("EVIDENCE_BUCKET"),
		EvidenceRegion:   os.Getenv("EVIDENCE_REGION"),
		EvidenceEndpoint: os.Getenv("EVIDENCE_ENDPOINT"),
		EvidenceDir:      evidenceDir,
		NotifyWebhookURL: os.Getenv("NOTIFY_WEBHOOK_URL"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ProfilesDir:      os.Getenv("PROFILES_DIR"),
		JurisdictionCode: os.Getenv("JURISDICTION"),
	}
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
