// Package config reads service configuration from CHIMERA_* environment
// variables.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Tenant     string
	CampaignID string
	ListenAddr string

	QueueBackend string
	StateBackend string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SQLitePath string

	PolicyPath string

	WorkerID      string
	PollInterval  time.Duration
	HITLThreshold float64

	ArtifactBackend string
	ArtifactRoot    string
	MinIOEndpoint   string
	MinIOAccessKey  string
	MinIOSecretKey  string
	MinIOBucket     string
	MinIOUseSSL     bool

	PlannerIntervalSeconds    int
	PerceptionIntervalSeconds int
	PerceptionThreshold       float64
	FeedURLs                  string
	FeedFiles                 string
}

func FromEnv() Config {
	return Config{
		Tenant:     getenv("CHIMERA_TENANT", "default"),
		CampaignID: getenv("CHIMERA_CAMPAIGN_ID", "campaign-1"),
		ListenAddr: getenv("CHIMERA_LISTEN_ADDR", ":8080"),

		QueueBackend: getenv("CHIMERA_QUEUE", "memory"),
		StateBackend: getenv("CHIMERA_STATE", "memory"),

		RedisAddr:     getenv("CHIMERA_REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("CHIMERA_REDIS_PASSWORD"),
		RedisDB:       getenvInt("CHIMERA_REDIS_DB", 0),

		SQLitePath: getenv("CHIMERA_SQLITE_PATH", "chimera.db"),

		PolicyPath: os.Getenv("CHIMERA_POLICY_FILE"),

		WorkerID:      getenv("CHIMERA_WORKER_ID", "worker-local"),
		PollInterval:  time.Duration(getenvInt("CHIMERA_POLL_MILLIS", 1000)) * time.Millisecond,
		HITLThreshold: getenvFloat("CHIMERA_HITL_THRESHOLD", 0.70),

		ArtifactBackend: getenv("CHIMERA_ARTIFACT_BACKEND", "none"),
		ArtifactRoot:    getenv("CHIMERA_ARTIFACT_ROOT", "/tmp/chimera-artifacts"),
		MinIOEndpoint:   os.Getenv("CHIMERA_MINIO_ENDPOINT"),
		MinIOAccessKey:  os.Getenv("CHIMERA_MINIO_ACCESS_KEY"),
		MinIOSecretKey:  os.Getenv("CHIMERA_MINIO_SECRET_KEY"),
		MinIOBucket:     getenv("CHIMERA_MINIO_BUCKET", "chimera-artifacts"),
		MinIOUseSSL:     getenvBool("CHIMERA_MINIO_USE_SSL", false),

		PlannerIntervalSeconds:    getenvInt("CHIMERA_PLANNER_INTERVAL_SECONDS", 5),
		PerceptionIntervalSeconds: getenvInt("CHIMERA_PERCEPTION_INTERVAL_SECONDS", 30),
		PerceptionThreshold:       getenvFloat("CHIMERA_PERCEPTION_THRESHOLD", 0.75),
		FeedURLs:                  os.Getenv("CHIMERA_FEED_URLS"),
		FeedFiles:                 os.Getenv("CHIMERA_FEED_FILES"),
	}
}

func getenv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}
