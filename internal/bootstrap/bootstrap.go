// Package bootstrap builds backend stores from configuration so the
// service mains stay declarative.
package bootstrap

import (
	"fmt"
	"time"

	"github.com/amin3ltd/project-chimera/internal/artifact"
	"github.com/amin3ltd/project-chimera/internal/config"
	"github.com/amin3ltd/project-chimera/internal/policy"
	"github.com/amin3ltd/project-chimera/internal/state"
)

func NewQueueStore(cfg config.Config) (state.QueueStore, error) {
	switch cfg.QueueBackend {
	case "memory":
		return state.NewMemoryQueueStore(), nil
	case "redis":
		return state.NewRedisQueueStore(redisConfig(cfg)), nil
	default:
		return nil, fmt.Errorf("unsupported CHIMERA_QUEUE value %q", cfg.QueueBackend)
	}
}

func NewStateStore(cfg config.Config) (state.StateStore, error) {
	switch cfg.StateBackend {
	case "memory":
		return state.NewMemoryStateStore(), nil
	case "redis":
		return state.NewRedisStateStore(redisConfig(cfg)), nil
	case "sqlite":
		return state.NewSQLiteStateStore(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported CHIMERA_STATE value %q", cfg.StateBackend)
	}
}

// NewArtifactStore returns nil for the "none" backend; callers treat a
// nil store as inline-output-only.
func NewArtifactStore(cfg config.Config) (artifact.Store, error) {
	switch cfg.ArtifactBackend {
	case "none", "":
		return nil, nil
	case "local":
		return artifact.NewLocalStore(cfg.ArtifactRoot), nil
	case "minio":
		return artifact.NewMinIOStore(artifact.MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
	default:
		return nil, fmt.Errorf("unsupported CHIMERA_ARTIFACT_BACKEND value %q", cfg.ArtifactBackend)
	}
}

// NewPolicy loads the policy file when configured, compiled-in defaults
// otherwise.
func NewPolicy(cfg config.Config) (*policy.Engine, error) {
	if cfg.PolicyPath == "" {
		return policy.Default()
	}
	return policy.Load(cfg.PolicyPath)
}

func redisConfig(cfg config.Config) state.RedisConfig {
	return state.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Timeout:  3 * time.Second,
	}
}
