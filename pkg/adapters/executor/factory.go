package executor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/aescanero/scaleout/pkg/adapters/executor/anthropic"
	"github.com/aescanero/scaleout/pkg/adapters/executor/docker"
	"github.com/aescanero/scaleout/pkg/domain"
	"github.com/aescanero/scaleout/pkg/ports"
)

// Executor kinds
const (
	KindDocker    = "docker"
	KindAnthropic = "anthropic"
	KindEcho      = "echo"
)

// Config holds executor configuration
type Config struct {
	Kind      string
	Docker    docker.Config
	Anthropic anthropic.Config
	Logger    *zap.Logger
}

// NewPerformer creates a job executor based on kind
func NewPerformer(cfg *Config) (ports.Performer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Kind {
	case KindDocker:
		return docker.NewExecutor(cfg.Docker, logger.Named("docker"))
	case KindAnthropic:
		return anthropic.NewExecutor(cfg.Anthropic, logger.Named("anthropic"))
	case KindEcho:
		return ports.PerformerFunc(echo), nil
	default:
		return nil, fmt.Errorf("unsupported executor kind: %s", cfg.Kind)
	}
}

// echo copies the payload into the result
func echo(_ context.Context, job *domain.Job) error {
	job.Result = append(job.Result[:0:0], job.Payload...)
	return nil
}
