package logs

import (
	"context"
	"encoding/json"
	"time"

	"log/slog"

	"github.com/shardhq/shard/internal/domain"
	"github.com/shardhq/shard/internal/repository"
	"github.com/shardhq/shard/internal/ws"
)

// Relay fans deployment events out to subscribed sessions.
type Relay interface {
	RelayDeploymentEvent(deploymentID, eventType string, data any)
}

// Service handles deployment log persistence and streaming.
type Service struct {
	repo   repository.LogRepository
	relay  Relay
	logger *slog.Logger
}

// New constructs a log service.
func New(repo repository.LogRepository, relay Relay, logger *slog.Logger) Service {
	return Service{repo: repo, relay: relay, logger: logger}
}

// Append stores a log line and pushes it to the deployment's room.
func (s Service) Append(ctx context.Context, entry domain.DeploymentLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	if entry.Level == "" {
		entry.Level = "info"
	}
	if err := s.repo.AppendLog(ctx, entry); err != nil {
		return err
	}
	s.broadcast(entry)
	return nil
}

// List returns persisted logs for a deployment.
func (s Service) List(ctx context.Context, deploymentID string, limit, offset int) ([]domain.DeploymentLog, error) {
	return s.repo.ListLogsByDeployment(ctx, deploymentID, limit, offset)
}

func (s Service) broadcast(entry domain.DeploymentLog) {
	if s.relay == nil {
		return
	}
	s.relay.RelayDeploymentEvent(entry.DeploymentID, ws.EventDeploymentLog, EventPayload(entry))
}

// EventPayload shapes a log entry for streaming payloads.
func EventPayload(entry domain.DeploymentLog) map[string]any {
	var metadata any
	if len(entry.Metadata) > 0 {
		metadata = json.RawMessage(entry.Metadata)
	}
	return map[string]any{
		"deployment_id": entry.DeploymentID,
		"step":          entry.Step,
		"level":         entry.Level,
		"message":       entry.Message,
		"metadata":      metadata,
		"timestamp":     entry.CreatedAt.Format(time.RFC3339Nano),
	}
}
