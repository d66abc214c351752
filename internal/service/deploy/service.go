package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/shardhq/shard/internal/domain"
	"github.com/shardhq/shard/internal/repository"
	"github.com/shardhq/shard/internal/service/logs"
	"github.com/shardhq/shard/internal/worker"
	"github.com/shardhq/shard/internal/ws"
)

// Status constants for deployments.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusFailed  = "failed"
	StatusSuccess = "success"
)

// Dispatcher hands deployment jobs to the external worker.
type Dispatcher interface {
	Dispatch(ctx context.Context, req worker.DispatchRequest) error
}

// EnvSource resolves the plaintext environment for a project.
type EnvSource interface {
	DecryptedEnv(ctx context.Context, projectID string) (map[string]string, error)
}

// Service orchestrates deployments via the deployment worker.
type Service struct {
	projects    repository.ProjectRepository
	deployments repository.DeploymentRepository
	dispatcher  Dispatcher
	env         EnvSource
	relay       logs.Relay
	logger      *slog.Logger
	logSvc      logs.Service
}

// New returns a deployment service.
func New(projects repository.ProjectRepository, deployments repository.DeploymentRepository, dispatcher Dispatcher, env EnvSource, relay logs.Relay, logger *slog.Logger, logSvc logs.Service) Service {
	return Service{
		projects:    projects,
		deployments: deployments,
		dispatcher:  dispatcher,
		env:         env,
		relay:       relay,
		logger:      logger,
		logSvc:      logSvc,
	}
}

// Trigger records a deployment and hands it to the worker.
func (s Service) Trigger(ctx context.Context, projectID, commitSHA string) (*domain.Deployment, error) {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	deployment := &domain.Deployment{
		ID:        uuid.NewString(),
		ProjectID: project.ID,
		CommitSHA: commitSHA,
		Status:    StatusPending,
		Step:      "queued",
		Message:   "deployment requested",
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := s.deployments.CreateDeployment(ctx, deployment); err != nil {
		return nil, err
	}
	env := map[string]string{}
	if s.env != nil {
		if env, err = s.env.DecryptedEnv(ctx, project.ID); err != nil {
			s.logger.Warn("env resolution failed, dispatching without env", "deployment_id", deployment.ID, "error", err)
			env = map[string]string{}
		}
	}
	req := worker.DispatchRequest{
		DeploymentID: deployment.ID,
		ProjectID:    project.ID,
		RepoURL:      project.RepoURL,
		Branch:       project.Branch,
		CommitSHA:    commitSHA,
		BuildCommand: project.BuildCommand,
		StartCommand: project.StartCommand,
		Env:          env,
	}
	if err := s.dispatcher.Dispatch(ctx, req); err != nil {
		s.logger.Error("worker dispatch failed", "deployment_id", deployment.ID, "error", err)
		s.updateStatus(ctx, domain.DeploymentStatusUpdate{
			DeploymentID: deployment.ID,
			Status:       StatusFailed,
			Step:         "dispatch",
			Message:      "failed to contact deployment worker",
			Error:        err.Error(),
			CompletedAt:  toPtr(time.Now().UTC()),
		})
		return nil, err
	}
	s.updateStatus(ctx, domain.DeploymentStatusUpdate{
		DeploymentID: deployment.ID,
		Status:       StatusRunning,
		Step:         "dispatch",
		Message:      "worker accepted deployment",
	})
	s.logger.Info("deployment queued", "deployment_id", deployment.ID, "project_id", project.ID)
	return deployment, nil
}

// CallbackPayload represents progress events from the deployment worker.
type CallbackPayload struct {
	DeploymentID string         `json:"deployment_id"`
	ProjectID    string         `json:"project_id"`
	Status       string         `json:"status"`
	Step         string         `json:"step"`
	Message      string         `json:"message"`
	URL          string         `json:"url"`
	Error        string         `json:"error"`
	Timestamp    time.Time      `json:"timestamp"`
	Metadata     map[string]any `json:"metadata"`
}

// Get returns one deployment.
func (s Service) Get(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	return s.deployments.GetDeploymentByID(ctx, deploymentID)
}

// ListByProject returns recent deployments for a project.
func (s Service) ListByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	return s.deployments.ListDeploymentsByProject(ctx, projectID, limit)
}

// ProcessCallback ingests deployment progress notifications from the worker.
func (s Service) ProcessCallback(ctx context.Context, payload CallbackPayload) error {
	if strings.TrimSpace(payload.DeploymentID) == "" {
		return errors.New("deployment_id required")
	}

	status := mapWorkerStatus(payload.Status)
	var completedAt *time.Time
	if status == StatusFailed || status == StatusSuccess {
		t := payload.Timestamp
		if t.IsZero() {
			t = time.Now().UTC()
		}
		completedAt = &t
	}

	metadata := mergeMetadata(payload)
	var metadataBytes []byte
	if len(metadata) > 0 {
		metadataBytes = mustJSON(metadata)
	}

	update := domain.DeploymentStatusUpdate{
		DeploymentID: payload.DeploymentID,
		Status:       status,
		Step:         payload.Step,
		Message:      payload.Message,
		URL:          payload.URL,
		Error:        payload.Error,
		Metadata:     metadataBytes,
		CompletedAt:  completedAt,
	}
	if err := s.deployments.UpdateDeploymentStatus(ctx, update); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return err
		}
		s.logger.Error("deployment status update failed", "deployment_id", payload.DeploymentID, "error", err)
		return err
	}

	logFields := []any{"deployment_id", payload.DeploymentID, "status", payload.Status, "step", payload.Step}
	if payload.URL != "" {
		logFields = append(logFields, "url", payload.URL)
	}
	if payload.Error != "" {
		logFields = append(logFields, "error", payload.Error)
	}
	s.logger.Info("deployment progress", logFields...)

	s.emitDeploymentLog(ctx, payload, metadataBytes)
	s.emitStatusEvent(payload, status, completedAt)
	return nil
}

func (s Service) emitDeploymentLog(ctx context.Context, payload CallbackPayload, metadata []byte) {
	entry := domain.DeploymentLog{
		DeploymentID: payload.DeploymentID,
		Step:         payload.Step,
		Level:        mapLogLevel(payload.Status),
		Message:      strings.TrimSpace(payload.Message),
		Metadata:     metadata,
		CreatedAt:    payload.Timestamp,
	}
	if entry.Message == "" {
		entry.Message = fmt.Sprintf("deployment %s status: %s", payload.DeploymentID, payload.Status)
	}
	if err := s.logSvc.Append(ctx, entry); err != nil {
		s.logger.Warn("failed to append deployment log", "deployment_id", payload.DeploymentID, "error", err)
	}
}

func (s Service) emitStatusEvent(payload CallbackPayload, status string, completedAt *time.Time) {
	if s.relay == nil {
		return
	}
	event := map[string]any{
		"deployment_id": payload.DeploymentID,
		"project_id":    payload.ProjectID,
		"status":        status,
		"step":          payload.Step,
	}
	if payload.URL != "" {
		event["url"] = payload.URL
	}
	if payload.Error != "" {
		event["error"] = payload.Error
	}
	if completedAt != nil {
		event["completed_at"] = completedAt.UTC().Format(time.RFC3339Nano)
	}
	s.relay.RelayDeploymentEvent(payload.DeploymentID, ws.EventDeploymentStatus, event)
}

func mergeMetadata(payload CallbackPayload) map[string]any {
	meta := make(map[string]any)
	for k, v := range payload.Metadata {
		meta[k] = v
	}
	if payload.ProjectID != "" {
		meta["project_id"] = payload.ProjectID
	}
	if payload.Step != "" {
		meta["step"] = payload.Step
	}
	if payload.Status != "" {
		meta["status"] = payload.Status
	}
	if payload.URL != "" {
		meta["url"] = payload.URL
	}
	if payload.Error != "" {
		meta["error"] = payload.Error
	}
	if !payload.Timestamp.IsZero() {
		meta["timestamp"] = payload.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return meta
}

func mapWorkerStatus(raw string) string {
	switch strings.ToLower(raw) {
	case "failed":
		return StatusFailed
	case "success", "ready":
		return StatusSuccess
	case "running", "building", "deploying":
		return StatusRunning
	case "queued", "pending":
		return StatusPending
	default:
		return StatusRunning
	}
}

func mapLogLevel(status string) string {
	if strings.EqualFold(status, "failed") {
		return "error"
	}
	return "info"
}

func (s Service) updateStatus(ctx context.Context, update domain.DeploymentStatusUpdate) {
	if err := s.deployments.UpdateDeploymentStatus(ctx, update); err != nil {
		s.logger.Warn("update deployment status failed", "deployment_id", update.DeploymentID, "error", err)
	}
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func toPtr(t time.Time) *time.Time {
	return &t
}
