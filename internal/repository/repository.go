package repository

import (
	"context"

	"github.com/shardhq/shard/internal/domain"
)

// UserRepository persists users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// ProjectRepository persists project configuration.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	UpdateProject(ctx context.Context, project *domain.Project) error
	DeleteProject(ctx context.Context, projectID string) error
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	ListProjectsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.Project, int, error)
	UpsertEnvVar(ctx context.Context, envVar *domain.ProjectEnvVar) error
	ListProjectEnvVars(ctx context.Context, projectID string) ([]domain.ProjectEnvVar, error)
}

// DeploymentRepository stores deployment history.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	UpdateDeploymentStatus(ctx context.Context, update domain.DeploymentStatusUpdate) error
	GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error)
	ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error)
}

// LogRepository handles deployment log persistence and retrieval.
type LogRepository interface {
	AppendLog(ctx context.Context, log domain.DeploymentLog) error
	ListLogsByDeployment(ctx context.Context, deploymentID string, limit, offset int) ([]domain.DeploymentLog, error)
}

// WebhookRepository stores per-project webhook secrets.
type WebhookRepository interface {
	UpsertWebhook(ctx context.Context, projectID string, secret []byte) error
	GetWebhookSecret(ctx context.Context, projectID string) ([]byte, error)
}
