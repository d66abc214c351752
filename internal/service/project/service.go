package project

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/shardhq/shard/internal/domain"
	"github.com/shardhq/shard/internal/repository"
	"github.com/shardhq/shard/pkg/config"
	"github.com/shardhq/shard/pkg/crypto"
)

// CreateInput encapsulates project creation attributes.
type CreateInput struct {
	OwnerID      string
	Name         string
	RepoURL      string
	Branch       string
	Framework    string
	BuildCommand string
	StartCommand string
}

// UpdateInput holds mutable project fields. Empty strings leave the
// stored value untouched.
type UpdateInput struct {
	ProjectID    string
	Name         string
	Branch       string
	Framework    string
	BuildCommand string
	StartCommand string
}

// EnvVarInput holds environment variable data.
type EnvVarInput struct {
	ProjectID string
	Key       string
	Value     string
}

// Service orchestrates project management.
type Service struct {
	projects repository.ProjectRepository
	logger   *slog.Logger
	cfg      config.APIConfig
}

// New returns a project service.
func New(projects repository.ProjectRepository, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{projects: projects, logger: logger, cfg: cfg}
}

// EnvVar represents an environment variable for API responses. Value is
// masked so secrets never round-trip through list endpoints.
type EnvVar struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

var (
	errInvalidProjectName = errors.New("project name is required")
	errInvalidRepoURL     = errors.New("repository URL is required")
	errInvalidEnvKey      = errors.New("environment variable key is required")
	errMissingOwnerID     = errors.New("owner id required")
	errMissingProjectID   = errors.New("project id required")
	// ErrNotOwner signals that the caller does not own the project.
	ErrNotOwner = errors.New("project belongs to another user")
)

// Create registers a new project.
func (s Service) Create(ctx context.Context, input CreateInput) (*domain.Project, error) {
	if strings.TrimSpace(input.OwnerID) == "" {
		return nil, errMissingOwnerID
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, errInvalidProjectName
	}
	if strings.TrimSpace(input.RepoURL) == "" {
		return nil, errInvalidRepoURL
	}
	branch := strings.TrimSpace(input.Branch)
	if branch == "" {
		branch = "main"
	}
	now := time.Now().UTC()
	project := &domain.Project{
		ID:           uuid.NewString(),
		OwnerID:      input.OwnerID,
		Name:         strings.TrimSpace(input.Name),
		RepoURL:      strings.TrimSpace(input.RepoURL),
		Branch:       branch,
		Framework:    strings.TrimSpace(input.Framework),
		BuildCommand: input.BuildCommand,
		StartCommand: input.StartCommand,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.projects.CreateProject(ctx, project); err != nil {
		return nil, err
	}
	s.logger.Info("project created", "project_id", project.ID, "owner_id", project.OwnerID)
	return project, nil
}

// Update applies the non-empty fields of input to an owned project.
func (s Service) Update(ctx context.Context, ownerID string, input UpdateInput) (*domain.Project, error) {
	project, err := s.GetOwned(ctx, ownerID, input.ProjectID)
	if err != nil {
		return nil, err
	}
	if v := strings.TrimSpace(input.Name); v != "" {
		project.Name = v
	}
	if v := strings.TrimSpace(input.Branch); v != "" {
		project.Branch = v
	}
	if v := strings.TrimSpace(input.Framework); v != "" {
		project.Framework = v
	}
	if input.BuildCommand != "" {
		project.BuildCommand = input.BuildCommand
	}
	if input.StartCommand != "" {
		project.StartCommand = input.StartCommand
	}
	project.UpdatedAt = time.Now().UTC()
	if err := s.projects.UpdateProject(ctx, project); err != nil {
		return nil, err
	}
	return project, nil
}

// Delete removes an owned project.
func (s Service) Delete(ctx context.Context, ownerID, projectID string) error {
	if _, err := s.GetOwned(ctx, ownerID, projectID); err != nil {
		return err
	}
	if err := s.projects.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	s.logger.Info("project deleted", "project_id", projectID, "owner_id", ownerID)
	return nil
}

// ListByOwner returns a page of the owner's projects plus the total count.
func (s Service) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.Project, int, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, 0, errMissingOwnerID
	}
	return s.projects.ListProjectsByOwner(ctx, ownerID, limit, offset)
}

// Get returns project details by identifier.
func (s Service) Get(ctx context.Context, projectID string) (*domain.Project, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errMissingProjectID
	}
	return s.projects.GetProjectByID(ctx, projectID)
}

// GetOwned returns the project only when it belongs to ownerID.
func (s Service) GetOwned(ctx context.Context, ownerID, projectID string) (*domain.Project, error) {
	project, err := s.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return project, nil
}

// AddEnvVar encrypts and stores an environment variable.
func (s Service) AddEnvVar(ctx context.Context, ownerID string, input EnvVarInput) error {
	if strings.TrimSpace(input.Key) == "" {
		return errInvalidEnvKey
	}
	if _, err := s.GetOwned(ctx, ownerID, input.ProjectID); err != nil {
		return err
	}
	ciphertext, err := crypto.EncryptString(s.cfg.EnvEncryptionKey, input.Value)
	if err != nil {
		return err
	}
	envVar := &domain.ProjectEnvVar{
		ProjectID: input.ProjectID,
		Key:       input.Key,
		Value:     ciphertext,
		CreatedAt: time.Now().UTC(),
	}
	return s.projects.UpsertEnvVar(ctx, envVar)
}

// ListEnvVars returns stored environment variables with masked values.
func (s Service) ListEnvVars(ctx context.Context, ownerID, projectID string) ([]EnvVar, error) {
	if _, err := s.GetOwned(ctx, ownerID, projectID); err != nil {
		return nil, err
	}
	stored, err := s.projects.ListProjectEnvVars(ctx, projectID)
	if err != nil {
		return nil, err
	}
	vars := make([]EnvVar, 0, len(stored))
	for _, item := range stored {
		value, err := crypto.DecryptToString(s.cfg.EnvEncryptionKey, item.Value)
		if err != nil {
			s.logger.Warn("failed to decrypt env var", "project_id", projectID, "key", item.Key, "error", err)
			continue
		}
		vars = append(vars, EnvVar{Key: item.Key, Value: maskValue(value)})
	}
	return vars, nil
}

// DecryptedEnv returns the plaintext environment for worker dispatch.
func (s Service) DecryptedEnv(ctx context.Context, projectID string) (map[string]string, error) {
	stored, err := s.projects.ListProjectEnvVars(ctx, projectID)
	if err != nil {
		return nil, err
	}
	env := make(map[string]string, len(stored))
	for _, item := range stored {
		value, err := crypto.DecryptToString(s.cfg.EnvEncryptionKey, item.Value)
		if err != nil {
			s.logger.Warn("failed to decrypt env var", "project_id", projectID, "key", item.Key, "error", err)
			continue
		}
		env[item.Key] = value
	}
	return env, nil
}

func maskValue(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return value[:2] + strings.Repeat("*", 4)
}
