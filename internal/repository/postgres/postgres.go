package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shardhq/shard/internal/domain"
	"github.com/shardhq/shard/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository       = (*Repository)(nil)
	_ repository.ProjectRepository    = (*Repository)(nil)
	_ repository.DeploymentRepository = (*Repository)(nil)
	_ repository.LogRepository        = (*Repository)(nil)
	_ repository.WebhookRepository    = (*Repository)(nil)
)

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, email, name, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.pool.Exec(ctx, query, user.ID, user.Email, user.Name, user.PasswordHash, user.CreatedAt)
	return err
}

// GetUserByEmail fetches a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT id, email, name, password_hash, created_at FROM users WHERE email = $1`
	row := r.pool.QueryRow(ctx, query, email)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT id, email, name, password_hash, created_at FROM users WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateProject inserts a project record.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (id, owner_id, name, repo_url, branch, framework, build_command, start_command, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.pool.Exec(ctx, query, project.ID, project.OwnerID, project.Name, project.RepoURL,
		project.Branch, project.Framework, project.BuildCommand, project.StartCommand,
		project.CreatedAt, project.UpdatedAt)
	return err
}

// UpdateProject updates the mutable fields of a project.
func (r *Repository) UpdateProject(ctx context.Context, project *domain.Project) error {
	const query = `UPDATE projects
		SET name = $2, repo_url = $3, branch = $4, framework = $5, build_command = $6, start_command = $7, updated_at = $8
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, project.ID, project.Name, project.RepoURL, project.Branch,
		project.Framework, project.BuildCommand, project.StartCommand, project.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteProject removes a project and its dependent rows.
func (r *Repository) DeleteProject(ctx context.Context, projectID string) error {
	const query = `DELETE FROM projects WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, projectID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetProjectByID fetches a project.
func (r *Repository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	const query = `SELECT id, owner_id, name, repo_url, branch, framework, build_command, start_command, created_at, updated_at
		FROM projects WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, projectID)
	var p domain.Project
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.RepoURL, &p.Branch, &p.Framework,
		&p.BuildCommand, &p.StartCommand, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ListProjectsByOwner returns a page of projects and the total count for the owner.
func (r *Repository) ListProjectsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.Project, int, error) {
	const countQuery = `SELECT COUNT(1) FROM projects WHERE owner_id = $1`
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, ownerID).Scan(&total); err != nil {
		return nil, 0, err
	}
	const query = `SELECT id, owner_id, name, repo_url, branch, framework, build_command, start_command, created_at, updated_at
		FROM projects WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var projects []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.RepoURL, &p.Branch, &p.Framework,
			&p.BuildCommand, &p.StartCommand, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, err
		}
		projects = append(projects, p)
	}
	return projects, total, rows.Err()
}

// UpsertEnvVar stores or replaces an encrypted environment variable.
func (r *Repository) UpsertEnvVar(ctx context.Context, envVar *domain.ProjectEnvVar) error {
	const query = `INSERT INTO project_env_vars (project_id, key, value, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, key) DO UPDATE SET value = EXCLUDED.value`
	_, err := r.pool.Exec(ctx, query, envVar.ProjectID, envVar.Key, envVar.Value, envVar.CreatedAt)
	return err
}

// ListProjectEnvVars lists encrypted environment variables for a project.
func (r *Repository) ListProjectEnvVars(ctx context.Context, projectID string) ([]domain.ProjectEnvVar, error) {
	const query = `SELECT project_id, key, value, created_at FROM project_env_vars
		WHERE project_id = $1 ORDER BY key`
	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var vars []domain.ProjectEnvVar
	for rows.Next() {
		var v domain.ProjectEnvVar
		if err := rows.Scan(&v.ProjectID, &v.Key, &v.Value, &v.CreatedAt); err != nil {
			return nil, err
		}
		vars = append(vars, v)
	}
	return vars, rows.Err()
}

// CreateDeployment inserts a deployment record.
func (r *Repository) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	const query = `INSERT INTO deployments (id, project_id, commit_sha, status, step, message, url, error, metadata, started_at, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.pool.Exec(ctx, query, deployment.ID, deployment.ProjectID, deployment.CommitSHA,
		deployment.Status, deployment.Step, deployment.Message, deployment.URL, deployment.Error,
		deployment.Metadata, deployment.StartedAt, deployment.CompletedAt, deployment.UpdatedAt)
	return err
}

// UpdateDeploymentStatus applies a status update.
func (r *Repository) UpdateDeploymentStatus(ctx context.Context, update domain.DeploymentStatusUpdate) error {
	const query = `UPDATE deployments
		SET status = $2,
			step = COALESCE(NULLIF($3, ''), step),
			message = COALESCE(NULLIF($4, ''), message),
			url = COALESCE(NULLIF($5, ''), url),
			error = COALESCE(NULLIF($6, ''), error),
			metadata = COALESCE($7, metadata),
			completed_at = COALESCE($8, completed_at),
			updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, update.DeploymentID, update.Status, update.Step,
		update.Message, update.URL, update.Error, update.Metadata, update.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetDeploymentByID fetches a deployment.
func (r *Repository) GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	const query = `SELECT id, project_id, commit_sha, status, step, message, url, error, metadata, started_at, completed_at, updated_at
		FROM deployments WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, deploymentID)
	var d domain.Deployment
	if err := row.Scan(&d.ID, &d.ProjectID, &d.CommitSHA, &d.Status, &d.Step, &d.Message,
		&d.URL, &d.Error, &d.Metadata, &d.StartedAt, &d.CompletedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// ListDeploymentsByProject returns recent deployments for a project.
func (r *Repository) ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT id, project_id, commit_sha, status, step, message, url, error, metadata, started_at, completed_at, updated_at
		FROM deployments WHERE project_id = $1 ORDER BY started_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var deployments []domain.Deployment
	for rows.Next() {
		var d domain.Deployment
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.CommitSHA, &d.Status, &d.Step, &d.Message,
			&d.URL, &d.Error, &d.Metadata, &d.StartedAt, &d.CompletedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}

// AppendLog stores a deployment log line.
func (r *Repository) AppendLog(ctx context.Context, log domain.DeploymentLog) error {
	const query = `INSERT INTO deployment_logs (deployment_id, step, level, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	createdAt := log.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, query, log.DeploymentID, log.Step, log.Level, log.Message, log.Metadata, createdAt)
	return err
}

// ListLogsByDeployment returns persisted log lines in chronological order.
func (r *Repository) ListLogsByDeployment(ctx context.Context, deploymentID string, limit, offset int) ([]domain.DeploymentLog, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	const query = `SELECT id, deployment_id, step, level, message, metadata, created_at
		FROM deployment_logs WHERE deployment_id = $1 ORDER BY id LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, deploymentID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []domain.DeploymentLog
	for rows.Next() {
		var l domain.DeploymentLog
		if err := rows.Scan(&l.ID, &l.DeploymentID, &l.Step, &l.Level, &l.Message, &l.Metadata, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// UpsertWebhook stores encrypted webhook secret bytes for a project.
func (r *Repository) UpsertWebhook(ctx context.Context, projectID string, secret []byte) error {
	const query = `INSERT INTO project_webhooks (project_id, secret, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (project_id) DO UPDATE SET secret = EXCLUDED.secret`
	_, err := r.pool.Exec(ctx, query, projectID, secret)
	return err
}

// GetWebhookSecret loads the encrypted webhook secret for a project.
func (r *Repository) GetWebhookSecret(ctx context.Context, projectID string) ([]byte, error) {
	const query = `SELECT secret FROM project_webhooks WHERE project_id = $1`
	var secret []byte
	if err := r.pool.QueryRow(ctx, query, projectID).Scan(&secret); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return secret, nil
}
