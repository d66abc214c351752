package domain

import "time"

// Project describes a deployable unit.
type Project struct {
	ID           string
	OwnerID      string
	Name         string
	RepoURL      string
	Branch       string
	Framework    string
	BuildCommand string
	StartCommand string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ProjectEnvVar stores an encrypted environment variable.
type ProjectEnvVar struct {
	ProjectID string
	Key       string
	Value     []byte
	CreatedAt time.Time
}
