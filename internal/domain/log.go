package domain

import "time"

// DeploymentLog represents a log line emitted by the deployment worker.
type DeploymentLog struct {
	ID           int64
	DeploymentID string
	Step         string
	Level        string
	Message      string
	Metadata     []byte
	CreatedAt    time.Time
}
