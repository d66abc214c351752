package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"log/slog"

	"github.com/shardhq/shard/internal/repository"
	"github.com/shardhq/shard/pkg/config"
	"github.com/shardhq/shard/pkg/crypto"
)

// Service handles webhook secret storage and signature validation.
type Service struct {
	repo   repository.WebhookRepository
	logger *slog.Logger
	cfg    config.APIConfig
}

// New constructs a webhook service.
func New(repo repository.WebhookRepository, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{repo: repo, logger: logger, cfg: cfg}
}

var (
	errSecretRequired   = errors.New("secret is required")
	errMissingSignature = errors.New("missing webhook signature")
	// ErrBadSignature is returned when the payload digest does not match.
	ErrBadSignature = errors.New("invalid webhook signature")
)

// UpsertSecret stores the encrypted signing secret for a project.
func (s Service) UpsertSecret(ctx context.Context, projectID string, secret string) error {
	value := strings.TrimSpace(secret)
	if value == "" {
		return errSecretRequired
	}
	payload, err := crypto.EncryptString(s.cfg.EnvEncryptionKey, value)
	if err != nil {
		return err
	}
	return s.repo.UpsertWebhook(ctx, projectID, payload)
}

// ValidateSignature checks a GitHub-style sha256 HMAC signature header
// ("sha256=<hex digest>") against the payload.
func (s Service) ValidateSignature(payload []byte, secret []byte, provided string) error {
	provided = strings.TrimSpace(provided)
	if provided == "" {
		return errMissingSignature
	}
	provided = strings.TrimPrefix(provided, "sha256=")
	hasher := hmac.New(sha256.New, secret)
	hasher.Write(payload)
	expected := hex.EncodeToString(hasher.Sum(nil))
	if !hmac.Equal([]byte(provided), []byte(expected)) {
		return ErrBadSignature
	}
	return nil
}

// CheckSignature loads the secret for a project and verifies the payload.
func (s Service) CheckSignature(ctx context.Context, projectID string, payload []byte, provided string) error {
	secret, err := s.repo.GetWebhookSecret(ctx, projectID)
	if err != nil {
		return err
	}
	raw, err := crypto.DecryptToString(s.cfg.EnvEncryptionKey, secret)
	if err != nil {
		return err
	}
	return s.ValidateSignature(payload, []byte(raw), provided)
}
