package httpx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/shardhq/shard/internal/domain"
	"github.com/shardhq/shard/internal/health"
	"github.com/shardhq/shard/internal/repository"
	"github.com/shardhq/shard/internal/service/auth"
	"github.com/shardhq/shard/internal/service/deploy"
	"github.com/shardhq/shard/internal/service/logs"
	"github.com/shardhq/shard/internal/service/project"
	"github.com/shardhq/shard/internal/service/webhook"
	"github.com/shardhq/shard/internal/worker"
	"github.com/shardhq/shard/internal/ws"
	"github.com/shardhq/shard/pkg/config"
)

const testWorkerToken = "worker-secret"

type memoryStore struct {
	mu          sync.Mutex
	users       map[string]*domain.User
	usersByMail map[string]*domain.User
	projects    map[string]*domain.Project
	envVars     map[string][]domain.ProjectEnvVar
	deployments map[string]*domain.Deployment
	logLines    map[string][]domain.DeploymentLog
	webhooks    map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:       map[string]*domain.User{},
		usersByMail: map[string]*domain.User{},
		projects:    map[string]*domain.Project{},
		envVars:     map[string][]domain.ProjectEnvVar{},
		deployments: map[string]*domain.Deployment{},
		logLines:    map[string][]domain.DeploymentLog{},
		webhooks:    map[string][]byte{},
	}
}

func (m *memoryStore) CreateUser(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	m.usersByMail[user.Email] = user
	return nil
}

func (m *memoryStore) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.usersByMail[email]; ok {
		return user, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memoryStore) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memoryStore) CreateProject(_ context.Context, p *domain.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *p
	m.projects[p.ID] = &clone
	return nil
}

func (m *memoryStore) UpdateProject(_ context.Context, p *domain.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *p
	m.projects[p.ID] = &clone
	return nil
}

func (m *memoryStore) DeleteProject(_ context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.projects, projectID)
	return nil
}

func (m *memoryStore) GetProjectByID(_ context.Context, projectID string) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.projects[projectID]; ok {
		clone := *p
		return &clone, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memoryStore) ListProjectsByOwner(_ context.Context, ownerID string, limit, offset int) ([]domain.Project, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var owned []domain.Project
	for _, p := range m.projects {
		if p.OwnerID == ownerID {
			owned = append(owned, *p)
		}
	}
	total := len(owned)
	if offset >= len(owned) {
		return nil, total, nil
	}
	owned = owned[offset:]
	if limit > 0 && limit < len(owned) {
		owned = owned[:limit]
	}
	return owned, total, nil
}

func (m *memoryStore) UpsertEnvVar(_ context.Context, envVar *domain.ProjectEnvVar) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.envVars[envVar.ProjectID] = append(m.envVars[envVar.ProjectID], *envVar)
	return nil
}

func (m *memoryStore) ListProjectEnvVars(_ context.Context, projectID string) ([]domain.ProjectEnvVar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ProjectEnvVar(nil), m.envVars[projectID]...), nil
}

func (m *memoryStore) CreateDeployment(_ context.Context, d *domain.Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *d
	m.deployments[d.ID] = &clone
	return nil
}

func (m *memoryStore) UpdateDeploymentStatus(_ context.Context, update domain.DeploymentStatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deployments[update.DeploymentID]
	if !ok {
		return repository.ErrNotFound
	}
	d.Status = update.Status
	d.Step = update.Step
	d.Message = update.Message
	if update.URL != "" {
		d.URL = update.URL
	}
	d.Error = update.Error
	d.CompletedAt = update.CompletedAt
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memoryStore) GetDeploymentByID(_ context.Context, deploymentID string) (*domain.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.deployments[deploymentID]; ok {
		clone := *d
		return &clone, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memoryStore) ListDeploymentsByProject(_ context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Deployment
	for _, d := range m.deployments {
		if d.ProjectID == projectID {
			out = append(out, *d)
		}
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) AppendLog(_ context.Context, entry domain.DeploymentLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logLines[entry.DeploymentID] = append(m.logLines[entry.DeploymentID], entry)
	return nil
}

func (m *memoryStore) ListLogsByDeployment(_ context.Context, deploymentID string, limit, offset int) ([]domain.DeploymentLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := m.logLines[deploymentID]
	if offset >= len(lines) {
		return nil, nil
	}
	lines = lines[offset:]
	if limit > 0 && limit < len(lines) {
		lines = lines[:limit]
	}
	return append([]domain.DeploymentLog(nil), lines...), nil
}

func (m *memoryStore) UpsertWebhook(_ context.Context, projectID string, secret []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhooks[projectID] = secret
	return nil
}

func (m *memoryStore) GetWebhookSecret(_ context.Context, projectID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if secret, ok := m.webhooks[projectID]; ok {
		return secret, nil
	}
	return nil, repository.ErrNotFound
}

type recordingDispatcher struct {
	mu       sync.Mutex
	requests []worker.DispatchRequest
}

func (d *recordingDispatcher) Dispatch(_ context.Context, req worker.DispatchRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, req)
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

type routerFixture struct {
	router     *Router
	store      *memoryStore
	dispatcher *recordingDispatcher
	hub        *ws.Hub
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.APIConfig{
		Environment:      "production",
		JWTSecret:        "router-test-secret",
		EnvEncryptionKey: "router-test-secret",
		AccessTokenTTL:   time.Hour,
		RefreshTokenTTL:  24 * time.Hour,
		WorkerAuthToken:  testWorkerToken,
	}
	store := newMemoryStore()
	dispatcher := &recordingDispatcher{}

	authSvc := auth.New(store, logger, cfg)
	projectSvc := project.New(store, logger, cfg)
	producer := health.NewProducer(nil, nil, time.Second, logger)
	hub := ws.NewHub(func(ctx context.Context) any { return producer.Produce(ctx) }, time.Hour, logger)
	t.Cleanup(hub.Close)
	logSvc := logs.New(store, hub, logger)
	deploySvc := deploy.New(store, store, dispatcher, projectSvc, hub, logger, logSvc)
	webhookSvc := webhook.New(store, logger, cfg)

	router := NewRouter(logger, cfg, authSvc, projectSvc, deploySvc, logSvc, webhookSvc, producer, hub, nil)
	t.Cleanup(router.Close)
	return &routerFixture{router: router, store: store, dispatcher: dispatcher, hub: hub}
}

func (f *routerFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "10.0.0.1:55555"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *routerFixture) signup(t *testing.T, email string) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"email":    email,
		"name":     "Test User",
		"password": "long enough password",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup failed: %d %s", rec.Code, rec.Body.String())
	}
	body := decodeEnvelope(t, rec)
	data := body["data"].(map[string]any)
	tokens := data["tokens"].(map[string]any)
	return tokens["accessToken"].(string)
}

func (f *routerFixture) createProject(t *testing.T, token, name string) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/projects", token, map[string]string{
		"Name":    name,
		"RepoURL": "https://example.com/" + name + ".git",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create project failed: %d %s", rec.Code, rec.Body.String())
	}
	body := decodeEnvelope(t, rec)
	data := body["data"].(map[string]any)
	return data["ID"].(string)
}

func TestHealthEndpointReturnsEnvelope(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeEnvelope(t, rec)
	if body["success"] != true {
		t.Fatalf("expected success envelope, got %v", body)
	}
	if body["requestId"] == "" || body["requestId"] == nil {
		t.Fatal("expected request id on health response")
	}
	data := body["data"].(map[string]any)
	db := data["database"].(map[string]any)
	if db["status"] != "disconnected" {
		t.Fatalf("expected disconnected database without a pool, got %v", db["status"])
	}
}

func TestProtectedRoutesRejectMissingToken(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, "/projects", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	body := decodeEnvelope(t, rec)
	if body["errorCode"] != codeUnauthorized {
		t.Fatalf("expected %s, got %v", codeUnauthorized, body["errorCode"])
	}
}

func TestProjectCRUDFlow(t *testing.T) {
	f := newRouterFixture(t)
	token := f.signup(t, "alice@example.com")

	projectID := f.createProject(t, token, "shop")

	rec := f.do(t, http.MethodGet, "/projects?page=1&limit=10", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list projects failed: %d %s", rec.Code, rec.Body.String())
	}
	body := decodeEnvelope(t, rec)
	metaField := body["meta"].(map[string]any)
	pg := metaField["pagination"].(map[string]any)
	if pg["total"] != float64(1) {
		t.Fatalf("expected total 1, got %v", pg["total"])
	}

	rec = f.do(t, http.MethodGet, "/projects/"+projectID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get project failed: %d", rec.Code)
	}

	rec = f.do(t, http.MethodDelete, "/projects/"+projectID, token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete project failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/projects/"+projectID, token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestProjectOwnershipIsEnforced(t *testing.T) {
	f := newRouterFixture(t)
	aliceToken := f.signup(t, "alice@example.com")
	bobToken := f.signup(t, "bob@example.com")

	projectID := f.createProject(t, aliceToken, "shop")

	rec := f.do(t, http.MethodGet, "/projects/"+projectID, bobToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign project, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDeploymentTriggerAndCallback(t *testing.T) {
	f := newRouterFixture(t)
	token := f.signup(t, "alice@example.com")
	projectID := f.createProject(t, token, "shop")

	rec := f.do(t, http.MethodPost, "/projects/"+projectID+"/deployments", token, map[string]string{
		"commit_sha": "abc123",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("trigger failed: %d %s", rec.Code, rec.Body.String())
	}
	if f.dispatcher.count() != 1 {
		t.Fatalf("expected one worker dispatch, got %d", f.dispatcher.count())
	}
	body := decodeEnvelope(t, rec)
	data := body["data"].(map[string]any)
	deploymentID := data["ID"].(string)

	// Callback without the shared token is rejected.
	rec = f.do(t, http.MethodPost, "/worker/callback", "", map[string]any{
		"deployment_id": deploymentID,
		"status":        "ready",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without worker token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/worker/callback", bytes.NewReader(mustMarshal(t, map[string]any{
		"deployment_id": deploymentID,
		"project_id":    projectID,
		"status":        "ready",
		"step":          "release",
		"message":       "live",
	})))
	req.Header.Set("X-Worker-Token", testWorkerToken)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("callback failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/deployments/"+deploymentID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get deployment failed: %d", rec.Code)
	}
	body = decodeEnvelope(t, rec)
	data = body["data"].(map[string]any)
	if data["Status"] != deploy.StatusSuccess {
		t.Fatalf("expected success status after callback, got %v", data["Status"])
	}

	rec = f.do(t, http.MethodGet, "/deployments/"+deploymentID+"/logs", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get logs failed: %d", rec.Code)
	}
	body = decodeEnvelope(t, rec)
	lines := body["data"].([]any)
	if len(lines) != 1 {
		t.Fatalf("expected one log line from callback, got %d", len(lines))
	}
}

func TestWebhookEventTriggersDeployment(t *testing.T) {
	f := newRouterFixture(t)
	token := f.signup(t, "alice@example.com")
	projectID := f.createProject(t, token, "shop")

	rec := f.do(t, http.MethodPost, "/projects/"+projectID+"/webhook/secret", token, map[string]string{
		"secret": "hook-secret",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("store webhook secret failed: %d %s", rec.Code, rec.Body.String())
	}

	payload := []byte(`{"ref":"refs/heads/main","after":"deadbeef"}`)
	hasher := hmac.New(sha256.New, []byte("hook-secret"))
	hasher.Write(payload)
	signature := "sha256=" + hex.EncodeToString(hasher.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/projects/"+projectID+"/webhook", bytes.NewReader(payload))
	req.Header.Set("X-Hub-Signature-256", signature)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("webhook event failed: %d %s", rec.Code, rec.Body.String())
	}
	if f.dispatcher.count() != 1 {
		t.Fatalf("expected webhook to dispatch a deployment, got %d", f.dispatcher.count())
	}

	// Tampered payload must be rejected before any dispatch.
	req = httptest.NewRequest(http.MethodPost, "/projects/"+projectID+"/webhook", bytes.NewReader([]byte(`{"after":"evil"}`)))
	req.Header.Set("X-Hub-Signature-256", signature)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", rec.Code)
	}
	if f.dispatcher.count() != 1 {
		t.Fatalf("expected no extra dispatch, got %d", f.dispatcher.count())
	}
}

func TestRequestIDIsPreservedAndEchoed(t *testing.T) {
	f := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "trace-42")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if got := rec.Header().Get(requestIDHeader); got != "trace-42" {
		t.Fatalf("expected header echo, got %q", got)
	}
	body := decodeEnvelope(t, rec)
	if body["requestId"] != "trace-42" {
		t.Fatalf("expected body requestId trace-42, got %v", body["requestId"])
	}
}

func TestEnvVarsAreMaskedInListing(t *testing.T) {
	f := newRouterFixture(t)
	token := f.signup(t, "alice@example.com")
	projectID := f.createProject(t, token, "shop")

	rec := f.do(t, http.MethodPost, "/projects/"+projectID+"/env", token, map[string]string{
		"Key":   "API_KEY",
		"Value": "super-secret-value",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add env var failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/projects/"+projectID+"/env", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list env vars failed: %d", rec.Code)
	}
	body := decodeEnvelope(t, rec)
	vars := body["data"].([]any)
	if len(vars) != 1 {
		t.Fatalf("expected one env var, got %d", len(vars))
	}
	item := vars[0].(map[string]any)
	if item["value"] == "super-secret-value" {
		t.Fatal("expected masked value in listing")
	}
}

func TestSignupRateLimitKicksIn(t *testing.T) {
	f := newRouterFixture(t)

	var last int
	for i := 0; i < rateLimitSignup+1; i++ {
		rec := f.do(t, http.MethodPost, "/auth/signup", "", map[string]string{
			"email":    fmt.Sprintf("user%d@example.com", i),
			"name":     "U",
			"password": "long enough password",
		})
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after exceeding signup limit, got %d", last)
	}
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}
