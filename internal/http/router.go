package httpx

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shardhq/shard/internal/health"
	"github.com/shardhq/shard/internal/repository"
	"github.com/shardhq/shard/internal/service/auth"
	"github.com/shardhq/shard/internal/service/deploy"
	"github.com/shardhq/shard/internal/service/logs"
	"github.com/shardhq/shard/internal/service/project"
	"github.com/shardhq/shard/internal/service/webhook"
	"github.com/shardhq/shard/internal/ws"
	"github.com/shardhq/shard/pkg/config"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux     *http.ServeMux
	logger  *slog.Logger
	cfg     config.APIConfig
	auth    auth.Service
	project project.Service
	deploy  deploy.Service
	logs    logs.Service
	webhook webhook.Service
	health  *health.Producer
	hub     *ws.Hub

	upgrader    websocket.Upgrader
	limiter     RateLimiter
	workerToken string

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault       = time.Minute
	rateWindowRealtime      = 30 * time.Second
	rateLimitSignup         = 5
	rateLimitLogin          = 12
	rateLimitUserWrite      = 60
	rateLimitUserRead       = 120
	rateLimitWebsocket      = 30
	rateLimitWorkerCallback = 600

	defaultPageLimit = 20
	maxPageLimit     = 100

	sseHeartbeatInterval = 25 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, cfg config.APIConfig, authSvc auth.Service, projectSvc project.Service, deploySvc deploy.Service, logSvc logs.Service, webhookSvc webhook.Service, producer *health.Producer, hub *ws.Hub, limiter RateLimiter) *Router {
	r := &Router{
		mux:         http.NewServeMux(),
		logger:      logger,
		cfg:         cfg,
		auth:        authSvc,
		project:     projectSvc,
		deploy:      deploySvc,
		logs:        logSvc,
		webhook:     webhookSvc,
		health:      producer,
		hub:         hub,
		limiter:     limiter,
		workerToken: strings.TrimSpace(cfg.WorkerAuthToken),
	}
	r.upgrader = websocket.Upgrader{
		CheckOrigin: func(req *http.Request) bool {
			if cfg.AllowedOrigin == "" {
				return true
			}
			return req.Header.Get("Origin") == cfg.AllowedOrigin
		},
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/health", r.audit("/health", r.handleHealth))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/auth/signup", r.audit("/auth/signup", r.withRateLimit("/auth/signup", rateLimitSignup, rateWindowDefault, rateLimitKeyIP, r.handleSignup)))
	r.mux.HandleFunc("/auth/login", r.audit("/auth/login", r.withRateLimit("/auth/login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/projects", r.audit("/projects", r.handlerAuthRate("/projects", rateLimitUserWrite, rateWindowDefault, r.handleProjects)))
	r.mux.HandleFunc("/projects/", r.audit("/projects/", r.handleProjectSubroutes))
	r.mux.HandleFunc("/deployments/", r.audit("/deployments/", r.handlerAuthRate("/deployments/", rateLimitUserRead, rateWindowDefault, r.handleDeploymentSubroutes)))
	r.mux.HandleFunc("/ws", r.audit("/ws", r.handlerAuthRate("/ws", rateLimitWebsocket, rateWindowRealtime, r.handleWS)))
	r.mux.HandleFunc("/worker/callback", r.audit("/worker/callback", r.withRateLimit("/worker/callback", rateLimitWorkerCallback, rateWindowDefault, rateLimitKeyIP, r.handleWorkerCallback)))
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w, req)
		return
	}
	snapshot := r.health.Produce(req.Context())
	if snapshot.Status != health.StatusOK {
		writeEnvelope(w, req, http.StatusInternalServerError, envelope{
			Success: false,
			Message: "Health check failed",
			Data:    snapshot,
		})
		return
	}
	writeSuccess(w, req, snapshot, "Health check")
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w, req)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, req, http.StatusBadRequest, "Invalid JSON body", codeBadRequest)
		return
	}
	user, tokens, err := r.auth.Signup(req.Context(), payload.Email, payload.Name, payload.Password)
	if err != nil {
		writeValidationError(w, req, map[string]string{"credentials": err.Error()}, "Signup failed")
		return
	}
	writeCreated(w, req, map[string]any{
		"user":   userView(user.ID, user.Email, user.Name),
		"tokens": tokenView(tokens),
	}, "Account created")
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w, req)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, req, http.StatusBadRequest, "Invalid JSON body", codeBadRequest)
		return
	}
	user, tokens, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		writeUnauthorized(w, req, "Invalid credentials")
		return
	}
	writeSuccess(w, req, map[string]any{
		"user":   userView(user.ID, user.Email, user.Name),
		"tokens": tokenView(tokens),
	}, "Logged in")
}

func userView(id, email, name string) map[string]any {
	return map[string]any{"id": id, "email": email, "name": name}
}

func tokenView(tokens auth.TokenPair) map[string]any {
	return map[string]any{
		"accessToken":  tokens.AccessToken,
		"refreshToken": tokens.RefreshToken,
		"expiresIn":    int(tokens.ExpiresIn.Seconds()),
	}
}

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	switch req.Method {
	case http.MethodPost:
		var payload project.CreateInput
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, req, http.StatusBadRequest, "Invalid JSON body", codeBadRequest)
			return
		}
		payload.OwnerID = info.UserID
		proj, err := r.project.Create(req.Context(), payload)
		if err != nil {
			writeValidationError(w, req, map[string]string{"project": err.Error()}, "Project validation failed")
			return
		}
		writeCreated(w, req, proj, "Project created")
	case http.MethodGet:
		page, limit := pageParams(req)
		projects, total, err := r.project.ListByOwner(req.Context(), info.UserID, limit, (page-1)*limit)
		if err != nil {
			writeServerError(w, req, "Could not list projects", err.Error(), r.cfg.IsDevelopment())
			return
		}
		writePaginated(w, req, projects, page, limit, total, "Projects")
	default:
		r.methodNotAllowed(w, req)
	}
}

func (r *Router) handleProjectSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/projects/")
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeNotFound(w, req, "Project")
		return
	}
	projectID := parts[0]
	if len(parts) == 2 && parts[1] == "webhook" {
		// GitHub signs these; bearer auth does not apply.
		r.handleWebhookEvent(w, req, projectID)
		return
	}
	authed := func(next http.HandlerFunc) http.HandlerFunc {
		return r.handlerAuthRate("/projects/", rateLimitUserWrite, rateWindowDefault, next)
	}
	switch {
	case len(parts) == 1:
		authed(func(w http.ResponseWriter, req *http.Request) {
			r.handleProject(w, req, projectID)
		})(w, req)
	case len(parts) == 2 && parts[1] == "env":
		authed(func(w http.ResponseWriter, req *http.Request) {
			r.handleProjectEnv(w, req, projectID)
		})(w, req)
	case len(parts) == 2 && parts[1] == "deployments":
		authed(func(w http.ResponseWriter, req *http.Request) {
			r.handleProjectDeployments(w, req, projectID)
		})(w, req)
	case len(parts) == 3 && parts[1] == "webhook" && parts[2] == "secret":
		authed(func(w http.ResponseWriter, req *http.Request) {
			r.handleWebhookSecret(w, req, projectID)
		})(w, req)
	default:
		writeNotFound(w, req, "Resource")
	}
}

func (r *Router) handleProject(w http.ResponseWriter, req *http.Request, projectID string) {
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	switch req.Method {
	case http.MethodGet:
		proj, err := r.project.GetOwned(req.Context(), info.UserID, projectID)
		if err != nil {
			r.projectError(w, req, err)
			return
		}
		writeSuccess(w, req, proj, "Project")
	case http.MethodPut, http.MethodPatch:
		var payload project.UpdateInput
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, req, http.StatusBadRequest, "Invalid JSON body", codeBadRequest)
			return
		}
		payload.ProjectID = projectID
		proj, err := r.project.Update(req.Context(), info.UserID, payload)
		if err != nil {
			r.projectError(w, req, err)
			return
		}
		writeSuccess(w, req, proj, "Project updated")
	case http.MethodDelete:
		if err := r.project.Delete(req.Context(), info.UserID, projectID); err != nil {
			r.projectError(w, req, err)
			return
		}
		writeNoContent(w)
	default:
		r.methodNotAllowed(w, req)
	}
}

func (r *Router) handleProjectEnv(w http.ResponseWriter, req *http.Request, projectID string) {
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	switch req.Method {
	case http.MethodPost:
		var payload project.EnvVarInput
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, req, http.StatusBadRequest, "Invalid JSON body", codeBadRequest)
			return
		}
		payload.ProjectID = projectID
		if err := r.project.AddEnvVar(req.Context(), info.UserID, payload); err != nil {
			r.projectError(w, req, err)
			return
		}
		writeCreated(w, req, nil, "Environment variable stored")
	case http.MethodGet:
		vars, err := r.project.ListEnvVars(req.Context(), info.UserID, projectID)
		if err != nil {
			r.projectError(w, req, err)
			return
		}
		writeSuccess(w, req, vars, "Environment variables")
	default:
		r.methodNotAllowed(w, req)
	}
}

func (r *Router) handleProjectDeployments(w http.ResponseWriter, req *http.Request, projectID string) {
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	if _, err := r.project.GetOwned(req.Context(), info.UserID, projectID); err != nil {
		r.projectError(w, req, err)
		return
	}
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			CommitSHA string `json:"commit_sha"`
		}
		_ = json.NewDecoder(req.Body).Decode(&payload)
		deployment, err := r.deploy.Trigger(req.Context(), projectID, payload.CommitSHA)
		if err != nil {
			writeServerError(w, req, "Could not trigger deployment", err.Error(), r.cfg.IsDevelopment())
			return
		}
		writeAccepted(w, req, deployment, "Deployment queued")
	case http.MethodGet:
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		if limit <= 0 || limit > maxPageLimit {
			limit = defaultPageLimit
		}
		deployments, err := r.deploy.ListByProject(req.Context(), projectID, limit)
		if err != nil {
			writeServerError(w, req, "Could not list deployments", err.Error(), r.cfg.IsDevelopment())
			return
		}
		writeSuccess(w, req, deployments, "Deployments")
	default:
		r.methodNotAllowed(w, req)
	}
}

func (r *Router) handleDeploymentSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/deployments/")
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeNotFound(w, req, "Deployment")
		return
	}
	deploymentID := parts[0]
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	deployment, err := r.deploy.Get(req.Context(), deploymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeNotFound(w, req, "Deployment")
			return
		}
		writeServerError(w, req, "Could not load deployment", err.Error(), r.cfg.IsDevelopment())
		return
	}
	if _, err := r.project.GetOwned(req.Context(), info.UserID, deployment.ProjectID); err != nil {
		r.projectError(w, req, err)
		return
	}
	switch {
	case len(parts) == 1 && req.Method == http.MethodGet:
		writeSuccess(w, req, deployment, "Deployment")
	case len(parts) == 2 && parts[1] == "logs" && req.Method == http.MethodGet:
		r.handleDeploymentLogs(w, req, deploymentID)
	case len(parts) == 3 && parts[1] == "logs" && parts[2] == "stream" && req.Method == http.MethodGet:
		r.handleDeploymentLogStream(w, req, deploymentID)
	default:
		writeNotFound(w, req, "Resource")
	}
}

func (r *Router) handleDeploymentLogs(w http.ResponseWriter, req *http.Request, deploymentID string) {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 100
	}
	offset, _ := strconv.Atoi(req.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	entries, err := r.logs.List(req.Context(), deploymentID, limit, offset)
	if err != nil {
		writeServerError(w, req, "Could not load logs", err.Error(), r.cfg.IsDevelopment())
		return
	}
	views := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		views = append(views, logs.EventPayload(entry))
	}
	writeSuccess(w, req, views, "Deployment logs")
}

// handleDeploymentLogStream serves the deployment room over server-sent
// events for clients that cannot hold a websocket.
func (r *Router) handleDeploymentLogStream(w http.ResponseWriter, req *http.Request, deploymentID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeServerError(w, req, "Streaming unsupported", "", false)
		return
	}
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	session := r.hub.Register(client, clientIP(req))
	r.hub.JoinRoom(session, deploymentID)
	defer func() {
		r.hub.Unregister(session)
		client.Close()
	}()

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-heartbeat.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleWS(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w, req)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	go ws.Serve(r.hub, conn, clientIP(req), r.logger)
}

func (r *Router) handleWorkerCallback(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w, req)
		return
	}
	if !r.verifyWorkerToken(w, req) {
		return
	}
	var payload deploy.CallbackPayload
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, req, http.StatusBadRequest, "Invalid JSON body", codeBadRequest)
		return
	}
	if err := r.deploy.ProcessCallback(req.Context(), payload); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeNotFound(w, req, "Deployment")
			return
		}
		writeServerError(w, req, "Callback processing failed", err.Error(), r.cfg.IsDevelopment())
		return
	}
	writeAccepted(w, req, nil, "Callback received")
}

func (r *Router) handleWebhookEvent(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w, req)
		return
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		writeError(w, req, http.StatusBadRequest, "Could not read body", codeBadRequest)
		return
	}
	signature := req.Header.Get("X-Hub-Signature-256")
	if err := r.webhook.CheckSignature(req.Context(), projectID, body, signature); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeNotFound(w, req, "Webhook")
			return
		}
		writeUnauthorized(w, req, "Webhook signature rejected")
		return
	}
	var event struct {
		After string `json:"after"`
	}
	_ = json.Unmarshal(body, &event)
	if _, err := r.deploy.Trigger(req.Context(), projectID, event.After); err != nil {
		writeServerError(w, req, "Could not trigger deployment", err.Error(), r.cfg.IsDevelopment())
		return
	}
	writeAccepted(w, req, nil, "Deployment queued")
}

func (r *Router) handleWebhookSecret(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w, req)
		return
	}
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	if _, err := r.project.GetOwned(req.Context(), info.UserID, projectID); err != nil {
		r.projectError(w, req, err)
		return
	}
	var payload struct {
		Secret string `json:"secret"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, req, http.StatusBadRequest, "Invalid JSON body", codeBadRequest)
		return
	}
	if err := r.webhook.UpsertSecret(req.Context(), projectID, payload.Secret); err != nil {
		writeValidationError(w, req, map[string]string{"secret": err.Error()}, "Webhook secret rejected")
		return
	}
	writeCreated(w, req, nil, "Webhook secret stored")
}

func (r *Router) mustAuthInfo(w http.ResponseWriter, req *http.Request) (authInfo, bool) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing", "path", req.URL.Path)
		writeServerError(w, req, "Authorization context missing", "", false)
		return authInfo{}, false
	}
	return info, true
}

func (r *Router) projectError(w http.ResponseWriter, req *http.Request, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeNotFound(w, req, "Project")
	case errors.Is(err, project.ErrNotOwner):
		writeForbidden(w, req, "")
	default:
		writeValidationError(w, req, map[string]string{"project": err.Error()}, "Request rejected")
	}
}

func pageParams(req *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(req.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(req.URL.Query().Get("limit"))
	if limit < 1 || limit > maxPageLimit {
		limit = defaultPageLimit
	}
	return page, limit
}

// verifyWorkerToken ensures worker callbacks carry the configured secret.
func (r *Router) verifyWorkerToken(w http.ResponseWriter, req *http.Request) bool {
	expected := r.workerToken
	if expected == "" {
		r.logger.Error("worker token not configured", "path", req.URL.Path)
		writeServerError(w, req, "Worker authentication misconfigured", "", false)
		return false
	}
	token := strings.TrimSpace(req.Header.Get("X-Worker-Token"))
	if len(token) != len(expected) || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		r.logger.Warn("worker token mismatch", "path", req.URL.Path)
		writeUnauthorized(w, req, "Invalid worker token")
		return false
	}
	return true
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return withRequestID(func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
			"request_id", requestIDFromContext(req.Context()),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID)
		} else if strings.HasPrefix(req.URL.Path, "/worker/") {
			actor = "worker"
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) methodNotAllowed(w http.ResponseWriter, req *http.Request) {
	writeError(w, req, http.StatusMethodNotAllowed, "Method not allowed", codeBadRequest)
}
