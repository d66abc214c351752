package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment        string
	Addr               string
	LogLevel           string
	DatabaseURL        string
	MigrationsDir      string
	DBConnectAttempts  int
	DBConnectDelay     time.Duration
	JWTSecret          string
	EnvEncryptionKey   string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	WorkerURL          string
	WorkerAuthToken    string
	AIReviewURL        string
	AllowedOrigin      string
	HealthPushInterval time.Duration
	HealthProbeTimeout time.Duration
	ShutdownGrace      time.Duration
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// IsDevelopment reports whether the service runs in a development environment.
func (c APIConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	LoadDotEnv()
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":4000"),
		LogLevel:           GetString("LOG_LEVEL", "info"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://shard:shard@db:5432/shard?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		DBConnectAttempts:  GetInt("DB_CONNECT_ATTEMPTS", 5),
		DBConnectDelay:     GetSeconds("DB_CONNECT_DELAY_SECONDS", 2*time.Second),
		JWTSecret:          GetString("JWT_SECRET", "supersecuresecret"),
		EnvEncryptionKey:   GetString("ENV_ENCRYPTION_KEY", "supersecuresecret"),
		AccessTokenTTL:     time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", 15)) * time.Minute,
		RefreshTokenTTL:    time.Duration(GetInt("REFRESH_TOKEN_TTL_HOURS", 24)) * time.Hour,
		WorkerURL:          GetString("DEPLOYMENT_WORKER_URL", "http://worker:5000"),
		WorkerAuthToken:    GetString("WORKER_AUTH_TOKEN", ""),
		AIReviewURL:        GetString("AI_REVIEW_URL", "http://ai-review:8000"),
		AllowedOrigin:      GetString("ALLOWED_ORIGIN", ""),
		HealthPushInterval: GetSeconds("HEALTH_PUSH_SECONDS", 5*time.Second),
		HealthProbeTimeout: GetSeconds("HEALTH_PROBE_TIMEOUT_SECONDS", 2*time.Second),
		ShutdownGrace:      GetSeconds("SHUTDOWN_GRACE_SECONDS", 10*time.Second),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
