package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "VERIDEX_DB_DSN"
	EnvDBHost = "VERIDEX_DB_HOST"
	EnvDBUser = "VERIDEX_DB_USER"
	EnvDBName = "VERIDEX_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	GCS          GCSConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Upload       UploadConfig
	Analysis     AnalysisConfig
	Detectors    DetectorsConfig
	Fusion       FusionConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"VERIDEX_APP_ENV" required:"true"`
	Port         string `envconfig:"VERIDEX_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"VERIDEX_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"VERIDEX_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"VERIDEX_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"VERIDEX_DB_DSN"`
	Driver string `envconfig:"VERIDEX_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"VERIDEX_DB_HOST"`
	LegacyPort     int    `envconfig:"VERIDEX_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"VERIDEX_DB_USER"`
	LegacyPassword string `envconfig:"VERIDEX_DB_PASSWORD"`
	LegacyName     string `envconfig:"VERIDEX_DB_NAME"`
	LegacySSLMode  string `envconfig:"VERIDEX_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"VERIDEX_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"VERIDEX_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"VERIDEX_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"VERIDEX_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"VERIDEX_REDIS_URL" required:"true"`
	Address      string        `envconfig:"VERIDEX_REDIS_ADDR"`
	Password     string        `envconfig:"VERIDEX_REDIS_PASSWORD"`
	DB           int           `envconfig:"VERIDEX_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"VERIDEX_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"VERIDEX_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"VERIDEX_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"VERIDEX_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"VERIDEX_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"VERIDEX_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"VERIDEX_AUTO_MIGRATE" default:"false"`
	ArchiveGCS  bool `envconfig:"VERIDEX_FEATURE_ARCHIVE_GCS" default:"true"`
	AuditBQ     bool `envconfig:"VERIDEX_FEATURE_AUDIT_BIGQUERY" default:"true"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"VERIDEX_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"VERIDEX_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"VERIDEX_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"VERIDEX_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName string `envconfig:"VERIDEX_GCS_BUCKET_NAME" required:"true"`
}

type PubSubConfig struct {
	AnalysisTopic            string `envconfig:"VERIDEX_PUBSUB_ANALYSIS_TOPIC" default:"vx-analysis-events"`
	AnalysisSubscription     string `envconfig:"VERIDEX_PUBSUB_ANALYSIS_SUBSCRIPTION" required:"true"`
	NotificationTopic        string `envconfig:"VERIDEX_PUBSUB_NOTIFICATION_TOPIC" default:"vx-notification-events"`
	NotificationSubscription string `envconfig:"VERIDEX_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
}

type BigQueryConfig struct {
	Dataset           string `envconfig:"VERIDEX_BIGQUERY_DATASET" default:"veridex"`
	VerdictAuditTable string `envconfig:"VERIDEX_BIGQUERY_VERDICT_AUDIT_TABLE" default:"verdict_audit"`
}

type UploadConfig struct {
	SpoolDir        string        `envconfig:"VERIDEX_UPLOAD_SPOOL_DIR" default:"/var/lib/veridex/spool"`
	VideoDir        string        `envconfig:"VERIDEX_UPLOAD_VIDEO_DIR" default:"/var/lib/veridex/videos"`
	MaxUploadMB     int           `envconfig:"VERIDEX_UPLOAD_MAX_MB" default:"500"`
	MaxChunkMB      int           `envconfig:"VERIDEX_UPLOAD_MAX_CHUNK_MB" default:"10"`
	SessionTimeout  time.Duration `envconfig:"VERIDEX_UPLOAD_SESSION_TIMEOUT" default:"30m"`
	SweepInterval   time.Duration `envconfig:"VERIDEX_UPLOAD_SWEEP_INTERVAL" default:"5m"`
	AllowedFormats  []string      `envconfig:"VERIDEX_UPLOAD_ALLOWED_FORMATS" default:"video/mp4,video/webm,video/quicktime,video/x-matroska"`
	AllowedExts     []string      `envconfig:"VERIDEX_UPLOAD_ALLOWED_EXTS" default:".mp4,.webm,.mov,.mkv"`
	AutoFinalize    bool          `envconfig:"VERIDEX_UPLOAD_AUTO_FINALIZE" default:"true"`
	ArchiveOnAssemb bool          `envconfig:"VERIDEX_UPLOAD_ARCHIVE_ON_ASSEMBLE" default:"true"`
}

// MaxUploadBytes returns the configured whole-file ceiling in bytes.
func (u UploadConfig) MaxUploadBytes() int64 {
	return int64(u.MaxUploadMB) * 1024 * 1024
}

// MaxChunkBytes returns the configured per-chunk ceiling in bytes.
func (u UploadConfig) MaxChunkBytes() int64 {
	return int64(u.MaxChunkMB) * 1024 * 1024
}

type AnalysisConfig struct {
	WorkerCount     int           `envconfig:"VERIDEX_ANALYSIS_WORKER_COUNT" default:"4"`
	PollInterval    time.Duration `envconfig:"VERIDEX_ANALYSIS_POLL_INTERVAL" default:"500ms"`
	OverallTimeout  time.Duration `envconfig:"VERIDEX_ANALYSIS_OVERALL_TIMEOUT" default:"10m"`
	AdapterRetries  int           `envconfig:"VERIDEX_ANALYSIS_ADAPTER_RETRIES" default:"2"`
	RetryBackoff    time.Duration `envconfig:"VERIDEX_ANALYSIS_RETRY_BACKOFF" default:"2s"`
	VerdictCacheTTL time.Duration `envconfig:"VERIDEX_ANALYSIS_VERDICT_CACHE_TTL" default:"0"`
}

type DetectorsConfig struct {
	Enabled        []string      `envconfig:"VERIDEX_DETECTORS_ENABLED" default:"clip,resnet,laa"`
	ClipEndpoint   string        `envconfig:"VERIDEX_DETECTOR_CLIP_ENDPOINT"`
	ResNetEndpoint string        `envconfig:"VERIDEX_DETECTOR_RESNET_ENDPOINT"`
	LAAEndpoint    string        `envconfig:"VERIDEX_DETECTOR_LAA_ENDPOINT"`
	EvalTimeout    time.Duration `envconfig:"VERIDEX_DETECTOR_EVAL_TIMEOUT" default:"60s"`
	FrameStride    int           `envconfig:"VERIDEX_DETECTOR_FRAME_STRIDE" default:"30"`
	FrameBudget    int           `envconfig:"VERIDEX_DETECTOR_FRAME_BUDGET" default:"32"`
	MemoryBudgetMB int           `envconfig:"VERIDEX_DETECTOR_MEMORY_BUDGET_MB" default:"8192"`
}

type FusionConfig struct {
	DecisionThreshold float64 `envconfig:"VERIDEX_FUSION_DECISION_THRESHOLD" default:"0.5"`
	CertaintyFloor    float64 `envconfig:"VERIDEX_FUSION_CERTAINTY_FLOOR" default:"0.1"`
	ClipPrior         float64 `envconfig:"VERIDEX_FUSION_CLIP_PRIOR" default:"0.3"`
	ResNetPrior       float64 `envconfig:"VERIDEX_FUSION_RESNET_PRIOR" default:"0.5"`
	LAAPrior          float64 `envconfig:"VERIDEX_FUSION_LAA_PRIOR" default:"0.2"`
}

// Priors maps detector names to their static reliability priors.
func (f FusionConfig) Priors() map[string]float64 {
	return map[string]float64{
		"clip":   f.ClipPrior,
		"resnet": f.ResNetPrior,
		"laa":    f.LAAPrior,
	}
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"VERIDEX_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"VERIDEX_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"VERIDEX_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
