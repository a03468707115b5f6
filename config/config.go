package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every configuration parameter read from environment variables.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4242"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	// External document generation service
	DocServiceBaseURL string        `envconfig:"DOC_SERVICE_BASE_URL" required:"true"`
	DocServiceToken   string        `envconfig:"DOC_SERVICE_TOKEN"`
	PollInterval      time.Duration `envconfig:"POLL_INTERVAL" default:"2s"`
	PollTimeout       time.Duration `envconfig:"POLL_TIMEOUT" default:"3m"`

	// Fuzzy resolver tuning
	ResolverScoreStrict float64 `envconfig:"RESOLVER_SCORE_STRICT" default:"0.15"`
	ResolverScoreLoose  float64 `envconfig:"RESOLVER_SCORE_LOOSE" default:"0.45"`
	ResolverTopN        int     `envconfig:"RESOLVER_TOP_N" default:"5"`

	// Draft persistence
	DraftDir        string        `envconfig:"DRAFT_DIR" default:"./data/drafts"`
	DraftFreshness  time.Duration `envconfig:"DRAFT_FRESHNESS" default:"24h"`
	DraftPurgeCron  string        `envconfig:"DRAFT_PURGE_CRON" default:"0 3 * * *"`
	JobReaperCron   string        `envconfig:"JOB_REAPER_CRON" default:"*/30 * * * *"`
	JobStuckTimeout time.Duration `envconfig:"JOB_STUCK_TIMEOUT" default:"15m"`

	ArchiveS3Key    string `envconfig:"ARCHIVE_S3_KEY" required:"true"`
	ArchiveS3Secret string `envconfig:"ARCHIVE_S3_SECRET" required:"true"`
	ArchiveS3URL    string `envconfig:"ARCHIVE_S3_URL" required:"true"`
	ArchiveS3Region string `envconfig:"ARCHIVE_S3_REGION" required:"true"`
	ArchiveS3Bucket string `envconfig:"ARCHIVE_S3_BUCKET" required:"true"`
}

// DSN returns the data source name for the PostgreSQL connection.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
