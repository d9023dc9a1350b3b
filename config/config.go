package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel    string `env:"LOG_LEVEL"`
	Postgres    Postgres
	Redis       Redis
	Projection  Projection
	Engine      Engine
	API         API
	Jobs        Jobs
	Telegram    Telegram
	GoogleDrive GoogleDrive
}

type Postgres struct {
	Host            string `env:"PG_HOST"`
	Port            int    `env:"PG_PORT"`
	DbName          string `env:"PG_DB_NAME"`
	Password        string `env:"PG_PASSWORD"`
	User            string `env:"PG_USER"`
	MaxOpenConns    int    `env:"PG_MAX_OPEN_CONNS"`
	ConnMaxLifetime int    `env:"PG_CONN_MAX_LIFETIME"`
	MaxIdleConns    int    `env:"PG_MAX_IDLE_CONNS"`
	ConnMaxIdleTime int    `env:"PG_CONN_MAX_IDLE_TIME"`
	MigrationDir    string `env:"PG_MIGRATION_DIR"`
}

type Redis struct {
	Host     string `env:"REDIS_HOST"`
	Port     int    `env:"REDIS_PORT"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB"`
}

// Projection selects the holdings projection backend: postgres (default) or redis.
type Projection struct {
	Backend string `env:"PROJECTION_BACKEND" envDefault:"postgres"`
}

type Engine struct {
	LockTimeout time.Duration `env:"ENGINE_LOCK_TIMEOUT" envDefault:"5s"`
}

type API struct {
	Debug         bool          `env:"API_DEBUG"`
	Timeout       time.Duration `env:"API_TIMEOUT"`
	InstrumentApi InstrumentApi
}

type InstrumentApi struct {
	Url string `env:"INSTRUMENT_API_URL"`
}

type Jobs struct {
	DriftCheckInterval      time.Duration `env:"DRIFT_CHECK_JOB_INTERVAL"`
	DriftAutoRepair         bool          `env:"DRIFT_AUTO_REPAIR" envDefault:"false"`
	StatementCleanupCrontab string        `env:"STATEMENT_CLEANUP_CRONTAB"`
	StatementMaxFileAge     time.Duration `env:"STATEMENT_MAX_FILE_AGE"`
}

type Telegram struct {
	Token     string `env:"TELEGRAM_TOKEN"`
	OpsChatID int64  `env:"TELEGRAM_OPS_CHAT_ID"`
}

type GoogleDrive struct {
	CredentialsFile string `env:"GOOGLE_DRIVE_CREDENTIALS_FILE"`
}

func MustLoad() *Config {
	_ = godotenv.Load(".env")

	cfg := &Config{}

	opts := env.Options{RequiredIfNoDef: true}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		log.Fatalf("parse config error: %s", err)
	}

	return cfg
}
