package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"dripflow/models"

	"github.com/glebarez/sqlite"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	DB        *gorm.DB
	AppConfig Config
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `json:"poll_interval"`
	BatchSize    int           `json:"batch_size"`
	Concurrency  int           `json:"concurrency"`
	LeaseTTL     time.Duration `json:"lease_ttl"`
	MaxAttempts  int           `json:"max_attempts"`
	RetryBackoff time.Duration `json:"retry_backoff"`
}

type Config struct {
	Environment string `json:"environment"`
	LogLevel    string `json:"log_level"`
	ServerPort  string `json:"server_port"`

	DBDriver       string `json:"db_driver"`
	DBHost         string `json:"db_host"`
	DBPort         string `json:"db_port"`
	DBUser         string `json:"db_user"`
	DBPassword     string `json:"-"`
	DBName         string `json:"db_name"`
	DBSSLMode      string `json:"db_ssl_mode"`
	DBPath         string `json:"db_path"`
	DBMaxIdleConns int    `json:"db_max_idle_conns"`
	DBMaxOpenConns int    `json:"db_max_open_conns"`

	SMTPHost     string        `json:"smtp_host"`
	SMTPPort     int           `json:"smtp_port"`
	SMTPUsername string        `json:"smtp_username"`
	SMTPPassword string        `json:"-"`
	FromEmail    string        `json:"from_email"`
	FromName     string        `json:"from_name"`
	SMTPTimeout  time.Duration `json:"smtp_timeout"`

	Scheduler SchedulerConfig `json:"scheduler"`

	Redis              RedisConfig `json:"redis"`
	RateLimitRun       int         `json:"rate_limit_run"`
	CORSAllowedOrigins []string    `json:"cors_allowed_origins"`
	SentryDSN          string      `json:"-"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
}

func LoadConfig() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	AppConfig = cfg
	logConfig()
	return nil
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	cfg := Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		ServerPort:  getEnv("SERVER_PORT", "5000"),

		DBDriver:       strings.ToLower(getEnv("DB_DRIVER", "postgres")),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "dripflow"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBPath:         getEnv("DB_PATH", "dripflow.db"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvAsInt("SMTP_PORT", 587),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		FromEmail:    getEnv("SMTP_FROM_EMAIL", ""),
		FromName:     getEnv("SMTP_FROM_NAME", ""),
		SMTPTimeout:  getEnvAsDuration("SMTP_TIMEOUT", 30*time.Second),

		Scheduler: SchedulerConfig{
			PollInterval: getEnvAsDuration("SCHEDULER_POLL_INTERVAL", 10*time.Second),
			BatchSize:    getEnvAsInt("SCHEDULER_BATCH_SIZE", 50),
			Concurrency:  getEnvAsInt("SCHEDULER_CONCURRENCY", 10),
			LeaseTTL:     getEnvAsDuration("SCHEDULER_LEASE_TTL", 5*time.Minute),
			MaxAttempts:  getEnvAsInt("SCHEDULER_MAX_ATTEMPTS", 5),
			RetryBackoff: getEnvAsDuration("SCHEDULER_RETRY_BACKOFF", time.Minute),
		},

		Redis: RedisConfig{
			Enabled:  getEnv("REDIS_ENABLED", "false") == "true",
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		RateLimitRun:       getEnvAsInt("RATE_LIMIT_RUN", 60),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		SentryDSN:          getEnv("SENTRY_DSN", ""),
	}

	// Validate required configurations
	switch cfg.DBDriver {
	case "postgres":
		if cfg.DBPassword == "" {
			return cfg, fmt.Errorf("DB_PASSWORD is required")
		}
	case "sqlite":
	default:
		return cfg, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	if cfg.Scheduler.PollInterval <= 0 {
		return cfg, fmt.Errorf("SCHEDULER_POLL_INTERVAL must be positive")
	}
	if cfg.Scheduler.MaxAttempts <= 0 {
		return cfg, fmt.Errorf("SCHEDULER_MAX_ATTEMPTS must be positive")
	}
	if cfg.Scheduler.BatchSize <= 0 || cfg.Scheduler.Concurrency <= 0 {
		return cfg, fmt.Errorf("SCHEDULER_BATCH_SIZE and SCHEDULER_CONCURRENCY must be positive")
	}
	// A claimed job waits for the sends queued ahead of it, so the lease must
	// outlast the whole batch or another worker reclaims it mid-flight.
	if batch := cfg.BatchDuration(); cfg.Scheduler.LeaseTTL <= batch {
		return cfg, fmt.Errorf("SCHEDULER_LEASE_TTL (%s) must exceed the longest batch (%s = SMTP_TIMEOUT x ceil(batch/concurrency))",
			cfg.Scheduler.LeaseTTL, batch)
	}

	return cfg, nil
}

// BatchDuration is the longest a claimed batch can take to deliver when
// every send runs into the SMTP timeout.
func (c Config) BatchDuration() time.Duration {
	s := c.Scheduler
	if s.Concurrency <= 0 {
		return 0
	}
	rounds := (s.BatchSize + s.Concurrency - 1) / s.Concurrency
	return time.Duration(rounds) * c.SMTPTimeout
}

// RequireSMTP fails when the mail transport is not configured.
func (c Config) RequireSMTP() error {
	if c.SMTPHost == "" {
		return fmt.Errorf("SMTP_HOST is required to deliver email")
	}
	if c.FromEmail == "" && c.SMTPUsername == "" {
		return fmt.Errorf("SMTP_FROM_EMAIL or SMTP_USERNAME is required")
	}
	return nil
}

// DSN returns the connection string for the configured driver.
func (c Config) DSN() string {
	if c.DBDriver == "sqlite" {
		return c.DBPath
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost,
		c.DBPort,
		c.DBUser,
		c.DBPassword,
		c.DBName,
		c.DBSSLMode,
	)
}

func ConnectDB() error {
	log := logrus.WithField("component", "config")
	log.Info("Attempting to connect to database...")

	dsn := AppConfig.DSN()
	log.WithField("dsn", maskPassword(dsn)).Info("Using connection string")

	db, err := OpenDatabase(AppConfig.DBDriver, dsn)
	if err != nil {
		return err
	}

	if AppConfig.DBDriver == "postgres" {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("failed to get DB instance: %w", err)
		}
		sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
		sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
		sqlDB.SetConnMaxLifetime(time.Hour)
		sqlDB.SetConnMaxIdleTime(30 * time.Minute)
	}

	log.Info("✅ Successfully connected to the database")
	DB = db
	return nil
}

// newGormLogger routes gorm's slow-query and error lines through w. Lookups
// that find nothing are normal here and stay quiet.
func newGormLogger(w logger.Writer) logger.Interface {
	return logger.New(w, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// OpenDatabase opens and pings a gorm connection. sqlite databases are
// limited to one connection since sqlite has a single writer.
func OpenDatabase(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(sqliteDSN(dsn))
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(logrus.WithField("component", "gorm")),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get DB instance: %w", err)
	}
	if driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return db, nil
}

func MigrateDB(db *gorm.DB) error {
	log := logrus.WithField("component", "config")
	log.Info("🔄 Starting database migration...")

	if err := db.AutoMigrate(
		&models.Sequence{},
		&models.Lead{},
		&models.EmailJob{},
	); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}

	log.Info("✅ Database migration completed")
	return nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite"
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return fallback
	}
	return value
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	logrus.WithFields(logrus.Fields{
		"environment":   AppConfig.Environment,
		"server_port":   AppConfig.ServerPort,
		"db_driver":     AppConfig.DBDriver,
		"smtp_host":     AppConfig.SMTPHost,
		"poll_interval": AppConfig.Scheduler.PollInterval.String(),
		"max_attempts":  AppConfig.Scheduler.MaxAttempts,
		"redis_enabled": AppConfig.Redis.Enabled,
	}).Info("🔧 Loaded configuration")
}
