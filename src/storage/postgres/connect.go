package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	gormpg "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"crmhub/src/core/ingest"
	"crmhub/src/infrastructure/log"
)

// Config describes how to reach the record database. The password never
// appears here; it comes from the credential manager at open time so a
// rotated token is always picked up.
type Config struct {
	Host           string
	Port           int
	User           string
	Database       string
	Schema         string
	SSLMode        string
	ConnectTimeout time.Duration
	DialAttempts   uint
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		if c.Host == "localhost" || c.Host == "127.0.0.1" {
			c.SSLMode = "disable"
		} else {
			c.SSLMode = "require"
		}
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.DialAttempts == 0 {
		c.DialAttempts = 3
	}
	return c
}

// Credentials supplies the current database password or access token.
type Credentials interface {
	Ensure(ctx context.Context, force bool) (string, error)
}

// Factory opens database sessions with the currently valid credential.
// Ingestion jobs each own one session for their lifetime; sessions are
// never shared across concurrent jobs.
type Factory struct {
	cfg   Config
	creds Credentials
}

func NewFactory(cfg Config, creds Credentials) *Factory {
	return &Factory{cfg: cfg.withDefaults(), creds: creds}
}

// Open dials a fresh session, retrying transient dial failures with
// exponential backoff and a forced credential refresh between attempts.
func (f *Factory) Open(ctx context.Context) (*gorm.DB, error) {
	var db *gorm.DB
	err := retry.Do(
		func() error {
			password, err := f.creds.Ensure(ctx, false)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			d, err := gorm.Open(gormpg.Open(f.dsn(password)), &gorm.Config{
				TranslateError: true,
			})
			if err != nil {
				return Classify(fmt.Errorf("failed to connect to database: %w", err))
			}
			db = d
			return nil
		},
		retry.Attempts(f.cfg.DialAttempts),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(ingest.IsTransient),
		retry.OnRetry(func(n uint, err error) {
			log.Error(err, "database dial failed, refreshing credential before retry", "attempt", n+1)
			if _, cerr := f.creds.Ensure(ctx, true); cerr != nil {
				log.Error(cerr, "credential refresh before retry failed")
			}
		}),
	)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Close releases the session's underlying connection.
func (f *Factory) Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (f *Factory) dsn(password string) string {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s connect_timeout=%d",
		f.cfg.Host, f.cfg.User, password, f.cfg.Database, f.cfg.Port, f.cfg.SSLMode,
		int(f.cfg.ConnectTimeout.Seconds()))
	if f.cfg.Schema != "" {
		dsn += fmt.Sprintf(" search_path=%s", f.cfg.Schema)
	}
	return dsn
}
