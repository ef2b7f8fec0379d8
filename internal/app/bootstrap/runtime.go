package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/careflow-scheduling/internal/availability"
	appconfig "github.com/wolfman30/careflow-scheduling/internal/config"
	"github.com/wolfman30/careflow-scheduling/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available, caching disabled", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildCalendar turns the clinic settings into a business-hours calendar.
func BuildCalendar(cfg *appconfig.Config) (*availability.Calendar, error) {
	loc, err := time.LoadLocation(cfg.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: clinic timezone %q: %w", cfg.ClinicTimezone, err)
	}
	days, err := availability.ParseWeekdays(cfg.BusinessDays)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: business days: %w", err)
	}
	hours := availability.UniformHours(cfg.BusinessHoursOpen, cfg.BusinessHoursClose, days)
	return availability.NewCalendar(hours, loc)
}

// Databases holds the Postgres handles. Replica is nil when no read URL is
// configured. SQL shares the primary pool for database/sql consumers.
type Databases struct {
	Primary *pgxpool.Pool
	Replica *pgxpool.Pool
	SQL     *sql.DB
}

// OpenDatabases connects the primary pool and the optional read replica.
func OpenDatabases(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*Databases, error) {
	primary, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	dbs := &Databases{Primary: primary, SQL: stdlib.OpenDBFromPool(primary)}
	if strings.TrimSpace(cfg.DatabaseReadURL) != "" {
		replica, err := pgxpool.New(ctx, cfg.DatabaseReadURL)
		if err != nil {
			dbs.Close()
			return nil, fmt.Errorf("bootstrap: connect read replica: %w", err)
		}
		dbs.Replica = replica
		logger.Info("read replica enabled")
	}
	return dbs, nil
}

// Ping checks the primary pool.
func (d *Databases) Ping(ctx context.Context) error {
	return d.Primary.Ping(ctx)
}

// Close releases every handle.
func (d *Databases) Close() {
	if d.SQL != nil {
		_ = d.SQL.Close()
	}
	if d.Replica != nil {
		d.Replica.Close()
	}
	d.Primary.Close()
}
