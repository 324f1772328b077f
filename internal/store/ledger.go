package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"ollama-chat-bridge/internal/db"
)

// Generation outcomes.
const (
	OutcomeDone      = "done"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
	// OutcomeAbandoned: the client channel closed while the generation ran.
	OutcomeAbandoned = "abandoned"
)

// Generation is the audit record of one finished generation. Only metadata
// is kept; message and response text are never stored.
type Generation struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"sessionId"`
	Model         string    `json:"model"`
	Outcome       string    `json:"outcome"`
	Chunks        int       `json:"chunks"`
	ResponseChars int       `json:"responseChars"`
	Error         string    `json:"error,omitempty"`
	StartedAt     time.Time `json:"startedAt"`
	DurationMS    int64     `json:"durationMs"`
}

// Ledger records generation outcomes.
type Ledger interface {
	Record(ctx context.Context, g Generation) error
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Generation, error)
	Close() error
}

// Pinger is implemented by ledgers backed by an external service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Open picks a ledger implementation from the URL scheme: empty keeps
// records in memory, redis:// and rediss:// use Redis, postgres:// and
// postgresql:// use PostgreSQL, sqlite:// and file: use SQLite.
func Open(ctx context.Context, url string, maxRecords int) (Ledger, error) {
	url = strings.TrimSpace(url)
	switch {
	case url == "":
		return NewMemoryLedger(maxRecords), nil
	case strings.HasPrefix(url, "redis://"), strings.HasPrefix(url, "rediss://"):
		opts, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		return NewRedisLedger(client, "", maxRecords), nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return openDatabase(ctx, db.DriverPostgres, url)
	case strings.HasPrefix(url, "sqlite://"):
		return openDatabase(ctx, db.DriverSQLite, strings.TrimPrefix(url, "sqlite://"))
	case strings.HasPrefix(url, "file:"):
		return openDatabase(ctx, db.DriverSQLite, url)
	default:
		return nil, fmt.Errorf("unsupported ledger url scheme: %q", url)
	}
}

func openDatabase(ctx context.Context, driver, dsn string) (Ledger, error) {
	database, err := db.New(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return NewDatabaseLedger(database), nil
}
