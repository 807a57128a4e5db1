package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ILiedAboutCake/Rustla2/internal/config"
	"github.com/ILiedAboutCake/Rustla2/internal/models"
)

var ErrNotFound = errors.New("stream not found")

// Store persists stream rows. Implementations must be safe for concurrent use.
type Store interface {
	// EnsureSchema creates the streams table if it does not exist.
	EnsureSchema(ctx context.Context) error
	// LoadStreams returns every stored row ordered by id.
	LoadStreams(ctx context.Context) ([]models.StreamRow, error)
	// InsertStream writes a new row and fills CreatedAt and UpdatedAt from the store.
	InsertStream(ctx context.Context, row *models.StreamRow) error
	// UpdateStream overwrites every column of the row with the same id and refreshes
	// UpdatedAt. It returns ErrNotFound if no such row exists.
	UpdateStream(ctx context.Context, row *models.StreamRow) error
	Close() error
}

//go:embed migrations
var migrationsFS embed.FS

const createMigration = "0001_create_streams.up.sql"

func schemaSQL(dialect string) (string, error) {
	b, err := migrationsFS.ReadFile("migrations/" + dialect + "/" + createMigration)
	if err != nil {
		return "", fmt.Errorf("read %s schema: %w", dialect, err)
	}
	return string(b), nil
}

// Open connects to the store selected by cfg.Driver.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return NewPostgres(ctx, cfg.DatabaseURL)
	case config.DriverSQLite:
		return NewSQLite(ctx, cfg.SQLitePath)
	}
	return nil, config.ErrUnknownDriver
}

const streamColumns = `id, channel, service, path, chat_channel, chat_service,
	nsfw, hidden, afk, promoted, bot, live, title, thumbnail, viewers, created_at, updated_at`

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func boolToInt(b bool) int16 {
	if b {
		return 1
	}
	return 0
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// parseTime accepts the formats SQLite drivers hand back for DATETIME columns.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
