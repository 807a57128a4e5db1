package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/ILiedAboutCake/Rustla2/internal/models"
)

const memoryPath = ":memory:"

// SQLite implements Store on an embedded database file. All statements share one
// connection, so writes are serialized by database/sql.
type SQLite struct {
	db *sql.DB
}

func sqliteDSN(path string) string {
	if path == memoryPath {
		return memoryPath
	}
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// NewSQLite opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data folder: %w", err)
		}
	}
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) EnsureSchema(ctx context.Context) error {
	ddl, err := schemaSQL("sqlite")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("EnsureSchema: %w", err)
	}
	return nil
}

func (s *SQLite) LoadStreams(ctx context.Context) ([]models.StreamRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+streamColumns+` FROM streams ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("LoadStreams: %w", err)
	}
	defer rows.Close()

	var out []models.StreamRow
	for rows.Next() {
		var (
			r                    models.StreamRow
			path, thumbnail      sql.NullString
			viewers              int64
			createdAt, updatedAt string
		)
		err := rows.Scan(&r.ID, &r.Channel, &r.Service, &path, &r.ChatChannel, &r.ChatService,
			&r.NSFW, &r.Hidden, &r.AFK, &r.Promoted, &r.Bot, &r.Live, &r.Title, &thumbnail, &viewers,
			&createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("LoadStreams scan: %w", err)
		}
		r.Path = path.String
		r.Thumbnail = thumbnail.String
		r.Viewers = uint64(viewers)
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("LoadStreams created_at: %w", err)
		}
		if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("LoadStreams updated_at: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("LoadStreams rows: %w", err)
	}
	return out, nil
}

func (s *SQLite) InsertStream(ctx context.Context, r *models.StreamRow) error {
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO streams (`+streamColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'))
		 RETURNING created_at, updated_at`,
		r.ID, r.Channel, r.Service, nullIfEmpty(r.Path), r.ChatChannel, r.ChatService,
		boolToInt(r.NSFW), boolToInt(r.Hidden), boolToInt(r.AFK), boolToInt(r.Promoted), boolToInt(r.Bot),
		boolToInt(r.Live), r.Title, r.Thumbnail, int64(r.Viewers),
	).Scan(&createdAt, &updatedAt)
	if err != nil {
		return fmt.Errorf("InsertStream: %w", err)
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return fmt.Errorf("InsertStream: %w", err)
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return fmt.Errorf("InsertStream: %w", err)
	}
	return nil
}

func (s *SQLite) UpdateStream(ctx context.Context, r *models.StreamRow) error {
	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		`UPDATE streams SET
		   channel = ?, service = ?, path = ?, chat_channel = ?, chat_service = ?,
		   nsfw = ?, hidden = ?, afk = ?, promoted = ?, bot = ?, live = ?,
		   title = ?, thumbnail = ?, viewers = ?, updated_at = datetime('now')
		 WHERE id = ?
		 RETURNING updated_at`,
		r.Channel, r.Service, nullIfEmpty(r.Path), r.ChatChannel, r.ChatService,
		boolToInt(r.NSFW), boolToInt(r.Hidden), boolToInt(r.AFK), boolToInt(r.Promoted), boolToInt(r.Bot),
		boolToInt(r.Live), r.Title, r.Thumbnail, int64(r.Viewers), r.ID,
	).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("UpdateStream: %w", err)
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return fmt.Errorf("UpdateStream: %w", err)
	}
	return nil
}
