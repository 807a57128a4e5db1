package store

import (
	"context"
	"errors"
	"fmt"

	zerologadapter "github.com/jackc/pgx-zerolog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"

	"github.com/ILiedAboutCake/Rustla2/internal/logging"
	"github.com/ILiedAboutCake/Rustla2/internal/models"
)

// Postgres implements Store using PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres store from a DSN. Caller must call Close when done.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pgcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.ParseConfig: %w", err)
	}
	pgcfg.ConnConfig.Tracer = &tracelog.TraceLog{
		Logger:   zerologadapter.NewLogger(*logging.GlobalLogger()),
		LogLevel: tracelog.LogLevelWarn,
	}
	pool, err := pgxpool.NewWithConfig(ctx, pgcfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ddl, err := schemaSQL("postgres")
	if err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("EnsureSchema: %w", err)
	}
	return nil
}

func (p *Postgres) LoadStreams(ctx context.Context) ([]models.StreamRow, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+streamColumns+` FROM streams ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("LoadStreams: %w", err)
	}
	defer rows.Close()

	var out []models.StreamRow
	for rows.Next() {
		var (
			r                                    models.StreamRow
			path, thumbnail                      *string
			nsfw, hidden, afk, promoted, bot, lv int16
			viewers                              int64
		)
		err := rows.Scan(&r.ID, &r.Channel, &r.Service, &path, &r.ChatChannel, &r.ChatService,
			&nsfw, &hidden, &afk, &promoted, &bot, &lv, &r.Title, &thumbnail, &viewers,
			&r.CreatedAt, &r.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("LoadStreams scan: %w", err)
		}
		if path != nil {
			r.Path = *path
		}
		if thumbnail != nil {
			r.Thumbnail = *thumbnail
		}
		r.NSFW, r.Hidden, r.AFK, r.Promoted, r.Bot, r.Live = nsfw != 0, hidden != 0, afk != 0, promoted != 0, bot != 0, lv != 0
		r.Viewers = uint64(viewers)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("LoadStreams rows: %w", err)
	}
	return out, nil
}

func (p *Postgres) InsertStream(ctx context.Context, r *models.StreamRow) error {
	err := p.pool.QueryRow(ctx,
		`INSERT INTO streams (`+streamColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, now(), now())
		 RETURNING created_at, updated_at`,
		r.ID, r.Channel, r.Service, nullIfEmpty(r.Path), r.ChatChannel, r.ChatService,
		boolToInt(r.NSFW), boolToInt(r.Hidden), boolToInt(r.AFK), boolToInt(r.Promoted), boolToInt(r.Bot),
		boolToInt(r.Live), r.Title, r.Thumbnail, int64(r.Viewers),
	).Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("InsertStream: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateStream(ctx context.Context, r *models.StreamRow) error {
	err := p.pool.QueryRow(ctx,
		`UPDATE streams SET
		   channel = $2, service = $3, path = $4, chat_channel = $5, chat_service = $6,
		   nsfw = $7, hidden = $8, afk = $9, promoted = $10, bot = $11, live = $12,
		   title = $13, thumbnail = $14, viewers = $15, updated_at = now()
		 WHERE id = $1
		 RETURNING updated_at`,
		r.ID, r.Channel, r.Service, nullIfEmpty(r.Path), r.ChatChannel, r.ChatService,
		boolToInt(r.NSFW), boolToInt(r.Hidden), boolToInt(r.AFK), boolToInt(r.Promoted), boolToInt(r.Bot),
		boolToInt(r.Live), r.Title, r.Thumbnail, int64(r.Viewers),
	).Scan(&r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("UpdateStream: %w", err)
	}
	return nil
}
