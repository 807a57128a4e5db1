package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ILiedAboutCake/Rustla2/internal/cache"
	"github.com/ILiedAboutCake/Rustla2/internal/config"
	"github.com/ILiedAboutCake/Rustla2/internal/fetcher"
	"github.com/ILiedAboutCake/Rustla2/internal/logging"
	"github.com/ILiedAboutCake/Rustla2/internal/models"
	"github.com/ILiedAboutCake/Rustla2/internal/service"
	"github.com/ILiedAboutCake/Rustla2/internal/store"
	"github.com/ILiedAboutCake/Rustla2/internal/streams"
	"github.com/ILiedAboutCake/Rustla2/internal/validate"
)

// errInvalidDocument is returned after the validate command has already printed the status.
var errInvalidDocument = errors.New("invalid document")


func migrateCommand() *cobra.Command {
	var showVersion bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			url, err := store.MigrationURL(cfg)
			if err != nil {
				return err
			}
			if showVersion {
				v, dirty, err := store.MigrationVersion(cfg.Driver, url)
				if err != nil {
					return err
				}
				fmt.Printf("%d dirty=%t\n", v, dirty)
				return nil
			}

			ctx := cmd.Context()
			rds, err := maybeConnectRedis(ctx, cfg)
			if err != nil {
				return err
			}
			if rds != nil {
				defer rds.Close()
			}
			unlock, err := lockWriter(ctx, rds)
			if err != nil {
				return err
			}
			defer unlock()

			if err := store.RunMigrations(cfg.Driver, url); err != nil {
				return err
			}
			v, _, err := store.MigrationVersion(cfg.Driver, url)
			if err != nil {
				return err
			}
			logging.Info().Str("driver", cfg.Driver).Uint("version", v).Msg("migrations applied")
			return nil
		},
	}
	cmd.Flags().BoolVar(&showVersion, "version", false, "Print the applied schema version and exit")
	return cmd
}

func dumpCommand() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the current stream document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg, st, err := openRegistry(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			var out []byte
			if full {
				out, err = reg.RenderFullJSON()
			} else {
				out, err = reg.RenderAggregateJSON()
			}
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "Print the full projection of every stream")
	return cmd
}

func validateCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "validate <variant> <file>",
		Short:     "Run a saved platform response through the validation gate",
		Args:      cobra.ExactArgs(2),
		ValidArgs: validate.Variants(),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, ok := validate.New(args[0])
			if !ok {
				return fmt.Errorf("unknown variant %q (one of %v)", args[0], validate.Variants())
			}
			raw, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			st := validate.Decode(p, raw)
			fmt.Println(st.String())
			if !st.OK() {
				if st.DocumentPointer != "" {
					fmt.Printf("document: %s\nschema:   %s\n", st.DocumentPointer, st.SchemaPointer)
				}
				return errInvalidDocument
			}
			s := p.Status()
			fmt.Printf("live=%t viewers=%d nsfw=%t title=%q\n", s.Live, s.Viewers, s.NSFW, s.Title)
			return nil
		},
	}
}

func ingestCommand() *cobra.Command {
	var publish, enqueue bool
	cmd := &cobra.Command{
		Use:   "ingest <service> <channel> [path]",
		Short: "Fetch one channel's status and apply it to the registry",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			var path string
			if len(args) == 3 {
				path = args[2]
			}
			ch := models.NewChannel(args[0], args[1], path)

			if enqueue {
				rds, err := connectRedis(ctx, cfg)
				if err != nil {
					return err
				}
				defer rds.Close()
				if err := cache.NewQueue(rds, "").Push(ctx, cache.JobFor(ch)); err != nil {
					return err
				}
				logging.Info().Stringer("channel", ch).Msg("queued ingest job")
				return nil
			}

			if publish && cfg.RedisURL == "" {
				return errors.New("--publish requires REDIS_URL")
			}
			rds, err := maybeConnectRedis(ctx, cfg)
			if err != nil {
				return err
			}
			if rds != nil {
				defer rds.Close()
			}
			unlock, err := lockWriter(ctx, rds)
			if err != nil {
				return err
			}
			defer unlock()

			reg, st, err := openRegistry(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			s, err := service.Ingest(ctx, reg, fetcher.NewHTTP(cfg), ch)
			if err != nil && !errors.Is(err, service.ErrNotPersisted) {
				return err
			}
			out, merr := s.MarshalFullJSON()
			if merr != nil {
				return merr
			}
			fmt.Println(string(out))
			if err != nil {
				return err
			}

			if publish {
				return service.Publish(ctx, reg, rds, cfg.SnapshotKey, cfg.SnapshotTTL)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&publish, "publish", false, "Publish the aggregate snapshot to Redis afterwards")
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "Queue the job for a worker instead of running it here")
	return cmd
}

func workerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Process queued ingest jobs and publish snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if cfg.RedisURL == "" {
				return errors.New("worker requires REDIS_URL")
			}
			rds, err := connectRedis(ctx, cfg)
			if err != nil {
				return err
			}
			defer rds.Close()

			release, lost, err := cache.HoldLock(ctx, rds, cache.WriterLockKey, writerLockTTL)
			if err != nil {
				return fmt.Errorf("writer lock: %w", err)
			}
			defer release()

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			go func() {
				select {
				case <-lost:
					logging.Error().Msg("lost writer lock, stopping worker")
					cancel()
				case <-ctx.Done():
				}
			}()

			reg, st, err := openRegistry(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			logger := logging.GlobalLogger().With().Str("component", "worker").Logger()
			ctx = logging.AttachLoggerToContext(&logger, ctx)

			retryDone := reg.RunRetryWorker(ctx)
			if err := service.Publish(ctx, reg, rds, cfg.SnapshotKey, cfg.SnapshotTTL); err != nil {
				logger.Error().Err(err).Msg("initial publish failed")
			}

			w := &service.Worker{
				Registry:    reg,
				Fetcher:     fetcher.NewHTTP(cfg),
				Redis:       rds,
				SnapshotKey: cfg.SnapshotKey,
				SnapshotTTL: cfg.SnapshotTTL,
			}
			w.Run(ctx)
			<-retryDone
			return nil
		},
	}
}

// maybeConnectRedis connects when REDIS_URL is set and returns nil otherwise.
func maybeConnectRedis(ctx context.Context, cfg *config.Config) (*cache.Redis, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	return connectRedis(ctx, cfg)
}

func connectRedis(ctx context.Context, cfg *config.Config) (*cache.Redis, error) {
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is not set")
	}
	rds, err := cache.New(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	if err := rds.Ping(ctx); err != nil {
		rds.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rds, nil
}

// openRegistry connects to the store, migrates it and loads every stream.
func openRegistry(ctx context.Context, cfg *config.Config) (*streams.Registry, store.Store, error) {
	url, err := store.MigrationURL(cfg)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("db: %w", err)
	}
	if err := store.RunMigrations(cfg.Driver, url); err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}

	policy, err := streams.ParsePersistPolicy(cfg.PersistFailure)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	logger := logging.GlobalLogger().With().Str("component", "registry").Logger()
	reg, err := streams.Load(ctx, st,
		streams.WithLogger(logger),
		streams.WithPersistPolicy(policy),
		streams.WithRetryAttempts(cfg.RetryAttempts),
	)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return reg, st, nil
}
