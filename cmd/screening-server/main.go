package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sleeprisk/screening/internal/config"
	"github.com/sleeprisk/screening/internal/domain/attachment"
	"github.com/sleeprisk/screening/internal/platform/db"
	"github.com/sleeprisk/screening/internal/platform/docstore"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "screening-server",
		Short:        "Sleep-risk screening API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(indexCmd())
	rootCmd.AddCommand(attachmentsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// backend is an opened document store plus what the server needs around it.
type backend struct {
	store  docstore.Client
	pinger db.Pinger
	pool   *pgxpool.Pool
	pg     *docstore.Postgres
	close  func()
}

func openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backend, error) {
	if cfg.StoreBackend == config.BackendMemory {
		logger.Warn().Msg("using in-memory document store, data is lost on exit")
		return &backend{
			store:  docstore.NewMemory(docstore.WithByteCeiling(cfg.DocByteCeiling)),
			pinger: db.PingFunc(func(context.Context) error { return nil }),
			close:  func() {},
		}, nil
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{
		DatabaseURL: cfg.DatabaseURL,
		Schema:      cfg.DBSchema,
		MaxConns:    cfg.DBMaxConns,
		MinConns:    cfg.DBMinConns,
	})
	if err != nil {
		return nil, err
	}
	pg := docstore.NewPostgres(pool, cfg.DocByteCeiling)
	return &backend{store: pg, pinger: pool, pool: pool, pg: pg, close: pool.Close}, nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the screening API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := loadConfig()
	if err != nil {
		logger.Error().Err(err).Msg("failed to load config")
		return err
	}

	ctx := context.Background()
	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open document store")
		return err
	}
	defer be.close()
	logger.Info().Str("backend", cfg.StoreBackend).Msg("document store ready")

	e := newServer(cfg, be.store, be.pinger, logger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// withPostgres runs fn against a Postgres-backed store. Commands that manage
// schema or indexes have nothing to do on the memory backend.
func withPostgres(fn func(ctx context.Context, cfg *config.Config, be *backend) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.StoreBackend != config.BackendPostgres {
		return fmt.Errorf("this command needs STORE_BACKEND=%s", config.BackendPostgres)
	}
	ctx := context.Background()
	be, err := openBackend(ctx, cfg, newLogger(cfg.Env))
	if err != nil {
		return err
	}
	defer be.close()
	return fn(ctx, cfg, be)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withPostgres(func(ctx context.Context, cfg *config.Config, be *backend) error {
				migrator := db.NewMigrator(be.pool, migrationsDir(dir, cfg), cfg.DBSchema, newLogger(cfg.Env))
				fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", cfg.DBSchema)
				count, err := migrator.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withPostgres(func(ctx context.Context, cfg *config.Config, be *backend) error {
				migrator := db.NewMigrator(be.pool, migrationsDir(dir, cfg), cfg.DBSchema, newLogger(cfg.Env))
				statuses, err := migrator.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printMigrationStatus(cmd.OutOrStdout(), cfg.DBSchema, statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func migrationsDir(flag string, cfg *config.Config) string {
	if flag != "" {
		return flag
	}
	return cfg.MigrationsDir
}

func printMigrationStatus(out io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Version, s.Name, status, appliedAt)
	}
	w.Flush()
}

func indexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage document ordering indexes",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create the index an ordered query on collection.field needs",
		RunE: func(cmd *cobra.Command, args []string) error {
			collection, _ := cmd.Flags().GetString("collection")
			field, _ := cmd.Flags().GetString("field")
			scopeFlag, _ := cmd.Flags().GetString("scope")
			scope, err := parseScope(scopeFlag)
			if err != nil {
				return err
			}
			if collection == "" || field == "" {
				return fmt.Errorf("--collection and --field are required")
			}
			return withPostgres(func(ctx context.Context, _ *config.Config, be *backend) error {
				if err := be.pg.CreateIndex(ctx, collection, field, scope); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Index %s ready.\n", docstore.IndexName(collection, field, scope))
				return nil
			})
		},
	}
	createCmd.Flags().String("collection", "predictions", "Collection name, e.g. predictions")
	createCmd.Flags().String("field", "createdAt", "Field to order by")
	createCmd.Flags().String("scope", string(docstore.ScopeOwner), "owner (one patient) or group (all patients)")
	cmd.AddCommand(createCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List ordering indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPostgres(func(ctx context.Context, _ *config.Config, be *backend) error {
				names, err := be.pg.ListIndexes(ctx)
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Fprintln(cmd.OutOrStdout(), n)
				}
				return nil
			})
		},
	})

	return cmd
}

func parseScope(s string) (docstore.Scope, error) {
	switch docstore.Scope(strings.ToLower(s)) {
	case docstore.ScopeOwner:
		return docstore.ScopeOwner, nil
	case docstore.ScopeGroup:
		return docstore.ScopeGroup, nil
	}
	return "", fmt.Errorf("--scope must be %q or %q, got %q", docstore.ScopeOwner, docstore.ScopeGroup, s)
}

func attachmentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attachments",
		Short: "Inspect stored attachments",
	}

	incompleteCmd := &cobra.Command{
		Use:   "incomplete",
		Short: "List chunked uploads that never finished (read only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withPostgres(func(ctx context.Context, cfg *config.Config, be *backend) error {
				svc := attachment.NewService(be.store, cfg.Limits(), newLogger(cfg.Env))
				recs, err := svc.FindIncomplete(ctx, limit)
				if err != nil {
					return err
				}
				printIncomplete(cmd.OutOrStdout(), recs)
				return nil
			})
		},
	}
	incompleteCmd.Flags().Int("limit", 100, "Maximum incomplete uploads to report (0 for all)")
	cmd.AddCommand(incompleteCmd)
	return cmd
}

func printIncomplete(out io.Writer, recs []*attachment.Record) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OWNER\tID\tNAME\tSIZE\tCREATED AT")
	for _, r := range recs {
		created := ""
		if !r.CreatedAt.IsZero() {
			created = r.CreatedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.OwnerID, r.ID, r.Name, r.SizeBytes, created)
	}
	w.Flush()
	fmt.Fprintf(out, "%d incomplete upload(s)\n", len(recs))
}
