package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mediclear/mediclear/internal/config"
	"github.com/mediclear/mediclear/internal/domain/identity"
	"github.com/mediclear/mediclear/internal/domain/patient"
	"github.com/mediclear/mediclear/internal/domain/records"
	"github.com/mediclear/mediclear/internal/domain/report"
	"github.com/mediclear/mediclear/internal/domain/search"
	"github.com/mediclear/mediclear/internal/domain/workflow"
	"github.com/mediclear/mediclear/internal/platform/auth"
	"github.com/mediclear/mediclear/internal/platform/db"
	"github.com/mediclear/mediclear/internal/platform/gate"
	"github.com/mediclear/mediclear/internal/platform/middleware"
	"github.com/mediclear/mediclear/internal/platform/websocket"
	"github.com/mediclear/mediclear/internal/web"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mediclear-server",
		Short: "MediClear patient discharge tracking server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reportCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	if os.Getenv("ENV") == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MediClear server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// openPool loads the config and connects for the one-shot commands.
func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
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
			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			dir := migrationsDir(cmd, cfg)
			fmt.Printf("Running migrations from %s\n", dir)
			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationsDir(cmd, cfg)).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func migrationsDir(cmd *cobra.Command, cfg *config.Config) string {
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		return dir
	}
	return cfg.MigrationsDir
}

// exportScope reads every patient; the row policies treat admin as unrestricted.
var exportScope = db.Scope{UserID: uuid.Nil.String(), Role: auth.RoleAdmin}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Patient reports",
	}

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write the patient report as CSV and/or PDF",
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds, err := exportFormats(flagString(cmd, "format"))
			if err != nil {
				return err
			}
			f, err := report.ParseFilter(flagString(cmd, "from"), flagString(cmd, "to"), flagString(cmd, "ward"), flagString(cmd, "status"))
			if err != nil {
				return err
			}

			logger := newLogger()
			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			dir := flagString(cmd, "dir")
			if dir == "" {
				dir = cfg.ExportDir
			}

			patients := patient.NewService(patient.NewRepoPG(pool), logger)
			engine := report.NewEngine(logger)
			return db.WithAccessScope(ctx, pool, exportScope, func(ctx context.Context) error {
				directory := patients.Directory()
				if err := directory.Fetch(ctx); err != nil {
					return err
				}
				r := engine.Build(directory.Patients(), f)
				for _, kind := range kinds {
					path, err := report.WriteFile(dir, kind, r)
					if err != nil {
						return fmt.Errorf("export %s: %w", kind, err)
					}
					fmt.Printf("Wrote %d patient(s) to %s\n", r.Summary.Total, path)
				}
				return nil
			})
		},
	}
	exportCmd.Flags().String("format", "both", "csv, pdf or both")
	exportCmd.Flags().String("from", "", "Admission date range start (YYYY-MM-DD)")
	exportCmd.Flags().String("to", "", "Admission date range end (YYYY-MM-DD)")
	exportCmd.Flags().String("ward", search.AllWards, "Ward filter")
	exportCmd.Flags().String("status", search.AllStatuses, "Status filter")
	exportCmd.Flags().String("dir", "", "Output directory (defaults to EXPORT_DIR)")
	cmd.AddCommand(exportCmd)

	return cmd
}

func flagString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}

func exportFormats(s string) ([]string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case report.FormatCSV:
		return []string{report.FormatCSV}, nil
	case report.FormatPDF:
		return []string{report.FormatPDF}, nil
	case "both", "":
		return []string{report.FormatCSV, report.FormatPDF}, nil
	}
	return nil, fmt.Errorf("unknown export format %q", s)
}

// scopeFromClaims tags the request's database connection with the session
// identity. Infrastructure endpoints and the websocket stay unscoped.
func scopeFromClaims(c echo.Context) (db.Scope, bool) {
	if auth.AuthSkipper(c) || c.Path() == "/ws" {
		return db.Scope{}, false
	}
	claims := auth.ClaimsFromContext(c.Request().Context())
	if claims == nil {
		return db.Scope{}, false
	}
	return db.Scope{UserID: claims.Subject, Role: claims.Role}, true
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	signingKey, err := cfg.SigningKey()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid signing key")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	if policies, err := db.CheckRowPolicies(ctx, pool); err != nil {
		logger.Warn().Err(err).Msg("could not inspect row policies")
	} else if !policies.Enforced() {
		logger.Error().Interface("row_policies", policies).Msg("row-level security is not enforced on every patient table; run migrations")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	metrics := middleware.NewMetrics()
	tokens := auth.NewTokenIssuer(signingKey, cfg.SessionTTL)
	revoked := auth.NewTokenRevocationStore(time.Minute)
	defer revoked.Close()

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders:    []string{echo.HeaderContentDisposition},
		AllowCredentials: true,
	}))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(metrics.Middleware())
	e.Use(auth.SessionMiddleware(tokens, revoked, logger))
	e.Use(db.AccessScopeMiddleware(pool, scopeFromClaims))
	e.Use(middleware.Audit(logger, metrics))

	// Realtime roster events
	hub := websocket.NewHub(logger)

	// Patients
	patientSvc := patient.NewService(patient.NewRepoPG(pool), logger)
	patientSvc.SetEventPublisher(hub)
	patientSvc.SetMetrics(patient.NewMetrics(metrics.Registerer()))
	patientSvc.SetVerifyRowPolicy(cfg.VerifyRowPolicy)

	// Records
	recordSvc := records.NewService(
		records.NewRepoPG(pool, records.VitalSignsKind),
		records.NewRepoPG(pool, records.DiagnosisKind),
		records.NewRepoPG(pool, records.BillingKind),
		records.NewRepoPG(pool, records.MedicalHistoryKind),
		logger,
	)

	// Identity
	identitySvc := identity.NewService(identity.NewAccountRepoPG(pool), identity.NewProfileRepoPG(pool), tokens, revoked, logger)
	identitySvc.SetRequireEmailConfirmation(cfg.RequireEmailConfirmation)
	identitySvc.SetEventPublisher(hub)

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go func() {
		for change := range identitySvc.Watch(watchCtx) {
			logger.Info().
				Str("kind", string(change.Kind)).
				Str("user_id", change.UserID.String()).
				Msg("session changed")
		}
	}()

	workflowEngine := workflow.NewEngine(logger)
	reportEngine := report.NewEngine(logger)
	routes := gate.New(gate.Routes)

	// API
	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           middleware.DefaultRateLimitConfig().IdleTTL,
	}))

	identityHandler := identity.NewHandler(identitySvc, routes)
	identityHandler.SetSecureCookies(cfg.IsProduction())
	identityHandler.SetExposeConfirmationTokens(cfg.IsDev())
	identityHandler.RegisterRoutes(apiV1, middleware.RateLimit(middleware.LoginRateLimitConfig()))

	search.NewHandler(patientSvc).RegisterRoutes(apiV1)
	patient.NewHandler(patientSvc).RegisterRoutes(apiV1)
	records.NewHandler(recordSvc, patientSvc).RegisterRoutes(apiV1)
	workflow.NewHandler(workflowEngine, patientSvc).RegisterRoutes(apiV1)
	report.NewHandler(reportEngine, patientSvc).RegisterRoutes(apiV1)

	websocket.NewWebSocketHandler(hub, cfg.CORSOrigins).RegisterRoutes(e.Group(""))

	// Pages
	web.NewHandler(web.Deps{
		Gate:     routes,
		Identity: identitySvc,
		Patients: patientSvc,
		Records:  recordSvc,
		Workflow: workflowEngine,
		Reports:  reportEngine,
	}, logger).RegisterRoutes(e)

	// Infrastructure
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", metrics.Handler())

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
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
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
