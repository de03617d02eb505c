package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/chairflow/chairflow/internal/config"
	"github.com/chairflow/chairflow/internal/domain/assignment"
	"github.com/chairflow/chairflow/internal/domain/audit"
	"github.com/chairflow/chairflow/internal/domain/floorplan"
	"github.com/chairflow/chairflow/internal/domain/flow"
	"github.com/chairflow/chairflow/internal/domain/queueview"
	"github.com/chairflow/chairflow/internal/domain/resource"
	"github.com/chairflow/chairflow/internal/platform/auth"
	"github.com/chairflow/chairflow/internal/platform/collab"
	"github.com/chairflow/chairflow/internal/platform/db"
	"github.com/chairflow/chairflow/internal/platform/metrics"
	"github.com/chairflow/chairflow/internal/platform/middleware"
	"github.com/chairflow/chairflow/internal/platform/notify"
	"github.com/chairflow/chairflow/internal/platform/ws"
)

// eventFanout pushes committed domain mutations to dashboard WebSocket
// subscribers and invalidates the queue projection for the clinic. It
// satisfies the EventSink interface declared by each domain package,
// avoiding circular imports between the domains and the queue view.
type eventFanout struct {
	hub   *ws.Hub
	queue *queueview.Service
}

func (f *eventFanout) Publish(clinicID uuid.UUID, subject string, subjectID uuid.UUID, fromValue, toValue string) {
	if f.queue != nil {
		f.queue.Invalidate(clinicID)
	}
	if f.hub != nil {
		f.hub.Publish(ws.Event{
			Topic:      ws.ClinicTopic(clinicID),
			Subject:    subject,
			SubjectID:  subjectID.String(),
			FromValue:  fromValue,
			ToValue:    toValue,
			OccurredAt: time.Now().UTC(),
		})
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "chairflow-server",
		Short: "Clinic Operations Orchestration Engine",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestration API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
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

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
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
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	runner := db.NewRunner(pool)

	// Collaborator directories. Real endpoints in production, in-memory
	// loose doubles otherwise so the engine runs standalone.
	var appointments collab.AppointmentDirectory
	if cfg.AppointmentServiceURL != "" {
		appointments = collab.NewAppointmentClient(cfg.AppointmentServiceURL)
	} else {
		logger.Warn().Msg("APPOINTMENT_SERVICE_URL not set; using in-memory appointment directory")
		appointments = collab.NewStaticAppointments(true)
	}
	var staff collab.StaffDirectory
	if cfg.StaffServiceURL != "" {
		staff = collab.NewStaffClient(cfg.StaffServiceURL)
	} else {
		logger.Warn().Msg("STAFF_SERVICE_URL not set; using in-memory staff directory")
		staff = collab.NewStaticStaff(true)
	}

	// Dashboard push + alert delivery
	hub := ws.NewHub(logger)
	dispatcher := notify.NewDispatcher(logger, &notify.LogSender{})

	// The fanout is shared by every domain service; the queue projection is
	// attached after it exists since it consumes the flow and resource
	// services built below.
	fanout := &eventFanout{hub: hub}

	// Domain services
	auditSvc := audit.NewService(audit.NewRepo(pool))
	resourceSvc := resource.NewService(resource.NewRepo(pool), runner, auditSvc, fanout)
	assignmentSvc := assignment.NewService(assignment.NewRepo(pool), staff, runner, auditSvc, fanout)
	flowSvc := flow.NewService(flow.NewRepo(pool), resourceSvc, assignmentSvc, appointments, runner, auditSvc, fanout)
	floorplanSvc := floorplan.NewService(floorplan.NewRepo(pool), runner, auditSvc, fanout, cfg.FloorPlanHistoryLimit)

	queueSvc := queueview.NewService(flowSvc, resourceSvc, dispatcher, queueview.Thresholds{
		ReadyForDoctorWarnAfter: cfg.ReadyForDoctorWarnAfter,
		WaitingWarnAfter:        cfg.WaitingWarnAfter,
	})
	fanout.queue = queueSvc

	// Warm the projection with clinics active in the last day so the alert
	// poller covers them before their first mutation after a restart.
	if active, err := auditSvc.ClinicsActiveSince(ctx, time.Now().Add(-24*time.Hour)); err != nil {
		logger.Warn().Err(err).Msg("failed to prime queue projection")
	} else {
		queueSvc.Prime(ctx, active)
		logger.Info().Int("clinics", len(active)).Msg("queue projection primed")
	}

	poller := queueview.NewPoller(queueSvc, cfg.AlertPollInterval)
	poller.Start()
	defer poller.Stop()
	defer dispatcher.Shutdown()

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Health check and metrics, outside auth
	e.GET("/health", db.HealthHandler(pool))
	e.GET("/metrics", metrics.Handler())

	// Auth middleware
	var authMW echo.MiddlewareFunc
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware()
	} else {
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		})
	}

	// API group
	apiV1 := e.Group("/api/v1")
	apiV1.Use(authMW)

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Domain handlers
	flow.NewHandler(flowSvc).RegisterRoutes(apiV1)
	resource.NewHandler(resourceSvc).RegisterRoutes(apiV1)
	assignment.NewHandler(assignmentSvc).RegisterRoutes(apiV1)
	floorplan.NewHandler(floorplanSvc).RegisterRoutes(apiV1)
	queueview.NewHandler(queueSvc).RegisterRoutes(apiV1)
	audit.NewHandler(auditSvc).RegisterRoutes(apiV1)

	// Dashboard WebSocket stream
	wsGroup := e.Group("/ws")
	wsGroup.Use(authMW)
	ws.NewHandler(hub).RegisterRoutes(wsGroup)

	// Serve with graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server starting")
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
