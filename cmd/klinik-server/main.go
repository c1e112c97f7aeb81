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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/muslih-a/appklinik/internal/config"
	"github.com/muslih-a/appklinik/internal/domain/clinic"
	"github.com/muslih-a/appklinik/internal/domain/queue"
	"github.com/muslih-a/appklinik/internal/domain/reminder"
	"github.com/muslih-a/appklinik/internal/domain/settings"
	"github.com/muslih-a/appklinik/internal/domain/user"
	"github.com/muslih-a/appklinik/internal/domain/vaccination"
	"github.com/muslih-a/appklinik/internal/platform/auth"
	"github.com/muslih-a/appklinik/internal/platform/clock"
	"github.com/muslih-a/appklinik/internal/platform/db"
	"github.com/muslih-a/appklinik/internal/platform/events"
	"github.com/muslih-a/appklinik/internal/platform/metrics"
	"github.com/muslih-a/appklinik/internal/platform/middleware"
	"github.com/muslih-a/appklinik/internal/platform/notification"
	"github.com/muslih-a/appklinik/internal/platform/scheduler"
	"github.com/muslih-a/appklinik/internal/platform/validate"
	"github.com/muslih-a/appklinik/internal/platform/websocket"
	"github.com/muslih-a/appklinik/migrations"
)

const jobResetNowServing = "reset-now-serving"

func main() {
	rootCmd := &cobra.Command{
		Use:          "klinik-server",
		Short:        "Clinic queue API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(clinicCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(sweepCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server, websocket hub and reminder scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
		TimeZone: cfg.Timezone,
	})
}

// cliEnv is the config, logger and pool shared by the one-shot commands.
type cliEnv struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *pgxpool.Pool
}

func openCLI(ctx context.Context) (*cliEnv, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &cliEnv{cfg: cfg, logger: newLogger(cfg), pool: pool}, nil
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
			schema, _ := cmd.Flags().GetString("schema")
			ctx := cmd.Context()
			env, err := openCLI(ctx)
			if err != nil {
				return err
			}
			defer env.pool.Close()

			count, err := db.NewMigrator(env.pool, migrations.FS, schema).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) to schema %s.\n", count, schema)
			return nil
		},
	}
	upCmd.Flags().String("schema", "public", "Target schema for migrations")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			ctx := cmd.Context()
			env, err := openCLI(ctx)
			if err != nil {
				return err
			}
			defer env.pool.Close()

			statuses, err := db.NewMigrator(env.pool, migrations.FS, schema).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd, schema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("schema", "public", "Target schema for migrations")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrationStatus(cmd *cobra.Command, schema string, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func clinicCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clinic",
		Short: "Manage clinics",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a clinic and print its display key",
		RunE: func(cmd *cobra.Command, args []string) error {
			var req clinic.CreateRequest
			req.Name, _ = cmd.Flags().GetString("name")
			req.Address, _ = cmd.Flags().GetString("address")
			req.PhoneNumber, _ = cmd.Flags().GetString("phone")
			req.DoctorID, _ = cmd.Flags().GetString("doctor")
			req.AverageConsultationTime, _ = cmd.Flags().GetInt("avg-minutes")
			req.OpeningTime, _ = cmd.Flags().GetString("opening")
			if err := validate.New().Validate(req); err != nil {
				return err
			}

			ctx := cmd.Context()
			env, err := openCLI(ctx)
			if err != nil {
				return err
			}
			defer env.pool.Close()

			users := user.NewRepoPG(env.pool)
			svc := clinic.NewService(clinic.NewRepoPG(env.pool), users, db.NewTxManager(env.pool), clock.System(), env.logger)
			c, err := svc.Create(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created clinic %s (%s), display key %s\n", c.Name, c.ID, c.DisplayKey)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Clinic name")
	createCmd.Flags().String("address", "", "Street address")
	createCmd.Flags().String("phone", "", "Phone number")
	createCmd.Flags().String("doctor", "", "Doctor user id to assign")
	createCmd.Flags().Int("avg-minutes", 0, "Average consultation time in minutes")
	createCmd.Flags().String("opening", "", "Opening time (HH:MM)")

	cmd.AddCommand(createCmd)
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Provision a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			var req user.CreateRequest
			req.Name, _ = cmd.Flags().GetString("name")
			req.Email, _ = cmd.Flags().GetString("email")
			req.Role, _ = cmd.Flags().GetString("role")
			req.ClinicID, _ = cmd.Flags().GetString("clinic")
			if err := validate.New().Validate(req); err != nil {
				return err
			}

			ctx := cmd.Context()
			env, err := openCLI(ctx)
			if err != nil {
				return err
			}
			defer env.pool.Close()

			u, err := user.NewService(user.NewRepoPG(env.pool), env.logger).Create(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s %s (%s)\n", u.Role, u.Name, u.ID)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Full name")
	createCmd.Flags().String("email", "", "Email address")
	createCmd.Flags().String("role", auth.RolePatient, "Admin, AdminKlinik, Doctor or Patient")
	createCmd.Flags().String("clinic", "", "Clinic id for doctors and clinic admins")

	cmd.AddCommand(createCmd)
	return cmd
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one reminder or maintenance sweep and exit",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "realtime",
		Short: "Send near-term appointment reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.sweeper.Realtime(ctx)
				if err != nil {
					return err
				}
				printResult(cmd, reminder.SweepRealtime, res)
				return nil
			})
		},
	})

	dailyCmd := &cobra.Command{
		Use:   "daily",
		Short: "Send daily appointment and vaccination reminders",
		Long: "Without --day the sweep only sends when the current minute matches a configured " +
			"reminder time. With --day it sends that day's reminders unconditionally.",
		RunE: func(cmd *cobra.Command, args []string) error {
			day, _ := cmd.Flags().GetString("day")
			tomorrow, err := parseDayFlag(day)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				var res reminder.Result
				if day == "" {
					res, err = a.sweeper.Daily(ctx)
				} else {
					target := clock.Day(time.Now(), a.loc)
					if tomorrow {
						target = target.AddDate(0, 0, 1)
					}
					res, err = a.sweeper.RemindDay(ctx, target, tomorrow)
				}
				if err != nil {
					return err
				}
				printResult(cmd, reminder.SweepDaily, res)
				return nil
			})
		},
	}
	dailyCmd.Flags().String("day", "", "Force a run for \"today\" or \"tomorrow\"")
	cmd.AddCommand(dailyCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   jobResetNowServing,
		Short: "Clear every doctor's now-serving cursor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return a.users.ResetNowServing(ctx)
			})
		},
	})
	return cmd
}

func parseDayFlag(day string) (tomorrow bool, err error) {
	switch strings.ToLower(day) {
	case "", "today":
		return false, nil
	case "tomorrow":
		return true, nil
	default:
		return false, fmt.Errorf("--day must be \"today\" or \"tomorrow\", got %q", day)
	}
}

func printResult(cmd *cobra.Command, sweep string, res reminder.Result) {
	out := cmd.OutOrStdout()
	if res.Disabled {
		fmt.Fprintf(out, "%s: disabled in settings\n", sweep)
		return
	}
	fmt.Fprintf(out, "%s: candidates=%d sent=%d skipped=%d not_due=%d taken=%d failed=%d\n",
		sweep, res.Candidates, res.Sent, res.Skipped, res.NotDue, res.Taken, res.Failed)
}

// withApp builds the services for a one-shot command, runs fn and waits for
// queued pushes before closing the pool.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	env, err := openCLI(ctx)
	if err != nil {
		return err
	}
	defer env.pool.Close()

	a, err := newApp(env.cfg, env.pool, env.logger)
	if err != nil {
		return err
	}
	defer a.notifier.Wait()
	return fn(ctx, a)
}

// app holds the wired services. The server and the sweep commands share it.
type app struct {
	cfg     *config.Config
	loc     *time.Location
	logger  zerolog.Logger
	metrics *metrics.Metrics

	bus      *events.Bus
	hub      *websocket.Hub
	notifier *notification.Notifier

	users        *user.Service
	clinics      *clinic.Service
	vaccinations *vaccination.Service
	settings     *settings.Service
	queue        *queue.Service
	sweeper      *reminder.Sweeper
}

func newApp(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	m := metrics.New()

	bus := events.NewBus(logger, m)
	bus.Subscribe(events.LogSubscriber{Logger: logger})
	hub := websocket.NewHub(websocket.ClinicRoomPolicy, logger, m)
	bus.Subscribe(hub)

	notifier := notification.NewNotifier(pushSender(cfg, logger), nil, cfg.PushTimeout, logger, m)

	tx := db.NewTxManager(pool)
	clk := clock.System()
	userRepo := user.NewRepoPG(pool)
	clinicRepo := clinic.NewRepoPG(pool)

	a := &app{
		cfg:      cfg,
		loc:      loc,
		logger:   logger,
		metrics:  m,
		bus:      bus,
		hub:      hub,
		notifier: notifier,
	}
	a.users = user.NewService(userRepo, logger)
	a.clinics = clinic.NewService(clinicRepo, userRepo, tx, clk, logger)
	a.vaccinations = vaccination.NewService(vaccination.NewRepoPG(pool), clk, loc, logger)
	a.settings = settings.NewService(settings.NewRepoPG(pool), logger)
	a.queue = queue.NewService(queue.Deps{
		Repo:         queue.NewRepoPG(pool),
		Clinics:      clinicRepo,
		Users:        userRepo,
		Vaccinations: a.vaccinations,
		Tx:           tx,
		Events:       bus,
		Notifier:     notifier,
		Metrics:      m,
		Clock:        clk,
		Location:     loc,
		Logger:       logger,
	})
	a.sweeper = reminder.NewSweeper(reminder.Deps{
		Store:       reminder.NewStorePG(pool),
		Settings:    a.settings,
		Notifier:    notifier,
		Clock:       clk,
		Location:    loc,
		Concurrency: cfg.ReminderConcurrency,
		Metrics:     m,
		Logger:      logger,
	})
	return a, nil
}

func pushSender(cfg *config.Config, logger zerolog.Logger) notification.Sink {
	if cfg.ExpoPushURL == "" {
		logger.Warn().Msg("EXPO_PUSH_URL is empty, pushes are logged instead of sent")
		return notification.LogSender{Logger: logger}
	}
	return notification.NewExpoSender(cfg.ExpoPushURL, &http.Client{Timeout: cfg.PushTimeout})
}

// redisPinger adapts a redis client to db.Pinger for the readiness check.
type redisPinger struct{ client *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.client.Ping(ctx).Err() }

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (a *app) jobs() []scheduler.Job {
	return []scheduler.Job{
		{
			Name:    reminder.SweepRealtime,
			Spec:    "@every 1m",
			Timeout: 50 * time.Second,
			Run: func(ctx context.Context) error {
				_, err := a.sweeper.Realtime(ctx)
				return err
			},
		},
		{
			Name:    reminder.SweepDaily,
			Spec:    "* * * * *",
			Timeout: 50 * time.Second,
			Run: func(ctx context.Context) error {
				_, err := a.sweeper.Daily(ctx)
				return err
			},
		},
		{
			Name:    jobResetNowServing,
			Spec:    "0 0 * * *",
			Timeout: time.Minute,
			Run:     a.users.ResetNowServing,
		},
	}
}

func (a *app) authMiddleware() echo.MiddlewareFunc {
	jwtCfg := auth.JWTConfig{
		Issuer:     a.cfg.AuthIssuer,
		Audience:   a.cfg.AuthAudience,
		JWKSURL:    a.cfg.AuthJWKSURL,
		SigningKey: []byte(a.cfg.AuthSigningKey),
	}
	if a.cfg.IsDev() {
		a.logger.Warn().Msg("development mode: X-Dev-* headers are accepted as identity")
		return auth.DevAuthMiddleware(jwtCfg)
	}
	return auth.JWTMiddleware(jwtCfg)
}

// newEcho mounts middleware and routes. pingers are reported by the
// readiness endpoint next to the database pool.
func (a *app) newEcho(pool *pgxpool.Pool, pingers map[string]db.Pinger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validate.New()

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders())
	if a.cfg.MetricsEnabled {
		e.Use(middleware.Metrics(a.metrics))
	}
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderXRequestID},
	}))
	e.Use(echomw.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(a.cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"pool":      db.GetPoolStats(pool),
			"wsClients": a.hub.ClientCount(),
		})
	})
	e.GET("/health/ready", db.ReadyHandler(pool, pingers))
	if a.cfg.MetricsEnabled {
		e.GET("/metrics", echo.WrapHandler(a.metrics.Handler()))
	}

	limiter := middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: a.cfg.RateLimitRPS,
		BurstSize:         a.cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	})

	public := e.Group("/public", limiter)
	queueHandler := queue.NewHandler(a.queue)
	queueHandler.RegisterPublicRoutes(public)

	wsHandler := websocket.NewHandler(a.hub, a.clinics.ResolveDisplayKey, a.logger)
	wsHandler.RegisterPublicRoutes(public)

	api := e.Group("/api/v1", a.authMiddleware(), limiter)
	wsHandler.RegisterRoutes(api)
	queueHandler.RegisterRoutes(api)
	clinic.NewHandler(a.clinics).RegisterRoutes(api)
	user.NewHandler(a.users).RegisterRoutes(api)
	vaccination.NewHandler(a.vaccinations).RegisterRoutes(api)
	settings.NewHandler(a.settings).RegisterRoutes(api)

	return e
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		bootLogger := newLogger(nil)
		bootLogger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := openPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	a, err := newApp(cfg, pool, logger)
	if err != nil {
		return err
	}

	pingers := map[string]db.Pinger{}
	var locker scheduler.Locker = scheduler.NewLocalLocker()
	if cfg.RedisURL != "" {
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error().Err(err).Msg("failed to connect to redis")
			return err
		}
		defer rdb.Close()

		pingers["redis"] = redisPinger{client: rdb}
		locker = scheduler.NewRedisLocker(rdb)

		bridge := events.NewRedisBridge(rdb, a.bus, logger)
		a.bus.SetForwarder(bridge)
		go func() {
			if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("redis event bridge stopped")
			}
		}()
		logger.Info().Msg("redis event bridge and scheduler lock enabled")
	}

	var sched *scheduler.Scheduler
	if cfg.SchedulerEnabled {
		sched = scheduler.New(a.loc, locker, logger)
		for _, job := range a.jobs() {
			if err := sched.Add(job); err != nil {
				return fmt.Errorf("register job %s: %w", job.Name, err)
			}
		}
		sched.Start()
	}

	e := a.newEcho(pool, pingers)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("timezone", a.loc.String()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if sched != nil {
		sched.Stop()
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	a.notifier.Wait()
	logger.Info().Msg("server stopped")
	return nil
}
