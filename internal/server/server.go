package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/eskrenkovic/meetup-sessions/internal/config"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/auth"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/core"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/commands"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/domain"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/membership"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/queries"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/store"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/store/memory"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/store/postgres"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/store/sqlite"

	"github.com/eskrenkovic/mediator-go"
	"github.com/eskrenkovic/migrate-go"
	"github.com/go-chi/chi"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

type Server interface {
	Start() error
	Stop(ctx context.Context) error
}

var _ Server = &HTTPServer{}

// HTTPServer acts as the composition root for an application.
type HTTPServer struct {
	server  *http.Server
	logger  *zap.Logger
	closers []func() error
}

func NewHTTPServer(config config.Config) (*HTTPServer, error) {
	baseCtx := context.Background()

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &HTTPServer{logger: logger}

	sessionStore, err := s.openStore(baseCtx, config)
	if err != nil {
		return nil, err
	}

	locker, err := s.newLocker(baseCtx, config)
	if err != nil {
		_ = s.tearDown()
		return nil, err
	}

	verifier, err := auth.NewVerifier(auth.Config{
		Secret: []byte(config.Auth.JWTSecret),
		Issuer: config.Auth.JWTIssuer,
	})
	if err != nil {
		_ = s.tearDown()
		return nil, err
	}

	coordinator := membership.NewCoordinator(sessionStore, locker, logger, membership.Options{
		MaxAttempts:    config.Membership.MaxAttempts,
		InitialBackoff: config.Membership.InitialBackoff,
		MaxBackoff:     config.Membership.MaxBackoff,
		JoinTimeout:    config.Membership.JoinTimeout,
	})

	if err := registerHandlers(config, logger, sessionStore, coordinator); err != nil {
		_ = s.tearDown()
		return nil, err
	}

	s.server = &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(config.Port)),
		Handler:           newRouter(logger, verifier, config.Auth.SchedulerToken),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	return s, nil
}

func (s *HTTPServer) openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.StorageDriver {
	case config.StoragePostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}

		if err := migrate.Run(ctx, db, cfg.MigrationsPath); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}

		pg := postgres.New(db)
		s.closers = append(s.closers, pg.Close)
		return pg, nil

	case config.StorageSQLite:
		lite, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}

		s.closers = append(s.closers, lite.Close)
		return lite, nil

	case config.StorageMemory:
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

func (s *HTTPServer) newLocker(ctx context.Context, cfg config.Config) (membership.Locker, error) {
	switch cfg.Membership.Lock {
	case config.LockNone:
		return membership.NoopLocker{}, nil

	case config.LockLocal:
		return membership.NewLocalLocker(), nil

	case config.LockRedis:
		client, err := membership.ConnectRedis(ctx, membership.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}

		s.closers = append(s.closers, client.Close)
		return membership.NewRedisLocker(client, cfg.Redis.LockTTL), nil

	default:
		return nil, fmt.Errorf("unknown membership lock %q", cfg.Membership.Lock)
	}
}

func registerHandlers(
	config config.Config,
	logger *zap.Logger,
	sessionStore store.Store,
	coordinator *membership.Coordinator,
) error {
	requestLoggingBehavior := core.RequestLoggingBehavior{Logger: logger}
	handlerErrorLoggingBehavior := core.HandlerErrorLoggingBehavior{Logger: logger}
	requestValidationBehavior := core.RequestValidationBehavior{}
	tracingBehavior := core.TracingBehavior{}

	mediator.RegisterPipelineBehavior(&tracingBehavior)
	mediator.RegisterPipelineBehavior(&requestLoggingBehavior)
	mediator.RegisterPipelineBehavior(&handlerErrorLoggingBehavior)
	mediator.RegisterPipelineBehavior(&requestValidationBehavior)

	// handler registration

	limits := domain.CapacityLimits{
		Default: config.Session.DefaultMaxParticipants,
		Max:     config.Session.MaxParticipantsLimit,
	}

	createSessionHandler := commands.NewCreateSessionCommandHandler(
		sessionStore,
		domain.NewCodeGenerator(),
		limits,
		logger,
	)
	err := mediator.RegisterRequestHandler[commands.CreateSessionCommand, domain.Snapshot](
		createSessionHandler,
	)
	if err != nil {
		return err
	}

	joinSessionHandler := commands.NewJoinSessionCommandHandler(sessionStore, coordinator)
	err = mediator.RegisterRequestHandler[commands.JoinSessionCommand, commands.JoinSessionResponse](
		joinSessionHandler,
	)
	if err != nil {
		return err
	}

	leaveSessionHandler := commands.NewLeaveSessionCommandHandler(coordinator)
	err = mediator.RegisterRequestHandler[commands.LeaveSessionCommand, commands.LeaveSessionResponse](
		leaveSessionHandler,
	)
	if err != nil {
		return err
	}

	closeSessionHandler := commands.NewCloseSessionCommandHandler(sessionStore)
	err = mediator.RegisterRequestHandler[commands.CloseSessionCommand, domain.Snapshot](
		closeSessionHandler,
	)
	if err != nil {
		return err
	}

	expireSessionsHandler := commands.NewExpireSessionsCommandHandler(sessionStore, config.Session.TTL, logger)
	err = mediator.RegisterRequestHandler[commands.ExpireSessionsCommand, commands.ExpireSessionsResponse](
		expireSessionsHandler,
	)
	if err != nil {
		return err
	}

	getSessionHandler := queries.NewGetSessionQueryHandler(sessionStore)
	err = mediator.RegisterRequestHandler[queries.GetSessionQuery, domain.Snapshot](
		getSessionHandler,
	)
	if err != nil {
		return err
	}

	getUserSessionsHandler := queries.NewGetUserSessionsQueryHandler(sessionStore)
	return mediator.RegisterRequestHandler[queries.GetUserSessionsQuery, []domain.Snapshot](
		getUserSessionsHandler,
	)
}

func newRouter(logger *zap.Logger, verifier *auth.Verifier, schedulerToken string) http.Handler {
	r := chi.NewRouter()

	r.Use(core.LoggerHTTPMiddleware(logger))
	r.Use(core.CorrelationIDHTTPMiddleware)

	// http

	r.With(auth.SchedulerMiddleware(schedulerToken)).
		Post("/sessions/actions/expire", commands.HandleExpireSessions)

	r.Group(func(r chi.Router) {
		r.Use(auth.AuthenticationMiddleware(verifier))

		r.Get("/sessions", queries.HandleGetUserSessions)
		r.Post("/sessions", commands.HandleCreateSession)
		r.Get("/sessions/{id}", queries.HandleGetSession)

		r.Post("/sessions/actions/join", commands.HandleJoinSession)

		r.Put("/sessions/{id}/actions/leave", commands.HandleLeaveSession)
		r.Put("/sessions/{id}/actions/close", commands.HandleCloseSession)
	})

	return r
}

// Handler exposes the routed handler for in-process tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Stop drains in-flight requests and then releases the store and lock
// backends.
func (s *HTTPServer) Stop(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	return errors.Join(err, s.tearDown())
}

func (s *HTTPServer) tearDown() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil

	return errors.Join(errs...)
}
