package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vcmarket/apiserver/config"
	"github.com/vcmarket/apiserver/internal/auth"
	"github.com/vcmarket/apiserver/internal/catalog"
	"github.com/vcmarket/apiserver/internal/db"
	"github.com/vcmarket/apiserver/internal/docstore"
	"github.com/vcmarket/apiserver/internal/handlers"
	"github.com/vcmarket/apiserver/internal/metrics"
	"github.com/vcmarket/apiserver/internal/mq"
	"github.com/vcmarket/apiserver/internal/services"
	"github.com/vcmarket/apiserver/internal/session"
	"github.com/vcmarket/apiserver/internal/storage"
	"github.com/vcmarket/apiserver/internal/store"
	"github.com/vcmarket/apiserver/internal/upload"
)

const requestTimeout = 60 * time.Second

// Server wraps the HTTP server, router and every long-lived collaborator.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	logger     *zap.Logger

	db       *sql.DB
	rdb      *redis.Client
	bus      *mq.MQ
	catalog  *catalog.Store
	registry *session.Registry
	live     *handlers.LiveHub

	stopListen context.CancelFunc
}

// New constructs a Server with every backend selected by cfg.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{logger: logger}
	ok := false
	defer func() {
		if !ok {
			s.closeBackends()
		}
	}()

	if cfg.DocstoreBackend == config.BackendPostgres {
		conn, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		s.db = conn
	}

	bus, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		return nil, err
	}
	s.bus = bus

	docs := s.openDocstore(cfg)

	sessions, err := s.openSessions(ctx, cfg)
	if err != nil {
		return nil, err
	}
	var accounts auth.AccountRepository = store.NewMemoryAccounts()
	if s.db != nil {
		accounts = store.NewAccountRepository(s.db)
	}
	provider := auth.NewService(accounts, sessions, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	host, err := NewImageHost(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	users := catalog.NewUserCache(docs)
	s.catalog = catalog.NewStore(docs, catalog.Options{
		Window:            cfg.Catalog.Window,
		RosterWindow:      cfg.Catalog.RosterWindow,
		DefaultCategories: cfg.Catalog.Categories,
		Logger:            logger.Named("catalog"),
		Users:             users,
	})
	if err := s.catalog.Start(ctx); err != nil {
		return nil, err
	}

	s.registry = session.NewRegistry(session.Config{
		Provider:    provider,
		Docs:        docs,
		Users:       users,
		EmailDomain: cfg.Auth.EmailDomain,
		Logger:      logger.Named("session"),
	})

	itemService := services.NewItemService(docs, s.catalog, host, logger.Named("items"))
	userService := services.NewUserService(docs, users, host, logger.Named("users"))
	categoryService := services.NewCategoryService(docs, s.catalog, logger.Named("categories"))

	s.live = handlers.NewLiveHub(s.catalog, s.registry, cfg.Catalog.Debounce, cfg.Catalog.PageSize, logger.Named("live"))
	authHandler := handlers.NewAuthHandler(s.registry, cfg.Auth.LoginRatePerMinute, logger.Named("auth"))
	itemHandler := handlers.NewItemHandler(s.catalog, itemService, s.live, cfg.Catalog.PageSize, logger.Named("items"))
	userHandler := handlers.NewUserHandler(s.catalog, userService)
	categoryHandler := handlers.NewCategoryHandler(categoryService)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		requestLogger(logger.Named("http")),
		metrics.InstrumentHandler,
	)
	router.Get("/healthz", handlers.Healthz)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())
	// The socket outlives any request timeout.
	router.Method(http.MethodGet, "/live", s.live)

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout), authHandler.Authenticate)
		r.Route("/auth", func(r chi.Router) {
			handlers.AuthRouter(r, authHandler)
		})
		r.Route("/items", func(r chi.Router) {
			handlers.ItemRouter(r, itemHandler, authHandler.RequireAuth)
		})
		r.Route("/users", func(r chi.Router) {
			handlers.UserRouter(r, userHandler, authHandler.RequireAuth)
		})
		r.Route("/categories", func(r chi.Router) {
			handlers.CategoryRouter(r, categoryHandler, authHandler.RequireAuth)
		})
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.router = router
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ok = true
	return s, nil
}

func (s *Server) openDocstore(cfg config.Config) docstore.Store {
	if s.db == nil {
		s.logger.Info("using in-memory docstore")
		return docstore.NewMemory()
	}
	opts := []docstore.PostgresOption{
		docstore.WithLogger(s.logger.Named("docstore")),
		docstore.WithCollections(catalog.ItemsPath, catalog.UsersPath),
	}
	if s.bus != nil {
		opts = append(opts, docstore.WithBus(s.bus))
	}
	pg := docstore.NewPostgres(s.db, opts...)

	listenCtx, cancel := context.WithCancel(context.Background())
	s.stopListen = cancel
	go func() {
		if err := pg.Listen(listenCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("change listener stopped", zap.Error(err))
		}
	}()
	return pg
}

func (s *Server) openSessions(ctx context.Context, cfg config.Config) (auth.SessionStore, error) {
	if cfg.Auth.SessionBackend != config.BackendRedis {
		return auth.NewMemorySessions(), nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	s.rdb = rdb
	return auth.NewRedisSessions(rdb), nil
}

// NewImageHost builds the upload target selected by cfg.Backend.
func NewImageHost(ctx context.Context, cfg config.StorageConfig) (upload.Host, error) {
	var backend storage.ObjectStorage
	switch cfg.Backend {
	case config.BackendHTTP:
		return upload.NewHTTPHost(cfg.HTTP, &http.Client{Timeout: cfg.HTTP.Timeout}), nil
	case config.BackendMinio:
		client, err := storage.NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, fmt.Errorf("minio: %w", err)
		}
		backend = client
	case config.BackendGCS:
		client, err := storage.NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return nil, fmt.Errorf("gcs: %w", err)
		}
		backend = client
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	st := storage.NewStorage(backend)
	if err := st.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	return upload.NewObjectHost(st, cfg.PublicBaseURL), nil
}

// requestLogger logs one line per request through zap.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, disconnects live clients and releases
// every backend.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.live.Close()
	s.closeBackends()
	return err
}

func (s *Server) closeBackends() {
	if s.registry != nil {
		s.registry.Close()
	}
	if s.catalog != nil {
		s.catalog.Close()
	}
	if s.stopListen != nil {
		s.stopListen()
	}
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			s.logger.Warn("close mq failed", zap.Error(err))
		}
	}
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}
