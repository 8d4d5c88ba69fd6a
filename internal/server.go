package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/IBM/pgxpoolprometheus"
	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/extra/redisotel/v8"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.uber.org/multierr"

	"github.com/2beens/postboard/internal/auth"
	"github.com/2beens/postboard/internal/blobstore"
	"github.com/2beens/postboard/internal/config"
	"github.com/2beens/postboard/internal/db"
	"github.com/2beens/postboard/internal/middleware"
	"github.com/2beens/postboard/internal/misc"
	"github.com/2beens/postboard/internal/posts"
	"github.com/2beens/postboard/internal/posts/mongostore"
	"github.com/2beens/postboard/internal/telemetry/metrics"
	"github.com/2beens/postboard/internal/telemetry/tracing"
)

const sessionsCleanupInterval = 8 * time.Hour

// blobBackend is what the posts need to store images and the images route needs to serve them.
type blobBackend interface {
	blobstore.Store
	blobstore.Opener
}

type Server struct {
	httpServer        *http.Server
	metricsHttpServer *http.Server
	versionInfo       string

	config      *config.Config
	dbPool      *pgxpool.Pool
	mongoClient *mongo.Client
	redisClient *redis.Client

	authService     *auth.Service
	identityChecker auth.IdentityChecker
	rateLimiter     middleware.RequestRateLimiter

	postsService *posts.Service
	cleaner      *posts.Cleaner
	blobs        blobBackend

	// metrics
	metricsManager *metrics.Manager
	promRegistry   *prometheus.Registry
	otelShutdown   func()
}

type NewServerParams struct {
	Config                  *config.Config
	VersionInfo             string
	RedisPassword           string
	PostgresPassword        string
	HoneycombTracingEnabled bool
	GDriveCredentialsJSON   []byte
}

func NewServer(
	ctx context.Context,
	params NewServerParams,
) (_ *Server, err error) {
	cfg := params.Config

	dbPool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
		DBHost:         cfg.PostgresHost,
		DBPort:         cfg.PostgresPort,
		DBName:         cfg.PostgresDBName,
		DBPassword:     params.PostgresPassword,
		TracingEnabled: params.HoneycombTracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("new db pool: %w", err)
	}

	if err := dbPool.Ping(ctx); err != nil {
		log.Warnf("failed to ping db: %s", err)
	}

	pgxpoolCollector := pgxpoolprometheus.NewCollector(
		dbPool,
		map[string]string{"db_name": cfg.PostgresDBName},
	)
	promRegistry := metrics.SetupPrometheus(metrics.RegistryParams{
		Namespace:  "postboard",
		Version:    params.VersionInfo,
		Collectors: []prometheus.Collector{pgxpoolCollector},
	})
	metricsManager := metrics.NewManager("postboard", "main", promRegistry)
	metricsManager.GaugeLifeSignal.Set(0)

	rdb := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.RedisHost, cfg.RedisPort),
		Password: params.RedisPassword,
		DB:       0, // use default DB
	})
	if params.HoneycombTracingEnabled {
		rdb.AddHook(redisotel.NewTracingHook())
	}
	defer func() {
		if err != nil {
			closeClients(dbPool, rdb)
		}
	}()

	rdbStatus := rdb.Ping(ctx)
	if err := rdbStatus.Err(); err != nil {
		log.Errorf("--> failed to ping redis: %s", err)
	} else {
		log.Debugf("redis ping: %s", rdbStatus.Val())
	}

	// use honeycomb distro to setup OpenTelemetry SDK
	otelShutdown, err := tracing.HoneycombSetup(params.HoneycombTracingEnabled, "postboard-backend")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			otelShutdown()
		}
	}()

	s := &Server{
		config:      cfg,
		dbPool:      dbPool,
		redisClient: rdb,
		versionInfo: params.VersionInfo,

		authService:     auth.NewAuthService(auth.NewUserRepo(dbPool), cfg.SessionTTL.Duration, rdb),
		identityChecker: auth.NewLoginChecker(cfg.SessionTTL.Duration, rdb),
		rateLimiter:     redis_rate.NewLimiter(rdb),

		// telemetry
		metricsManager: metricsManager,
		promRegistry:   promRegistry,
		otelShutdown:   otelShutdown,
	}

	defer func() {
		if err != nil && s.mongoClient != nil {
			if err := s.mongoClient.Disconnect(context.WithoutCancel(ctx)); err != nil {
				log.Errorf("disconnect mongo: %s", err)
			}
		}
	}()

	records, err := s.newRecordStore(ctx)
	if err != nil {
		return nil, err
	}

	s.blobs, err = newBlobBackend(ctx, cfg, params.GDriveCredentialsJSON)
	if err != nil {
		return nil, err
	}

	s.cleaner = posts.NewCleaner(s.blobs, metricsManager, 0)
	s.postsService = posts.NewService(posts.ServiceParams{
		Records:        records,
		Blobs:          s.blobs,
		Idempotency:    posts.NewRedisIdempotencyStore(rdb, posts.DefaultIdempotencyTTL),
		Cleaner:        s.cleaner,
		MetricsManager: metricsManager,
		MaxImageSize:   cfg.MaxImageSizeBytes,
	})

	return s, nil
}

// closeClients releases the clients a failed NewServer already opened.
func closeClients(dbPool *pgxpool.Pool, rdb *redis.Client) {
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.Errorf("close redis client: %s", err)
		}
	}
	if dbPool != nil {
		dbPool.Close()
	}
}

func (s *Server) newRecordStore(ctx context.Context) (posts.RecordStore, error) {
	switch s.config.RecordStore {
	case config.RecordStoreMongo:
		repo, client, err := mongostore.Connect(ctx, s.config.MongoURL, s.config.MongoDBName)
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		s.mongoClient = client
		log.Debugf("record store: mongo [%s]", s.config.MongoDBName)
		return repo, nil
	default:
		log.Debugf("record store: postgres [%s]", s.config.PostgresDBName)
		return posts.NewRepo(s.dbPool), nil
	}
}

func newBlobBackend(ctx context.Context, cfg *config.Config, gdriveCredentials []byte) (blobBackend, error) {
	switch cfg.BlobStore {
	case config.BlobStoreGDrive:
		if len(gdriveCredentials) == 0 {
			return nil, errors.New("gdrive blob store needs credentials")
		}
		driveStore, err := blobstore.NewDriveStore(ctx, gdriveCredentials, cfg.GDriveFolderName, cfg.BlobPublicBaseURL)
		if err != nil {
			return nil, fmt.Errorf("new drive store: %w", err)
		}
		log.Debugf("blob store: google drive folder [%s]", cfg.GDriveFolderName)
		return driveStore, nil
	default:
		diskStore, err := blobstore.NewDiskStore(cfg.BlobRootPath, cfg.BlobPublicBaseURL)
		if err != nil {
			return nil, fmt.Errorf("new disk store: %w", err)
		}
		log.Debugf("blob store: disk [%s]", cfg.BlobRootPath)
		return diskStore, nil
	}
}

func (s *Server) routerSetup() *mux.Router {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("postboard-router"))

	misc.NewHandler(s.versionInfo).SetupRoutes(r)

	// rate limit register and login to slow down credential stuffing
	authHandler := auth.NewHandler(s.authService, s.metricsManager)
	authHandler.SetupRoutes(r, middleware.RateLimit(
		s.rateLimiter,
		"auth",
		s.config.LoginRateLimitAllowedPerMin,
		s.metricsManager,
	))

	posts.NewHandler(s.postsService).SetupRoutes(r)
	blobstore.NewHandler(s.blobs).SetupRoutes(r)

	// all the rest - unhandled paths
	r.HandleFunc("/{unknown}", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}).Methods("GET", "POST", "PUT", "DELETE", "OPTIONS").Name("unknown")

	authMiddleware := middleware.NewAuthMiddlewareHandler(s.identityChecker)

	r.Use(middleware.PanicRecovery(s.metricsManager))
	r.Use(middleware.LogRequest())
	r.Use(middleware.RequestMetrics(s.metricsManager))
	r.Use(middleware.Cors(s.config.AllowedOrigins...))
	r.Use(authMiddleware.AuthCheck())
	r.Use(middleware.DrainAndCloseRequest(middleware.DefaultMaxDrain))

	return r
}

func (s *Server) Serve(ctx context.Context, host string, port int) {
	router := s.routerSetup()

	s.cleaner.Start(s.config.ImageCleanupWorkers)

	ipAndPort := net.JoinHostPort(host, strconv.Itoa(port))
	s.httpServer = &http.Server{
		Handler:      router,
		Addr:         ipAndPort,
		WriteTimeout: time.Minute,
		ReadTimeout:  time.Minute,
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.InstrumentMetricHandler(
		s.promRegistry,
		promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}),
	))
	metricsAddr := net.JoinHostPort(s.config.PrometheusMetricsHost, s.config.PrometheusMetricsPort)
	s.metricsHttpServer = &http.Server{
		Addr:    metricsAddr,
		Handler: metricsRouter,
	}

	go func() {
		log.Infof(" > server listening on: [%s]", ipAndPort)
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("main service, listen and serve: %s", err)
		}
	}()

	go func() {
		log.Debugf(" > metrics listening on: [%s]", metricsAddr)
		err := s.metricsHttpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics service, listen and serve: %s", err)
		}
	}()

	go s.cleanSessionsPeriodically(ctx, sessionsCleanupInterval)
	go reportImageErrors(s.cleaner.Errors())

	s.metricsManager.GaugeLifeSignal.Set(1)
}

func (s *Server) cleanSessionsPeriodically(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.authService.ScanAndClean(ctx)
		}
	}
}

// reportImageErrors drains the cleaner errors until the cleaner is stopped. Error level
// entries reach sentry through the logging hook.
func reportImageErrors(errs <-chan *posts.ImageError) int {
	reported := 0
	for imgErr := range errs {
		log.WithFields(log.Fields{
			"op":   imgErr.Op,
			"path": imgErr.Path,
		}).Errorf("orphaned image blob: %s", imgErr.Err)
		reported++
	}
	return reported
}

func (s *Server) GracefulShutdown() error {
	log.Debug("graceful shutdown initiated ...")
	s.metricsManager.GaugeLifeSignal.Set(0)

	maxWaitDuration := time.Second * 15
	ctx, timeoutCancel := context.WithTimeout(context.Background(), maxWaitDuration)
	defer timeoutCancel()

	var errs error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("shutdown http server: %w", err))
		}
		log.Warnln("server shut down")
	}

	if s.metricsHttpServer != nil {
		if err := s.metricsHttpServer.Shutdown(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("shutdown metrics server: %w", err))
		}
		log.Warnln("metrics server shut down")
	}

	// no requests left, so no new cleanup jobs either
	if s.cleaner != nil {
		s.cleaner.Stop()
		log.Debugln("image cleaner stopped")
	}

	if s.otelShutdown != nil {
		s.otelShutdown()
		log.Trace("otel shut down ...")
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close redis client: %w", err))
		}
	}

	if s.mongoClient != nil {
		if err := s.mongoClient.Disconnect(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("disconnect mongo: %w", err))
		}
	}

	if s.dbPool != nil {
		log.Debugln("closing db pool ...")
		s.dbPool.Close() // blocking operation
		log.Debugln("db pool closed")
	}

	if ok := sentry.Flush(5 * time.Second); ok {
		log.Debugf("sentry flush ok: %t", ok)
	}

	return errs
}
