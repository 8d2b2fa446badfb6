package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/azkastekom/massweb/internal/config"
	"github.com/azkastekom/massweb/internal/render"
	"github.com/azkastekom/massweb/internal/service"
	"github.com/azkastekom/massweb/internal/service/publisher"
	"github.com/azkastekom/massweb/internal/storage"
)

type Server struct {
	Config   *config.Config
	DB       *gorm.DB
	Router   *gin.Engine
	Logger   *zap.Logger
	Server   *http.Server
	Store    storage.Store
	Bus      service.Bus
	Registry *prometheus.Registry

	// Services
	Projects    *service.ProjectService
	Datasets    *service.DatasetService
	Contents    *service.ContentService
	Generator   *service.GeneratorService
	Jobs        *service.PublishJobService
	Exports     *service.ExportService
	Monitoring  *service.MonitoringService
	Metrics     *service.Metrics
	Scheduler   *service.Scheduler
	Housekeeper *service.Housekeeper
}

// Dependencies are the external resources a Server is assembled from
type Dependencies struct {
	DB         *gorm.DB
	Store      storage.Store
	Bus        service.Bus
	Registry   *prometheus.Registry
	Publishers *publisher.Manager
}

// NewServer connects to the configured database, blob store and signal bus
// and assembles the server on top of them
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	ctx := context.Background()

	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var bus service.Bus = service.NewMemoryBus()
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		redisBus, err := service.NewRedisBus(ctx, client, cfg.Redis.Channel, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis bus: %w", err)
		}
		bus = redisBus
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	publishers, err := service.NewPublisherManager(&cfg.Publisher, logger)
	if err != nil {
		return nil, err
	}

	return New(cfg, logger, Dependencies{
		DB:         db,
		Store:      store,
		Bus:        bus,
		Registry:   registry,
		Publishers: publishers,
	})
}

// New wires services, middleware and routes over the given dependencies
func New(cfg *config.Config, logger *zap.Logger, deps Dependencies) (*Server, error) {
	gin.SetMode(cfg.Server.Mode)

	leaseTimeout, err := time.ParseDuration(cfg.Scheduler.LeaseTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid lease timeout %q: %w", cfg.Scheduler.LeaseTimeout, err)
	}

	if deps.Bus == nil {
		deps.Bus = service.NewMemoryBus()
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}
	if deps.Publishers == nil {
		deps.Publishers = publisher.NewPublishManager(logger)
	}

	renderer := render.NewHandlebarsRenderer()
	metrics := service.NewMetrics(deps.Registry)
	monitoring := service.NewMonitoringService(deps.DB, logger)
	contents := service.NewContentService(deps.DB, logger)
	datasets := service.NewDatasetService(deps.DB, logger, deps.Store)
	jobs := service.NewPublishJobService(deps.DB, logger, contents, deps.Publishers, monitoring, metrics, deps.Bus, leaseTimeout)

	router := gin.New()
	router.MaxMultipartMemory = cfg.Server.MaxUploadSize

	srv := &Server{
		Config:      cfg,
		DB:          deps.DB,
		Router:      router,
		Logger:      logger,
		Store:       deps.Store,
		Bus:         deps.Bus,
		Registry:    deps.Registry,
		Projects:    service.NewProjectService(deps.DB, logger, renderer, deps.Store),
		Datasets:    datasets,
		Contents:    contents,
		Generator:   service.NewGeneratorService(deps.DB, logger, &cfg.Generator, renderer, datasets, contents, metrics),
		Jobs:        jobs,
		Exports:     service.NewExportService(logger, contents, deps.Store),
		Monitoring:  monitoring,
		Metrics:     metrics,
		Scheduler:   service.NewScheduler(&cfg.Scheduler, logger, jobs),
		Housekeeper: service.NewHousekeeper(monitoring, metrics, logger, cfg.Scheduler.CleanupSchedule, cfg.Scheduler.RetentionDays),
	}

	srv.setupMiddleware()
	srv.setupRoutes()

	return srv, nil
}

func (s *Server) Start(ctx context.Context) error {
	if err := s.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	if err := s.Housekeeper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start housekeeper: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)

	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		return s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	}

	return s.Server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	// Stop the scheduler first so the job in flight hands back its lease
	s.Scheduler.Stop()
	s.Housekeeper.Stop()

	if err := s.Bus.Close(); err != nil {
		s.Logger.Warn("Failed to close signal bus", zap.Error(err))
	}

	if s.Server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return s.Server.Shutdown(shutdownCtx)
}
