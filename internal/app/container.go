package app

import (
	"context"
	"log"
	"time"

	"casewatch/internal/changedetect"
	"casewatch/internal/config"
	"casewatch/internal/database"
	dbpostgres "casewatch/internal/database/postgres"
	"casewatch/internal/geo"
	"casewatch/internal/health"
	"casewatch/internal/infrastructure/cache"
	"casewatch/internal/metrics"
	"casewatch/internal/realtime"
	"casewatch/internal/scheduler"
	"casewatch/internal/source"
	"casewatch/internal/store"
)

// Container wires the pipeline graph: store, change detection, realtime
// hub, source manager, scheduler, health monitor. A store that is
// unreachable at startup does not abort construction; the component is
// recorded as degraded and the health monitor reports it while the rest of
// the system serves.
type Container struct {
	Config  config.Config
	Logger  *log.Logger
	DB      database.DB
	Cache   *cache.Redis
	Metrics *metrics.Metrics

	Cases    *store.CaseRepository
	Runs     *store.RunRepository
	Detector *changedetect.Service
	Geocoder *geo.HTTPGeocoder
	Backfill *geo.BackfillService
	Hub      *realtime.Hub
	Manager  *source.Manager
	Sched    *scheduler.Service
	Monitor  *health.Monitor
	Latency  *health.LatencyRecorder

	Degraded []string

	runCancel context.CancelFunc
}

func NewContainer(cfg config.Config, logger *log.Logger) (*Container, error) {
	if logger == nil {
		logger = log.Default()
	}

	c := &Container{Config: cfg, Logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := dbpostgres.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Printf("Store unavailable at startup | err=%v", err)
		c.Degraded = append(c.Degraded, "store")
	} else {
		c.DB = db
	}

	c.Cache = cache.NewRedis(logger)
	c.Metrics = metrics.New()
	c.Latency = health.NewLatencyRecorder(0)

	c.Cases = store.NewCaseRepository(c.DB)
	c.Runs = store.NewRunRepository(c.DB)
	c.Detector = changedetect.NewService(c.Cases, logger)

	c.Geocoder = geo.NewHTTPGeocoder(cfg.Pipeline.GeocoderURL, cfg.Pipeline.GeocoderTimeout)
	c.Backfill = geo.NewBackfillService(c.Cases, c.Geocoder, logger)

	c.Hub = realtime.NewHub(c.Cache, c.Metrics, logger, realtime.Options{
		HistoryWindow:  cfg.Realtime.HistoryWindow,
		ReplayWindow:   cfg.Realtime.ReplayWindow,
		ReplayLimit:    cfg.Realtime.ReplayLimit,
		IdleTimeout:    cfg.Realtime.IdleTimeout,
		SubscribeLimit: cfg.Realtime.SubscribeLimit,
	})

	c.Manager = source.NewManager(c.Detector, c.Hub, c.Runs, c.Metrics, logger, cfg.Pipeline.UnhealthyThreshold)

	defs, err := config.LoadSources(cfg.Pipeline.SourcesPath)
	if err != nil {
		return nil, err
	}
	if err := c.Manager.Initialize(defs); err != nil {
		return nil, err
	}

	c.Sched = scheduler.NewService(c.Manager, c.Backfill, logger, cfg.Pipeline.RestartCooldown)
	c.Sched.SetTriggerLock(c.Cache)

	c.Monitor = health.NewMonitor([]health.Check{
		health.FreshnessCheck{Runs: c.Runs},
		health.StoreCheck{Store: c.Cases},
		health.SuccessRateCheck{Runs: c.Runs},
		health.SourcesCheck{Sources: c.Manager},
		health.GeocodeCheck{Geocoder: c.Geocoder},
		health.MemoryCheck{},
		health.LatencyCheck{Recorder: c.Latency},
	}, health.LogAlerter{Logger: logger}, c.Metrics, logger)

	return c, nil
}

// Start launches the background loops: realtime hub, its maintenance
// sweeps, the per-source schedule, and the health cycle.
func (c *Container) Start() error {
	if c == nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.runCancel = cancel

	go c.Hub.Run(ctx)
	c.Hub.StartMaintenance(ctx)
	go c.Monitor.Run(ctx)

	return c.Sched.Start()
}

// Stop tears the pipeline down in order: stop accepting subscriptions,
// stop the schedule, then cancel the hub and monitor loops. HTTP shutdown
// is the caller's last step.
func (c *Container) Stop() {
	if c == nil {
		return
	}
	c.Hub.StopAccepting()
	c.Sched.Stop()
	if c.runCancel != nil {
		c.runCancel()
	}
}

func (c *Container) Close() error {
	if c == nil {
		return nil
	}
	if c.Cache != nil {
		_ = c.Cache.Close()
	}
	if c.DB == nil {
		return nil
	}
	return c.DB.Close()
}
