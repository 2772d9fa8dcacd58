package node

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tri2820/backend/indexer/internal/config"
	"github.com/tri2820/backend/indexer/internal/dashboard"
	"github.com/tri2820/backend/indexer/internal/database"
	"github.com/tri2820/backend/indexer/internal/dispatch"
	"github.com/tri2820/backend/indexer/internal/logging"
	"github.com/tri2820/backend/indexer/internal/metrics"
	"github.com/tri2820/backend/indexer/internal/pool"
	"github.com/tri2820/backend/indexer/internal/workload"
	"github.com/tri2820/backend/indexer/internal/ws"
)

// Node represents a worker process: one connection to the dispatcher, the
// workload pool and the optional journal and dashboard around them.
type Node struct {
	cfg    *config.Config
	log    *zap.SugaredLogger
	source *config.Source
	pool   *pool.Pool
	db     *database.DB

	workCtx    context.Context
	cancelWork context.CancelFunc

	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	dashboard *dashboard.Dashboard
	lifecycle *ws.Lifecycle
}

// NewNode builds a worker from its configuration. envFiles are re-read on
// every connection attempt.
func NewNode(cfg *config.Config, envFiles []string, logger *zap.Logger) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	executor, err := workload.New(workload.Options{
		Name:       cfg.Workload.Name,
		Command:    cfg.Workload.Command,
		Args:       cfg.Workload.Args,
		ResultType: cfg.Workload.ResultType,
	})
	if err != nil {
		return nil, err
	}

	n := &Node{
		cfg: cfg,
		log: logging.Named(logger, "node"),
		source: &config.Source{
			Static:   cfg.WorkerConfig,
			EnvFiles: envFiles,
			Logger:   logging.Named(logger, "config"),
		},
		registry: prometheus.NewRegistry(),
	}

	if cfg.Database.Path != "" {
		db, err := database.NewDB(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("open task journal: %w", err)
		}
		n.db = db
	}

	n.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	n.metrics = metrics.New(n.registry, cfg.Worker.ID)
	n.dashboard = dashboard.NewDashboard(cfg.Worker.ID, cfg.Server.URL, logging.Named(logger, "dashboard"))
	n.dashboard.SetMetricsHandler(promhttp.HandlerFor(n.registry, promhttp.HandlerOpts{}))
	n.pool = pool.New(cfg.Pool.Size)
	n.workCtx, n.cancelWork = context.WithCancel(context.Background())

	dispatchObservers := []dispatch.Observer{n.metrics, n.dashboard}
	if n.db != nil {
		if stats, err := n.db.GetAggregateStats(); err != nil {
			n.log.Warnf("failed to load historical stats: %v", err)
		} else {
			n.dashboard.LoadHistoricalStats(stats)
			n.log.Infof("loaded historical stats: %d tasks, %d failed", stats.TotalTasks, stats.FailedTasks)
		}
		n.dashboard.SetTaskLogs(n.db)
		dispatchObservers = append(dispatchObservers, &journal{db: n.db, log: logging.Named(logger, "journal")})
	}

	loop := dispatch.New(dispatch.Options{
		Executor:    executor,
		Pool:        n.pool,
		WorkContext: n.workCtx,
		Observers:   dispatchObservers,
		Logger:      logging.Named(logger, "dispatch"),
	})

	opts := ws.Options{
		URL:             cfg.Server.URL,
		WorkerID:        cfg.Worker.ID,
		Backoff:         ws.NewBackoff(cfg.Backoff.Initial.Duration, cfg.Backoff.Max.Duration, cfg.Backoff.Jitter.Duration),
		RetryDelay:      cfg.Backoff.RetryDelay.Duration,
		MaxMessageBytes: cfg.Transport.MaxMessageBytes,
		PingPeriod:      cfg.Transport.PingPeriod.Duration,
		Observers:       []ws.Observer{n.metrics, n.dashboard},
		Logger:          logging.Named(logger, "ws"),
	}
	if cfg.HandshakeEnabled() {
		opts.Config = n.source
	}
	n.lifecycle = ws.NewLifecycle(opts, loop)
	n.dashboard.SetReconnectFunc(n.lifecycle.Reconnect)
	return n, nil
}

// Run connects to the dispatcher and processes tasks until ctx is
// cancelled. Tasks still running when ctx ends see it cancelled too.
func (n *Node) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, n.cancelWork)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.lifecycle.Run(gctx)
	})
	if n.cfg.Dashboard.Enabled {
		g.Go(func() error {
			return n.dashboard.ServeHTTP(gctx, n.cfg.Dashboard.Address)
		})
	}

	n.log.Infof("worker %s started (workload=%s, pool=%d)", n.cfg.Worker.ID, n.cfg.Workload.Name, n.cfg.Pool.Size)
	return g.Wait()
}

// Reconnect drops the current connection and dials again without delay
func (n *Node) Reconnect() {
	n.lifecycle.Reconnect()
}

// State returns the connection state
func (n *Node) State() ws.State {
	return n.lifecycle.State()
}

// Stats returns the dashboard's view of the worker
func (n *Node) Stats() dashboard.Stats {
	return n.dashboard.GetStats()
}

// Close waits for running tasks and releases the journal
func (n *Node) Close() error {
	n.cancelWork()
	n.pool.Close()
	if n.db != nil {
		return n.db.Close()
	}
	return nil
}
