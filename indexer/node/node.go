// Package node launches the indexer process and manages the lifecycle of all
// its associated services at runtime: per-chain pipelines, shared storage
// connections, sinks, and monitoring, gracefully closing them if the process
// ends.
package node

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/dexstream/indexer/async"
	"github.com/dexstream/indexer/cmd/indexer/flags"
	"github.com/dexstream/indexer/config/params"
	"github.com/dexstream/indexer/indexer/cache"
	"github.com/dexstream/indexer/indexer/db/mongo"
	"github.com/dexstream/indexer/indexer/parsers"
	"github.com/dexstream/indexer/indexer/pipeline"
	"github.com/dexstream/indexer/indexer/rpc"
	"github.com/dexstream/indexer/indexer/sinks"
	"github.com/dexstream/indexer/monitoring/prometheus"
	"github.com/dexstream/indexer/runtime"
	"github.com/dexstream/indexer/runtime/version"
)

var log = logrus.WithField("prefix", "node")

const statsLogInterval = 5 * time.Minute

// Indexer handles the lifecycle of the entire system and registers services
// to a service registry.
type Indexer struct {
	cliCtx   *cli.Context
	ctx      context.Context
	cancel   context.CancelFunc
	services *runtime.ServiceRegistry
	lock     sync.RWMutex
	stop     chan struct{} // Channel to wait for termination notifications.

	settings  *params.Settings
	db        *mongo.Store
	cache     *cache.Cache
	publisher *sinks.Publisher
	notifier  *sinks.Notifier
	clients   map[uint64]*rpc.Client
}

// New creates a new indexer instance, sets up configuration options, and
// registers every required service.
func New(cliCtx *cli.Context) (*Indexer, error) {
	settings := settingsFromCLI(cliCtx)

	chains, err := params.LoadChainDir(cliCtx.String(flags.ChainConfigDir.Name))
	if err != nil {
		return nil, err
	}
	for _, chain := range chains {
		if err := chain.Validate(parsers.Known); err != nil {
			return nil, err
		}
	}
	chains = selectChains(chains, cliCtx.Uint64Slice(flags.ChainIDs.Name))
	if len(chains) == 0 {
		return nil, errors.New("no chains selected, check --chain-id against the config directory")
	}

	ctx, cancel := context.WithCancel(cliCtx.Context)
	n := &Indexer{
		cliCtx:   cliCtx,
		ctx:      ctx,
		cancel:   cancel,
		services: runtime.NewServiceRegistry(),
		stop:     make(chan struct{}),
		settings: settings,
		clients:  make(map[uint64]*rpc.Client),
	}

	if err := n.startStorage(ctx, settings); err != nil {
		cancel()
		return nil, err
	}
	n.startSinks(ctx, settings)

	if cliCtx.Bool(flags.ResetProgress.Name) {
		if err := n.resetProgress(ctx, chains); err != nil {
			cancel()
			return nil, err
		}
	}

	started := 0
	for _, chain := range chains {
		if err := n.registerChain(ctx, chain); err != nil {
			log.WithError(err).WithField("chain_id", chain.ChainID).Error("Could not start chain, skipping")
			continue
		}
		started++
	}
	if started == 0 {
		cancel()
		return nil, errors.New("no chain could be started")
	}

	if err := n.registerMonitoring(); err != nil {
		cancel()
		return nil, err
	}
	return n, nil
}

// startStorage connects the shared MongoDB and Redis backends. Both are
// required; a failure here fails startup.
func (n *Indexer) startStorage(ctx context.Context, settings *params.Settings) error {
	store, err := mongo.NewStore(ctx, settings.MongoURI, settings.MongoDatabase)
	if err != nil {
		return errors.Wrap(err, "could not connect to MongoDB")
	}
	if err := store.EnsureIndexes(ctx); err != nil {
		return errors.Wrap(err, "could not ensure MongoDB indexes")
	}
	n.db = store

	c, err := cache.New(ctx, settings.RedisURL)
	if err != nil {
		return errors.Wrap(err, "could not connect to Redis")
	}
	n.cache = c
	return nil
}

// startSinks builds the outbound sinks. Both are best effort and never fail
// startup.
func (n *Indexer) startSinks(ctx context.Context, settings *params.Settings) {
	n.publisher = sinks.NewPublisher(ctx, settings)
	n.notifier = sinks.NewNotifier(settings)
	if n.notifier != nil {
		if err := n.notifier.HealthCheck(ctx); err != nil {
			log.WithError(err).Warn("Telegram bot token check failed, notifications may not deliver")
		}
	}
}

// resetProgress wipes the stored cursors of the selected chains so indexing
// restarts from the first-run window.
func (n *Indexer) resetProgress(ctx context.Context, chains []*params.ChainConfig) error {
	for _, chain := range chains {
		if err := n.db.DeleteChain(ctx, chain.ChainID); err != nil {
			return errors.Wrapf(err, "could not reset progress for chain %d", chain.ChainID)
		}
		log.WithField("chain_id", chain.ChainID).Info("Progress cursors reset")
	}
	return nil
}

// registerChain dials the chain's RPC endpoints and registers its pipeline
// service, plus the optional pool state refresher.
func (n *Indexer) registerChain(ctx context.Context, chain *params.ChainConfig) error {
	client := rpc.NewClient(chain, n.settings)
	if err := client.Connect(ctx); err != nil {
		return errors.Wrap(err, "could not connect RPC endpoints")
	}
	n.clients[chain.ChainID] = client

	cfg := &pipeline.Config{
		Chain:     chain,
		Settings:  n.settings,
		Client:    client,
		DB:        n.db,
		Dedup:     n.cache,
		Locks:     cacheLocks{n.cache},
		Registry:  parsers.NewRegistry(chain),
		Publisher: n.publisher,
	}
	if n.notifier != nil {
		cfg.Notifier = n.notifier
	}
	svc := pipeline.New(ctx, cfg)
	if err := n.services.RegisterService(fmt.Sprintf("indexer-%d", chain.ChainID), svc); err != nil {
		return err
	}

	if n.settings.EnablePoolRefresh {
		refresher := pipeline.NewRefresher(ctx, chain, client, n.db)
		if err := n.services.RegisterService(fmt.Sprintf("refresher-%d", chain.ChainID), refresher); err != nil {
			return err
		}
	}
	return nil
}

// registerMonitoring exposes /metrics, /healthz and /rpcstatz.
func (n *Indexer) registerMonitoring() error {
	svc := prometheus.NewService(n.settings.MonitoringAddr, n.services, func() interface{} {
		return n.RPCStats()
	})
	return n.services.RegisterService("monitoring", svc)
}

// RPCStats snapshots the endpoint statistics of every connected chain.
func (n *Indexer) RPCStats() map[uint64][]rpc.EndpointStats {
	out := make(map[uint64][]rpc.EndpointStats, len(n.clients))
	for id, client := range n.clients {
		out[id] = client.Stats()
	}
	return out
}

// Start the indexer and kick off every registered service.
func (n *Indexer) Start() {
	n.lock.Lock()
	log.WithField("version", version.GetVersion()).Info("Starting indexer")

	n.services.StartAll()

	async.RunImmediatelyThenEvery(n.ctx, statsLogInterval, n.logRPCStats)

	stop := n.stop
	n.lock.Unlock()

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)
		<-sigc
		log.Info("Got interrupt, shutting down...")
		go n.Close()
		<-sigc
		log.Warn("Shutdown already in progress, forcing exit; interrupt again for hard exit")
		go func() {
			// Give cancelled work a short grace window before the forced exit.
			time.Sleep(5 * time.Second)
			os.Exit(1)
		}()
		<-sigc
		os.Exit(2)
	}()

	// Wait for stop channel to be closed.
	<-stop
}

// logRPCStats emits a periodic per-endpoint health summary.
func (n *Indexer) logRPCStats() {
	for chainID, stats := range n.RPCStats() {
		for _, s := range stats {
			log.WithFields(logrus.Fields{
				"chain_id": chainID,
				"endpoint": s.URL,
				"requests": s.TotalRequests,
				"failures": s.TotalFailures,
				"healthy":  s.Healthy,
			}).Debug("RPC endpoint stats")
		}
	}
}

// Close handles graceful shutdown of the system.
func (n *Indexer) Close() {
	n.lock.Lock()
	defer n.lock.Unlock()

	log.Info("Stopping indexer")
	n.services.StopAll()
	if n.publisher != nil {
		if err := n.publisher.Close(); err != nil {
			log.WithError(err).Error("Failed to close Kafka publisher")
		}
	}
	for _, client := range n.clients {
		client.Close()
	}
	if err := n.cache.Close(); err != nil {
		log.WithError(err).Error("Failed to close Redis connection")
	}
	if err := n.db.Close(context.Background()); err != nil {
		log.WithError(err).Error("Failed to close database")
	}
	n.cancel()
	close(n.stop)
}

// cacheLocks adapts the Redis lock API to the pipeline's lock interface.
type cacheLocks struct {
	c *cache.Cache
}

func (l cacheLocks) AcquireLock(ctx context.Context, key string, ttl time.Duration) (pipeline.StreamLock, error) {
	lock, err := l.c.AcquireLock(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	return lock, nil
}
