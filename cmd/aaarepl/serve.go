package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tunnelmesh/aaarepl/internal/auth"
	"github.com/tunnelmesh/aaarepl/internal/cluster"
	"github.com/tunnelmesh/aaarepl/internal/config"
	"github.com/tunnelmesh/aaarepl/internal/control"
	"github.com/tunnelmesh/aaarepl/internal/discovery"
	"github.com/tunnelmesh/aaarepl/internal/logging/audit"
	"github.com/tunnelmesh/aaarepl/internal/metrics"
	"github.com/tunnelmesh/aaarepl/internal/peer/connection"
	"github.com/tunnelmesh/aaarepl/internal/replication"
	"github.com/tunnelmesh/aaarepl/internal/tracing"
)

const metricsCollectInterval = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run a replication node",
		Long: `Run a replication node until interrupted.

The node listens on the configured replication address, connects to the
configured and discovered peers and applies every change it receives to its
local AAA store.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("log-level") {
		applyConfigLogLevel(cfg.LogLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runNode(ctx, cfg)
}

func runServeFromService(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	applyConfigLogLevel(cfg.LogLevel)
	return runNode(ctx, cfg)
}

// loadConfig reads path, or uses defaults when path is empty.
func loadConfig(path string) (*config.NodeConfig, error) {
	var (
		cfg *config.NodeConfig
		err error
	)
	if path == "" {
		cfg, err = config.Parse(nil)
	} else {
		cfg, err = config.Load(path)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func runNode(ctx context.Context, cfg *config.NodeConfig) error {
	detach := attachLoki(cfg.Loki.URL, cfg.NodeName, cfg.Loki.Labels)
	defer detach()

	rt, err := startRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.shutdown()

	log.Info().
		Str("node", cfg.NodeName).
		Str("listen", rt.node.Addr().String()).
		Str("version", Version).
		Msg("replication node running")

	<-ctx.Done()
	log.Info().Msg("shutting down")
	return nil
}

// nodeRuntime is everything a serving node owns.
type nodeRuntime struct {
	node      *cluster.Node
	store     *auth.Store
	authz     *auth.Authorizer
	gossip    *discovery.Gossip
	zone      *discovery.Zone
	metricSrv *http.Server
	tracer    *tracing.Recorder
	control   *control.Server
	cancel    context.CancelFunc
}

func startRuntime(parent context.Context, cfg *config.NodeConfig) (*nodeRuntime, error) {
	ctx, cancel := context.WithCancel(parent)
	rt := &nodeRuntime{cancel: cancel}

	ok := false
	defer func() {
		if !ok {
			rt.shutdown()
		}
	}()

	logger := log.With().Str("node", cfg.NodeName).Logger()

	registry := replication.NewRegistry()
	if err := auth.RegisterTypes(registry); err != nil {
		return nil, fmt.Errorf("register types: %w", err)
	}

	auditLog := audit.NewLogger(logger)
	rt.store = auth.NewStore(auditLog, logger)
	rt.authz = auth.NewAuthorizer(rt.store, auditLog)

	ncfg, err := nodeConfig(cfg, registry, rt.store, logger)
	if err != nil {
		return nil, err
	}

	var m *metrics.ReplicationMetrics
	if cfg.Metrics.Enabled {
		m = metrics.InitMetrics(cfg.NodeName, cfg.Listen, Version)
		ncfg.Observers = append(ncfg.Observers, metrics.TransitionObserver(m))
	}

	if cfg.Discovery.Gossip.Bind != "" {
		rt.gossip, err = discovery.NewGossip(discovery.GossipConfig{
			Advertise: cfg.Advertise,
			BindAddr:  cfg.Discovery.Gossip.Bind,
			Seeds:     cfg.Discovery.Gossip.Seeds,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("start gossip: %w", err)
		}
		ncfg.Sources = append(ncfg.Sources, rt.gossip)
	}

	rt.node, err = cluster.NewNode(ncfg)
	if err != nil {
		return nil, err
	}
	if err := rt.node.Start(ctx); err != nil {
		return nil, err
	}
	rt.store.SetPublisher(rt.node)

	if cfg.Discovery.ZoneListen != "" {
		rt.zone, err = startZone(cfg)
		if err != nil {
			return nil, err
		}
	}

	// Without a redial loop the configured peers are dialed once.
	if ncfg.RedialInterval == 0 {
		dialPeers(ctx, rt.node, cfg.Peers, logger)
	}

	if cfg.ControlSocketEnabled() {
		srv := control.NewServer(cfg.ControlSocket, rt.node, cfg.NodeName, Version)
		srv.SetAuthorizer(rt.authz)
		if err := srv.Start(); err != nil {
			logger.Warn().Err(err).Str("socket", cfg.ControlSocket).Msg("control socket unavailable")
		} else {
			rt.control = srv
		}
	}

	if cfg.Tracing.Enabled {
		rt.tracer, err = tracing.Start(cfg.Tracing.BufferSize.Bytes())
		if err != nil {
			return nil, err
		}
	}

	if m != nil {
		collector := metrics.NewCollector(m, rt.node)
		go collector.Run(ctx, metricsCollectInterval)
		rt.metricSrv = startMetricsServer(cfg.Metrics.Listen, rt.tracer)
	}

	ok = true
	return rt, nil
}

func nodeConfig(cfg *config.NodeConfig, registry *replication.Registry, listener connection.Listener, logger zerolog.Logger) (cluster.Config, error) {
	backpressure, err := connection.ParseBackpressure(cfg.Backpressure)
	if err != nil {
		return cluster.Config{}, err
	}
	writeTimeout, err := config.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return cluster.Config{}, fmt.Errorf("write_timeout: %w", err)
	}
	dialTimeout, err := config.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return cluster.Config{}, fmt.Errorf("dial_timeout: %w", err)
	}

	ncfg := cluster.Config{
		ListenAddr:     cfg.Listen,
		Registry:       registry,
		Listener:       listener,
		QueueSize:      cfg.QueueSize,
		Backpressure:   backpressure,
		MaxFrameSize:   int(cfg.MaxFrameSize.Bytes()),
		WriteTimeout:   writeTimeout,
		DialTimeout:    dialTimeout,
		RedialInterval: cfg.EffectiveRedialInterval(),
		Logger:         logger,
	}

	if len(cfg.Peers) > 0 {
		ncfg.Sources = append(ncfg.Sources, discovery.NewStatic(cfg.Peers...))
	}
	if cfg.Discovery.SRVDomain != "" {
		timeout, err := config.ParseDuration(cfg.Discovery.Timeout)
		if err != nil {
			return cluster.Config{}, fmt.Errorf("discovery.timeout: %w", err)
		}
		srv, err := discovery.NewSRV(cfg.Discovery.SRVDomain, cfg.Discovery.Nameserver, timeout)
		if err != nil {
			return cluster.Config{}, fmt.Errorf("srv discovery: %w", err)
		}
		ncfg.Sources = append(ncfg.Sources, srv)
	}

	return ncfg, nil
}

func dialPeers(ctx context.Context, node *cluster.Node, peers []string, logger zerolog.Logger) {
	for _, addr := range peers {
		if _, err := node.Dial(ctx, addr); err != nil {
			logger.Warn().Err(err).Str("remote", addr).Msg("initial dial failed")
		}
	}
}

// startZone serves SRV records for this node and its static peers.
func startZone(cfg *config.NodeConfig) (*discovery.Zone, error) {
	zone := discovery.NewZone(cfg.Discovery.SRVDomain)

	if err := zone.Publish(zoneTarget(cfg.NodeName, cfg.Discovery.SRVDomain), cfg.Advertise); err != nil {
		return nil, fmt.Errorf("publish self: %w", err)
	}
	for i, addr := range cfg.Peers {
		target := zoneTarget(fmt.Sprintf("peer-%d", i+1), cfg.Discovery.SRVDomain)
		if err := zone.Publish(target, addr); err != nil {
			return nil, fmt.Errorf("publish peer %s: %w", addr, err)
		}
	}

	started := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- zone.ListenAndServe(cfg.Discovery.ZoneListen, func() { close(started) })
	}()

	select {
	case <-started:
		return zone, nil
	case err := <-errCh:
		return nil, fmt.Errorf("SRV responder on %s: %w", cfg.Discovery.ZoneListen, err)
	}
}

func zoneTarget(name, domain string) string {
	name = strings.ToLower(strings.ReplaceAll(name, ".", "-"))
	return name + "." + strings.TrimSuffix(domain, ".")
}

func startMetricsServer(addr string, tracer *tracing.Recorder) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if tracer.Enabled() {
		mux.Handle("/debug/trace", tracer.Handler())
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()

	return srv
}

func (rt *nodeRuntime) shutdown() {
	rt.cancel()

	if rt.control != nil {
		_ = rt.control.Stop()
	}
	if rt.metricSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = rt.metricSrv.Shutdown(ctx)
		cancel()
	}
	rt.tracer.Stop()
	if rt.zone != nil {
		_ = rt.zone.Shutdown()
	}
	if rt.node != nil {
		rt.node.Shutdown()
	}
	if rt.gossip != nil {
		if err := rt.gossip.Close(); err != nil {
			log.Debug().Err(err).Msg("gossip close")
		}
	}
}
