package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/memberlist"
	"github.com/rs/zerolog"
)

// GossipConfig configures a Gossip source.
type GossipConfig struct {
	// Advertise is this node's replication address; it doubles as the
	// memberlist node name so every member learns it.
	Advertise string

	// BindAddr is the gossip listen address, e.g. ":7946". Port 0 picks a
	// random port.
	BindAddr string

	// Seeds are gossip addresses of existing members.
	Seeds []string

	Logger zerolog.Logger
}

// Gossip discovers peers through a memberlist cluster. Every node joins the
// gossip ring under its replication address; Peers returns the other members.
type Gossip struct {
	ml        *memberlist.Memberlist
	advertise string
	logger    zerolog.Logger
}

// NewGossip creates the memberlist instance and joins the seeds. Failing to
// reach the seeds is logged, not fatal: later members can still join us.
func NewGossip(cfg GossipConfig) (*Gossip, error) {
	if cfg.Advertise == "" {
		return nil, fmt.Errorf("gossip discovery: advertise address is required")
	}
	// Members are named by their advertise address; a bare port would give
	// every node the same name.
	if advHost, _, err := net.SplitHostPort(cfg.Advertise); err != nil || advHost == "" || isUnspecified(advHost) {
		return nil, fmt.Errorf("gossip discovery: advertise address %q must include a reachable host", cfg.Advertise)
	}

	host, port, err := net.SplitHostPort(cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid bind address %q: %w", cfg.BindAddr, err)
	}
	portNum, err := net.LookupPort("tcp", port)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q: %w", port, err)
	}
	if host == "" {
		host = "0.0.0.0"
	}

	logger := cfg.Logger.With().Str("component", "gossip").Logger()

	mlCfg := memberlist.DefaultLANConfig()
	mlCfg.Name = cfg.Advertise
	mlCfg.BindAddr = host
	mlCfg.BindPort = portNum
	mlCfg.AdvertisePort = portNum
	mlCfg.TCPTimeout = 10 * time.Second
	mlCfg.ProbeTimeout = 500 * time.Millisecond
	mlCfg.ProbeInterval = 1 * time.Second
	mlCfg.GossipInterval = 200 * time.Millisecond

	// memberlist logs through the standard logger; route it to zerolog.
	mlCfg.LogOutput = &logAdapter{logger: logger}

	ml, err := memberlist.Create(mlCfg)
	if err != nil {
		return nil, fmt.Errorf("create memberlist: %w", err)
	}

	g := &Gossip{ml: ml, advertise: cfg.Advertise, logger: logger}

	if len(cfg.Seeds) > 0 {
		if err := g.Join(cfg.Seeds); err != nil {
			logger.Warn().Err(err).Strs("seeds", cfg.Seeds).Msg("failed to join gossip seeds (will accept later joins)")
		}
	}

	return g, nil
}

// Join contacts seed nodes. It returns an error only if none could be reached.
func (g *Gossip) Join(seeds []string) error {
	if len(seeds) == 0 {
		return nil
	}

	joined, err := g.ml.Join(seeds)
	if err != nil {
		return fmt.Errorf("join cluster: %w", err)
	}
	if joined == 0 {
		return fmt.Errorf("failed to join any seed nodes")
	}

	g.logger.Info().Int("joined", joined).Int("total_seeds", len(seeds)).Msg("joined gossip cluster")
	return nil
}

// Name implements Source.
func (g *Gossip) Name() string { return "gossip" }

// Peers returns the replication addresses of all live members except this node.
func (g *Gossip) Peers(context.Context) ([]string, error) {
	members := g.ml.Members()
	addrs := make([]string, 0, len(members))
	for _, node := range members {
		if node.Name == "" || node.Name == g.advertise {
			continue
		}
		addrs = append(addrs, node.Name)
	}
	sort.Strings(addrs)
	return addrs, nil
}

// GossipAddr returns the address other members use to join this node.
func (g *Gossip) GossipAddr() string {
	return g.ml.LocalNode().Address()
}

// NumMembers returns the number of live members including this node.
func (g *Gossip) NumMembers() int {
	return g.ml.NumMembers()
}

// Close leaves the ring and stops the memberlist instance.
func (g *Gossip) Close() error {
	if err := g.ml.Leave(5 * time.Second); err != nil {
		g.logger.Debug().Err(err).Msg("leave gossip cluster")
	}
	if err := g.ml.Shutdown(); err != nil {
		return fmt.Errorf("shutdown memberlist: %w", err)
	}
	return nil
}

// logAdapter adapts memberlist's log output to zerolog.
type logAdapter struct {
	logger zerolog.Logger
}

func (l *logAdapter) Write(p []byte) (n int, err error) {
	l.logger.Debug().Str("source", "memberlist").Msg(strings.TrimSpace(string(p)))
	return len(p), nil
}

func isUnspecified(host string) bool {
	ip := net.ParseIP(host)
	return ip != nil && ip.IsUnspecified()
}
