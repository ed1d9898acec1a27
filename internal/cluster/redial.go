package cluster

import (
	"context"
	"time"

	"github.com/tunnelmesh/aaarepl/internal/discovery"
)

// redialLoop periodically resolves the discovery sources and dials every
// address without a live connection. It runs once immediately.
func (n *Node) redialLoop(ctx context.Context) {
	defer n.wg.Done()

	ticker := time.NewTicker(n.cfg.RedialInterval)
	defer ticker.Stop()

	for {
		n.redialOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// redialOnce dials each discovered peer that is not already connected.
// An address is considered connected when an outbound link was dialed with
// it or some connection's resolved remote end matches it; inbound links from
// the same peer use an ephemeral port and do not match.
func (n *Node) redialOnce(ctx context.Context) {
	self := ""
	if addr := n.Addr(); addr != nil {
		self = addr.String()
	}

	for _, target := range discovery.Collect(ctx, n.cfg.Sources, n.logger) {
		if ctx.Err() != nil {
			return
		}
		if target == self || target == n.cfg.ListenAddr {
			continue
		}
		if n.conns.hasRemote(target) {
			continue
		}

		if _, err := n.Dial(ctx, target); err != nil {
			n.logger.Debug().Err(err).Str("remote", target).Msg("redial failed")
		}
	}
}
