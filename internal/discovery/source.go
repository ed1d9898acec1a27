// Package discovery finds the replication addresses of other cluster nodes.
// Sources are consulted periodically by the node's redial loop; a source
// never opens replication connections itself.
package discovery

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Source returns the replication addresses ("host:port") of known peers.
type Source interface {
	Name() string
	Peers(ctx context.Context) ([]string, error)
}

// Static is a fixed list of peer addresses, typically from configuration.
type Static struct {
	addrs []string
}

// NewStatic creates a Static source. Blank entries are ignored.
func NewStatic(addrs ...string) *Static {
	s := &Static{}
	for _, a := range addrs {
		if a = strings.TrimSpace(a); a != "" {
			s.addrs = append(s.addrs, a)
		}
	}
	return s
}

// Name implements Source.
func (s *Static) Name() string { return "static" }

// Peers implements Source.
func (s *Static) Peers(context.Context) ([]string, error) {
	out := make([]string, len(s.addrs))
	copy(out, s.addrs)
	return out, nil
}

// Collect queries every source and returns the de-duplicated union of their
// addresses in sorted order. A failing source is logged and skipped.
func Collect(ctx context.Context, sources []Source, logger zerolog.Logger) []string {
	seen := make(map[string]struct{})
	for _, src := range sources {
		addrs, err := src.Peers(ctx)
		if err != nil {
			logger.Warn().Err(err).Str("source", src.Name()).Msg("peer discovery failed")
			continue
		}
		for _, a := range addrs {
			seen[a] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
