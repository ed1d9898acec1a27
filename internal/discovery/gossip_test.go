package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tunnelmesh/aaarepl/testutil"
)

func newTestGossip(t *testing.T, advertise string, seeds []string) *Gossip {
	t.Helper()
	g, err := NewGossip(GossipConfig{
		Advertise: advertise,
		BindAddr:  "127.0.0.1:0",
		Seeds:     seeds,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func TestNewGossip_Validation(t *testing.T) {
	_, err := NewGossip(GossipConfig{BindAddr: "127.0.0.1:0"})
	assert.Error(t, err, "missing advertise address")

	_, err = NewGossip(GossipConfig{Advertise: "ctl-1:7780", BindAddr: "invalid"})
	assert.Error(t, err, "bind address without port")

	for _, adv := range []string{":7780", "0.0.0.0:7780", "ctl-1"} {
		_, err = NewGossip(GossipConfig{Advertise: adv, BindAddr: "127.0.0.1:0"})
		assert.Error(t, err, "advertise %q must be rejected", adv)
	}
}

func TestGossip_SingleNodeHasNoPeers(t *testing.T) {
	g := newTestGossip(t, "127.0.0.1:17780", nil)

	assert.Equal(t, "gossip", g.Name())
	assert.Equal(t, 1, g.NumMembers())

	peers, err := g.Peers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, peers)
}

func TestGossip_MembersDiscoverEachOther(t *testing.T) {
	g1 := newTestGossip(t, "127.0.0.1:17781", nil)
	g2 := newTestGossip(t, "127.0.0.1:17782", []string{g1.GossipAddr()})

	testutil.Eventually(t, 5*time.Second, func() bool {
		return g1.NumMembers() == 2 && g2.NumMembers() == 2
	}, "members did not converge")

	p1, err := g1.Peers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1:17782"}, p1)

	p2, err := g2.Peers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1:17781"}, p2)
}

func TestGossip_JoinEmptySeeds(t *testing.T) {
	g := newTestGossip(t, "127.0.0.1:17783", nil)
	assert.NoError(t, g.Join(nil))
}
