package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSource struct{}

func (failingSource) Name() string { return "failing" }
func (failingSource) Peers(context.Context) ([]string, error) {
	return nil, errors.New("nameserver unreachable")
}

func TestStatic_Peers(t *testing.T) {
	s := NewStatic("10.0.0.2:7780", " ", "", " 10.0.0.3:7780 ")

	peers, err := s.Peers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.2:7780", "10.0.0.3:7780"}, peers)
	assert.Equal(t, "static", s.Name())

	// Returned slice is a copy
	peers[0] = "mutated"
	again, _ := s.Peers(context.Background())
	assert.Equal(t, "10.0.0.2:7780", again[0])
}

func TestCollect(t *testing.T) {
	sources := []Source{
		NewStatic("10.0.0.3:7780", "10.0.0.2:7780"),
		failingSource{},
		NewStatic("10.0.0.2:7780", "10.0.0.4:7780"),
	}

	got := Collect(context.Background(), sources, zerolog.Nop())
	assert.Equal(t, []string{"10.0.0.2:7780", "10.0.0.3:7780", "10.0.0.4:7780"}, got)
}

func TestCollect_NoSources(t *testing.T) {
	got := Collect(context.Background(), nil, zerolog.Nop())
	assert.Empty(t, got)
}
