package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gateway-fm/archive-node/internal/chain"
)

type echoWorker struct {
	name  string
	alive bool
}

func (w *echoWorker) Ask(_ context.Context, msg any) (any, error) { return w.name, nil }
func (w *echoWorker) Alive() bool                                 { return w.alive }

func TestAskNext_RoundRobinsAcrossWorkers(t *testing.T) {
	s := New(RoundRobin)
	a := &echoWorker{name: "a", alive: true}
	b := &echoWorker{name: "b", alive: true}
	s.Register("meta", []Worker{a, b})

	var order []string
	for i := 0; i < 4; i++ {
		r, err := s.AskNext(context.Background(), "meta", i)
		require.NoError(t, err)
		order = append(order, r.(string))
	}
	require.Equal(t, []string{"a", "b", "a", "b"}, order)
}

func TestAskNext_SkipsDeadWorkers(t *testing.T) {
	s := New(RoundRobin)
	dead := &echoWorker{name: "dead", alive: false}
	live := &echoWorker{name: "live", alive: true}
	s.Register("meta", []Worker{dead, live})

	r, err := s.AskNext(context.Background(), "meta", nil)
	require.NoError(t, err)
	require.Equal(t, "live", r)
}

func TestAskNext_NoWorkersRegistered(t *testing.T) {
	s := New(RoundRobin)
	_, err := s.AskNext(context.Background(), "meta", nil)
	require.ErrorIs(t, err, chain.ErrNoWorkers)
}

func TestAskNext_EmptyGroupAfterDeaths(t *testing.T) {
	s := New(RoundRobin)
	s.Register("meta", []Worker{&echoWorker{name: "dead", alive: false}})
	_, err := s.AskNext(context.Background(), "meta", nil)
	require.ErrorIs(t, err, chain.ErrNoWorkers)
}
