package pipeline

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/ledgerwatch/log/v3"
	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/archive-node/internal/chain"
	"github.com/gateway-fm/archive-node/internal/chaindb"
	"github.com/gateway-fm/archive-node/internal/config"
	"github.com/gateway-fm/archive-node/internal/decoder"
	"github.com/gateway-fm/archive-node/internal/ledgerview"
	"github.com/gateway-fm/archive-node/internal/listener"
	"github.com/gateway-fm/archive-node/internal/pipeline/blocking"
	"github.com/gateway-fm/archive-node/internal/pipeline/decodestage"
	"github.com/gateway-fm/archive-node/internal/pipeline/gapgen"
	"github.com/gateway-fm/archive-node/internal/pipeline/metastage"
	"github.com/gateway-fm/archive-node/internal/pipeline/persiststage"
	"github.com/gateway-fm/archive-node/internal/scheduler"
)

// Supervisor owns every stage's worker group, the change listener and
// the scheduler routing messages between them. It replaces the
// original's Bastion supervisor tree with an errgroup.Group: every
// child runs under one cancellable context, and the first child to
// return an error cancels the rest, per spec.md section 5's
// fail-the-group-on-first-error rule.
type Supervisor struct {
	Config  config.Config
	View    *ledgerview.View
	Store   *chaindb.Gateway
	Decoder decoder.CallDecoder
	PgURL   string
	Logger  log.Logger
}

// Run wires and starts every stage, blocking until ctx is cancelled or
// a child stage fails. It always returns a non-nil error: ctx.Err() on
// a clean shutdown, or the first child failure otherwise.
func (sup *Supervisor) Run(ctx context.Context) error {
	sched := scheduler.New(scheduler.RoundRobin)
	pool := blocking.New(sup.Config.BlockingPoolSize)

	persistWorkers := NewGroup(sup.Config.PersistReplicas, persiststage.New(sup.Store, sup.Logger).Handle)
	sched.Register("persist", persistWorkers)

	decodeWorkers := NewGroupFrom(sup.Config.DecodeReplicas, func(int) handleFunc {
		return decodestage.New(sup.Decoder, sched, sup.Logger).Handle
	})
	sched.Register("decode", decodeWorkers)

	metaWorkers := NewGroup(sup.Config.MetaReplicas, metastage.New(sup.Store, sched, sup.Logger).Handle)
	sched.Register("meta", metaWorkers)

	sup.logWorkerIDs("persist", persistWorkers)
	sup.logWorkerIDs("decode", decodeWorkers)
	sup.logWorkerIDs("meta", metaWorkers)

	gen := gapgen.New(sup.Store, sup.View, pool, sched, sup.Logger, sup.Config.DecodeReplicas)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return gen.Run(gctx) })
	g.Go(func() error { return sup.runListener(gctx) })

	err := g.Wait()
	stopAll(persistWorkers)
	stopAll(decodeWorkers)
	stopAll(metaWorkers)
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (sup *Supervisor) runListener(ctx context.Context) error {
	l, err := listener.NewBuilder(sup.PgURL, sup.Logger).
		ListenOn(listener.Blocks).
		OnEvent(func(_ context.Context, _ *pgx.Conn, event chain.ChannelEvent) error {
			sup.Logger.Debug("change listener: received event", "table", event.Table, "action", event.Action)
			return nil
		}).
		OnDisconnect(func() {
			sup.Logger.Warn("change listener: subscription transport disconnected")
		}).
		Spawn(ctx)
	if err != nil {
		return err
	}
	<-ctx.Done()
	l.Close()
	return ctx.Err()
}

func (sup *Supervisor) logWorkerIDs(stage string, workers []scheduler.Worker) {
	for _, w := range workers {
		if sw, ok := w.(*StageWorker); ok {
			sup.Logger.Debug("spawned stage replica", "stage", stage, "worker_id", sw.ID())
		}
	}
}

func stopAll(workers []scheduler.Worker) {
	for _, w := range workers {
		if sw, ok := w.(*StageWorker); ok {
			sw.Stop()
		}
	}
}
