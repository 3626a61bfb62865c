package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/guestful/ironmq/internal/dlq"
	"github.com/guestful/ironmq/internal/webhook"
	"github.com/guestful/ironmq/pkg/ironmq"
	"github.com/guestful/ironmq/pkg/workpool"
)

// dryRunIdleDelay is the least idle delay of a disabled client. Its polls
// return at once with nothing, and each one is journaled.
const dryRunIdleDelay = time.Second

// consumeOptions are the flags of the consume command.
type consumeOptions struct {
	workers         int
	idleDelay       time.Duration
	limit           int64
	forward         string
	secret          string
	deadLetter      bool
	maxReservations int
}

func newConsumeCmd(a *app) *cobra.Command {
	var o consumeOptions
	cmd := &cobra.Command{
		Use:   "consume <queue>...",
		Short: "Run one poller per queue and print every consumed message",
		Long: `Run one poller per queue on a shared worker pool. Every reserved message is
printed as a JSON line and deleted once printed. The command runs until
SIGINT or SIGTERM, or until --limit messages have been consumed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("workers") {
				o.workers = a.cfg.Poller.Workers
			}
			if !cmd.Flags().Changed("idle-delay") {
				o.idleDelay = a.cfg.Poller.IdleDelay.Std()
			}
			if o.secret == "" {
				o.secret = os.Getenv("IRONMQ_WEBHOOK_SECRET")
			}
			return a.consume(cmd, args, o)
		},
	}
	cmd.Flags().IntVar(&o.workers, "workers", 4, "worker goroutines shared by the pollers (default from config)")
	cmd.Flags().DurationVar(&o.idleDelay, "idle-delay", 0, "pause after an empty poll (default from config)")
	cmd.Flags().Int64Var(&o.limit, "limit", 0, "stop after this many messages, 0 runs until interrupted")
	cmd.Flags().StringVar(&o.forward, "forward", "", "POST every message to this URL; only delivered messages are deleted")
	cmd.Flags().StringVar(&o.secret, "secret", "", "sign forwarded messages with HMAC-SHA256 (env IRONMQ_WEBHOOK_SECRET)")
	cmd.Flags().BoolVar(&o.deadLetter, "dead-letter", false, "move messages that keep failing to the error queue")
	cmd.Flags().IntVar(&o.maxReservations, "max-reservations", 3, "reservations before a failing message is dead-lettered")
	return cmd
}

func (a *app) consume(cmd *cobra.Command, names []string, o consumeOptions) error {
	// ── 1. Resolve the project and queues ─────────────────────────────────────
	p, release, err := a.connect()
	if err != nil {
		return err
	}
	defer release()

	if !a.cfg.Client.Enabled && o.idleDelay < dryRunIdleDelay {
		a.logger.Warn("client disabled, raising idle delay", "from", o.idleDelay, "to", dryRunIdleDelay)
		o.idleDelay = dryRunIdleDelay
	}

	queues := make([]*ironmq.Queue, 0, len(names))
	for _, name := range names {
		q, err := p.Queue(name)
		if err != nil {
			return err
		}
		queues = append(queues, q)
	}

	// Moves run to completion during shutdown.
	deadLetters := make(map[string]*dlq.Handler)
	if o.deadLetter {
		for _, q := range queues {
			target, err := p.Queue(dlq.Name(q.Name(), p.Settings()))
			if err != nil {
				return fmt.Errorf("error queue of %s: %w", q.Name(), err)
			}
			if target.Name() == q.Name() {
				return fmt.Errorf("error queue of %s: %w", q.Name(), dlq.ErrSameQueue)
			}
			deadLetters[q.Name()] = dlq.New(context.WithoutCancel(cmd.Context()), target,
				dlq.WithMaxReservations(o.maxReservations), dlq.WithLogger(a.logger))
		}
	}

	var fwd *webhook.Forwarder
	if o.forward != "" {
		if fwd, err = webhook.New(o.forward, webhook.WithSecret(o.secret)); err != nil {
			return err
		}
	}

	// ── 2. Start the worker pool ──────────────────────────────────────────────
	// The pool outlives the command context so that every submitted tick
	// runs and its poller can observe the cancellation.
	pool := workpool.New(o.workers, a.cfg.Poller.QueueSize, workpool.WithLogger(a.logger))
	if err := pool.Start(context.WithoutCancel(cmd.Context())); err != nil {
		return err
	}
	defer func() {
		if err := pool.Stop(5 * time.Second); err != nil {
			a.logger.Warn("worker pool stop", "err", err)
		}
	}()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	// ── 3. Start the metrics listener ─────────────────────────────────────────
	if a.cfg.Metrics.Enabled {
		a.serveMetrics(gctx, g)
	}

	// ── 4. Start one poller per queue ─────────────────────────────────────────
	var (
		stopAll  = make(chan struct{})
		stopOnce sync.Once
		outMu    sync.Mutex
		consumed atomic.Int64
		out      = cmd.OutOrStdout()
	)
	halt := func() { stopOnce.Do(func() { close(stopAll) }) }

	consumer := func(ctx context.Context, m *ironmq.Message) error {
		if fwd != nil {
			if err := fwd.Consume(ctx, m); err != nil {
				return err
			}
		}
		outMu.Lock()
		err := printMessage(out, m)
		outMu.Unlock()
		if err != nil {
			return err
		}
		if o.limit > 0 && consumed.Add(1) >= o.limit {
			halt()
		}
		return nil
	}

	var running sync.WaitGroup
	for _, q := range queues {
		popts := []ironmq.PollerOption{
			ironmq.WithIdleDelay(o.idleDelay),
			ironmq.WithPollerLogger(a.logger),
		}
		if h := deadLetters[q.Name()]; h != nil {
			popts = append(popts, ironmq.WithErrorHandler(h.Handle))
		}

		poller, err := q.AsyncPoll(gctx, pool, consumer, popts...)
		if err != nil {
			halt()
			cancel()
			_ = g.Wait()
			return fmt.Errorf("start poller on %s: %w", q.Name(), err)
		}
		a.logger.Info("consuming", "queue", q.Name(), "poller", poller.ID())

		running.Add(1)
		g.Go(func() error {
			defer running.Done()
			select {
			case <-poller.Done():
			case <-stopAll:
			case <-gctx.Done():
			}
			poller.Stop()
			<-poller.Done()
			if err := poller.Err(); err != nil && gctx.Err() == nil {
				return fmt.Errorf("poller on %s: %w", poller.Queue().Name(), err)
			}
			return nil
		})
	}

	// ── 5. Wait for the pollers, then release the listener ────────────────────
	g.Go(func() error {
		running.Wait()
		cancel()
		return nil
	})

	err = g.Wait()
	a.logger.Info("consume finished", "messages", consumed.Load())
	return err
}

// serveMetrics runs the Prometheus listener in g until ctx is done.
func (a *app) serveMetrics(ctx context.Context, g *errgroup.Group) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		a.logger.Info("metrics server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			a.logger.Warn("metrics server shutdown", "err", err)
		}
		return nil
	})
}
