// Package daemon wires together every other internal package into the
// running process spec.md §5 describes: the Supervisor's tick loop and the
// RPC accept loop as two concurrent activities under one errgroup, so
// either's fatal error tears down the other (spec.md §4.E[FULL],
// "Accept-loop/tick concurrency").
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/hrygo/pueued/internal/config"
	"github.com/hrygo/pueued/internal/dispatcher"
	"github.com/hrygo/pueued/internal/metrics"
	"github.com/hrygo/pueued/internal/process"
	"github.com/hrygo/pueued/internal/rpc"
	"github.com/hrygo/pueued/internal/state"
	"github.com/hrygo/pueued/internal/streamer"
	"github.com/hrygo/pueued/internal/supervisor"
)

const inboxSize = 64

// Daemon owns the fully wired dependency graph: one State Store, one
// Supervisor, one Dispatcher, one RPC listener.
type Daemon struct {
	cfg    *config.Settings
	store  *state.Store
	sup    *supervisor.Supervisor
	disp   *dispatcher.Dispatcher
	secret []byte
	log    *slog.Logger
	metric *metrics.Registry
}

// New restores the state snapshot (or starts fresh), and wires the
// Supervisor, Dispatcher and metrics registry against it. cfg must already
// have passed Settings.Validate.
func New(cfg *config.Settings, log *slog.Logger) (*Daemon, error) {
	if log == nil {
		log = slog.Default()
	}

	store, err := state.Restore(cfg.StatePath(), cfg.StateGzip)
	if err != nil {
		return nil, err
	}

	secret, err := rpc.EnsureSecret(cfg.SharedSecretPath)
	if err != nil {
		return nil, err
	}

	reg := metrics.New()
	ctrl := process.NewController()
	sup := supervisor.New(store, ctrl, cfg, reg, log, inboxSize)
	disp := dispatcher.New(store, sup, cfg.LogDir)

	return &Daemon{
		cfg:    cfg,
		store:  store,
		sup:    sup,
		disp:   disp,
		secret: secret,
		log:    log,
		metric: reg,
	}, nil
}

// Run starts the Supervisor tick loop and the RPC accept loop and blocks
// until ctx is canceled or either activity returns a fatal error.
func (d *Daemon) Run(ctx context.Context) error {
	listener, err := rpc.Listen(d.cfg)
	if err != nil {
		return err
	}
	defer listener.Close()

	if d.cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, d.cfg.MetricsAddr, d.metric); err != nil {
				d.log.Warn("daemon: metrics server stopped", "error", err)
			}
		}()
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return d.sup.Run(groupCtx)
	})
	group.Go(func() error {
		return d.acceptLoop(groupCtx, listener)
	})

	err = group.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		// The caller asked for shutdown (e.g. a signal handler canceling
		// ctx); that is not a failure worth reporting to main.
		return nil
	}
	if code, ok := supervisor.ExitCode(err); ok && code == 0 {
		// A graceful Shutdown request also returns a non-nil sentinel from
		// the Supervisor, so its goroutine's return actually cancels
		// groupCtx and unblocks the accept loop (see supervisor.errExit).
		// Once both activities have unwound, a code-0 sentinel is a clean
		// exit, not a failure.
		return nil
	}
	return err
}

// acceptLoop accepts and authenticates one connection at a time, handing
// each off to its own goroutine, until ctx is canceled (which closes the
// listener first, per the standard accept-loop shutdown idiom).
func (d *Daemon) acceptLoop(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := rpc.Accept(listener, d.secret, d.log)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, rpc.ErrHandshakeFailed) {
				continue
			}
			var netErr net.Error
			if errors.As(err, &netErr) && !netErr.Timeout() {
				return err
			}
			continue
		}
		go d.handleConn(conn)
	}
}

// handleConn serves requests on one connection until the client disconnects
// or sends Shutdown. Requests on a single connection are handled one at a
// time, in order (spec.md §5, "Actions within a single connection are
// serialized").
func (d *Daemon) handleConn(conn *rpc.Conn) {
	defer conn.Close()

	for {
		var req rpc.Request
		if err := rpc.ReadFrame(conn, &req, conn.Log); err != nil {
			if err != rpc.ErrConnectionClosed {
				conn.Log.Warn("daemon: read request failed", "error", err)
			}
			return
		}

		if req.Kind == rpc.ReqStreamLog {
			d.handleStreamLog(conn, req)
			return
		}

		resp, after := d.disp.Handle(req)
		if err := rpc.WriteFrame(conn, resp); err != nil {
			conn.Log.Warn("daemon: write response failed", "error", err)
			return
		}
		if after != nil {
			after()
		}

		if req.Kind == rpc.ReqShutdown {
			return
		}
	}
}

// handleStreamLog serves the one long-lived request variant (spec.md §4.G):
// it owns the connection until the task finishes or the client disconnects.
func (d *Daemon) handleStreamLog(conn *rpc.Conn, req rpc.Request) {
	taskID := req.TaskID
	lines := req.LogLines
	streamer.Stream(d.store, d.cfg.LogDir, taskID, lines, func(r rpc.Response) error {
		return rpc.WriteFrame(conn, r)
	})
}
