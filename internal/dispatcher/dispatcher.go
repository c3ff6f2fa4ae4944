// Package dispatcher accepts client CONNECTs over the server's named
// pipe and services each resulting session's SUBSCRIBE/UNSUBSCRIBE/
// DISCONNECT requests on its own goroutine.
//
// The accept-loop-plus-per-connection-goroutines shape generalizes
// the teacher's TCP accept loop and bounded worker pool: here
// "accept" means "read a CONNECT frame off the server FIFO" instead
// of "accept() a socket", and each resulting session runs its own
// read loop instead of a per-connection read/write pump.
package dispatcher

import (
	"bufio"
	"context"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"kvsd/internal/admission"
	"kvsd/internal/logging"
	"kvsd/internal/metrics"
	"kvsd/internal/session"
	"kvsd/internal/wire"
)

// Dispatcher owns the server's request FIFO and the session registry.
type Dispatcher struct {
	serverFifoPath string
	registry       *session.Registry
	connectLimiter *admission.ConnectLimiter
	logger         zerolog.Logger
	audit          *logging.Audit
	metrics        *metrics.Registry

	wg sync.WaitGroup
}

// New builds a Dispatcher bound to the given server FIFO path.
func New(serverFifoPath string, reg *session.Registry, limiter *admission.ConnectLimiter, logger zerolog.Logger, audit *logging.Audit, m *metrics.Registry) *Dispatcher {
	return &Dispatcher{
		serverFifoPath: serverFifoPath,
		registry:       reg,
		connectLimiter: limiter,
		logger:         logger,
		audit:          audit,
		metrics:        m,
	}
}

// Run creates the server FIFO and services CONNECT frames until ctx
// is cancelled. It returns once the accept loop has exited and every
// spawned session goroutine has returned.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := wire.CreateFifo(d.serverFifoPath); err != nil {
		return err
	}
	defer wire.RemoveFifo(d.serverFifoPath)

	for {
		if ctx.Err() != nil {
			d.wg.Wait()
			return nil
		}
		if err := d.acceptOne(ctx); err != nil {
			if ctx.Err() != nil {
				d.wg.Wait()
				return nil
			}
			d.logger.Warn().Err(err).Msg("dispatcher: accept failed, continuing")
			continue
		}
	}
}

// acceptOne opens the server FIFO for one CONNECT frame. A named pipe
// opened for reading blocks until a writer opens it and delivers EOF
// when that writer closes, so each CONNECT is its own open/read/close
// cycle — mirroring how the original server reopens its request pipe
// between clients.
func (d *Dispatcher) acceptOne(ctx context.Context) error {
	f, err := os.OpenFile(d.serverFifoPath, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	r := wire.NewRequestReader(f)
	opByte, err := r.ReadByte()
	if err != nil {
		return err
	}
	if wire.Opcode(opByte) != wire.OpConnect {
		d.logger.Warn().Int("opcode", int(opByte)).Msg("dispatcher: expected CONNECT opcode")
		return nil
	}

	payload := make([]byte, 3*(wire.MaxPipePathLength+1))
	if err := wire.ReadFull(r, payload); err != nil {
		return err
	}
	req, err := wire.DecodeConnect(payload)
	if err != nil {
		return err
	}

	if err := d.connectLimiter.Wait(ctx); err != nil {
		return err
	}

	d.wg.Add(1)
	go d.handleSession(ctx, req)
	return nil
}

// handleSession opens the three client-supplied pipes, registers a
// session, services SUBSCRIBE/UNSUBSCRIBE/DISCONNECT requests, and
// tears the session down (including the unsubscribe-all cascade) on
// exit, however it is triggered.
func (d *Dispatcher) handleSession(ctx context.Context, req wire.ConnectRequest) {
	defer d.wg.Done()
	defer logging.RecoverPanic(&d.logger, "dispatcher.handleSession")

	reqFile, err := os.OpenFile(req.ReqPath, os.O_RDONLY, 0)
	if err != nil {
		d.audit.Warning("connect_failed", "could not open client request pipe", map[string]any{"path": req.ReqPath, "error": err.Error()})
		return
	}
	defer reqFile.Close()

	respFile, err := os.OpenFile(req.RespPath, os.O_WRONLY, 0)
	if err != nil {
		d.audit.Warning("connect_failed", "could not open client response pipe", map[string]any{"path": req.RespPath, "error": err.Error()})
		return
	}
	defer respFile.Close()

	notifFile, err := os.OpenFile(req.NotifPath, os.O_WRONLY, 0)
	if err != nil {
		d.audit.Warning("connect_failed", "could not open client notification pipe", map[string]any{"path": req.NotifPath, "error": err.Error()})
		return
	}

	sess, err := d.registry.Acquire(req.ReqPath, notifFile)
	if err != nil {
		d.audit.Info("connect_rejected", "no free session slot", map[string]any{"path": req.ReqPath})
		writeResult(respFile, wire.ResultFail)
		notifFile.Close()
		return
	}
	sess.Activate()
	writeResult(respFile, wire.ResultOK)
	d.audit.Info("connect_accepted", "session established", map[string]any{"session_id": sess.SessionID()})

	defer d.registry.Release(sess)

	r := wire.NewRequestReader(reqFile)
	for {
		opByte, err := r.ReadByte()
		if err != nil {
			return
		}
		switch wire.Opcode(opByte) {
		case wire.OpSubscribe:
			d.serveKeyOp(r, respFile, sess, d.registry.Subscribe)
		case wire.OpUnsubscribe:
			d.serveKeyOp(r, respFile, sess, d.registry.Unsubscribe)
		case wire.OpDisconnect:
			writeResult(respFile, wire.ResultOK)
			return
		default:
			d.logger.Warn().Int("opcode", int(opByte)).Msg("dispatcher: unknown session opcode")
			return
		}
	}
}

type keyOpFunc func(*session.Session, string) error

func (d *Dispatcher) serveKeyOp(r *bufio.Reader, resp *os.File, sess *session.Session, op keyOpFunc) {
	buf := make([]byte, wire.MaxStringSize+1)
	if err := wire.ReadFull(r, buf); err != nil {
		return
	}
	key := wire.FixedString(buf)
	if err := op(sess, key); err != nil {
		writeResult(resp, wire.ResultFail)
		return
	}
	writeResult(resp, wire.ResultOK)
}

func writeResult(w *os.File, r wire.ResultByte) {
	_, _ = w.Write([]byte{byte(r)})
}
