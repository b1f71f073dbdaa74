package rpc

import (
	"log/slog"
	"net"

	"github.com/google/uuid"
)

// Conn wraps an authenticated network connection with the per-connection
// fields a handler needs: a stable id for correlating log lines across the
// lifetime of the connection (spec.md §4.E, "Connection correlation"), and
// the daemon's logger pre-bound with that id.
type Conn struct {
	net.Conn
	ID  string
	Log *slog.Logger
}

// Accept authenticates one connection off listener and returns a Conn ready
// for the dispatcher to read requests from, or an error if the handshake
// failed — in which case the connection has already been closed, per
// spec.md §4.E step 3 ("closes the connection with no response").
func Accept(listener net.Listener, secret []byte, log *slog.Logger) (*Conn, error) {
	raw, err := listener.Accept()
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	connLog := log.With(slog.String("conn_id", id))

	if err := ServerHandshake(raw, secret); err != nil {
		connLog.Warn("rpc: handshake rejected", "error", err)
		raw.Close()
		return nil, err
	}

	return &Conn{Conn: raw, ID: id, Log: connLog}, nil
}
