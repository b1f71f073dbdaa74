package rpc

import (
	"crypto/tls"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/pueued/internal/config"
)

// probeTimeout bounds the "is another daemon already listening here" dial
// attempted before binding a Unix socket.
const probeTimeout = 200 * time.Millisecond

// Listen opens the daemon's accept socket according to cfg: a Unix-domain
// socket when cfg.UnixSocketPath is set, otherwise a TLS-wrapped TCP
// listener (spec.md §4.E, "Listener").
func Listen(cfg *config.Settings) (net.Listener, error) {
	if cfg.UnixSocketPath != "" {
		return listenUnix(cfg.UnixSocketPath, cfg.SocketPerm)
	}
	return listenTLS(cfg.Host, cfg.Port, cfg.TLSCert, cfg.TLSKey)
}

// listenUnix binds path, first checking whether a live daemon is already
// listening there; if the path exists but nothing answers, it is a stale
// socket file left behind by an unclean exit and is removed before
// rebinding.
func listenUnix(path string, perm os.FileMode) (net.Listener, error) {
	conn, dialErr := net.DialTimeout("unix", path, probeTimeout)
	if dialErr == nil {
		conn.Close()
		return nil, errors.Errorf("rpc: another daemon is already listening on %s", path)
	}

	if info, statErr := os.Lstat(path); statErr == nil {
		if info.Mode()&os.ModeSocket == 0 {
			return nil, errors.Errorf("rpc: %s exists and is not a socket", path)
		}
		if err := os.Remove(path); err != nil {
			return nil, errors.Wrapf(err, "rpc: remove stale socket %s", path)
		}
	} else if !os.IsNotExist(statErr) {
		return nil, errors.Wrapf(statErr, "rpc: stat socket path %s", path)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, errors.Wrapf(err, "rpc: listen on %s", path)
	}
	if err := os.Chmod(path, perm); err != nil {
		listener.Close()
		return nil, errors.Wrapf(err, "rpc: set permissions on %s", path)
	}
	return listener, nil
}

// listenTLS binds a TCP listener wrapped in a TLS acceptor loaded from
// certFile/keyFile. No client certificate is required or checked — the
// shared secret exchanged during the handshake is the sole authentication
// mechanism (spec.md §4.E, "only the daemon's own CA is trusted (no client
// certs)").
func listenTLS(host string, port int, certFile, keyFile string) (net.Listener, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, errors.Wrap(err, "rpc: load TLS certificate")
	}

	tcp, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrapf(err, "rpc: listen on %s:%d", host, port)
	}

	return tls.NewListener(tcp, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}), nil
}
