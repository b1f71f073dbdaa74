package rpc

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/hrygo/pueued/internal/version"
)

// secretBytes is the amount of randomness generated for a new shared
// secret; base64-encoded this produces a comfortably long ASCII token.
const secretBytes = 32

// ErrHandshakeFailed is returned to a client that supplied the wrong shared
// secret; spec.md §4.E step 3 says the daemon then "closes the connection
// with no response", so the caller's only correct reaction is to hang up.
var ErrHandshakeFailed = errors.New("rpc: handshake failed")

// ReadSecret loads the shared-secret bytes from path, the same file both
// daemon and client consult (spec.md §6, "Handshake").
func ReadSecret(path string) ([]byte, error) {
	secret, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "rpc: read shared secret %q", path)
	}
	return secret, nil
}

// ServerHandshake performs the daemon side of spec.md §4.E's handshake: read
// the client's length-framed secret (capped at maxHandshakeSize), compare it
// against the expected secret, and on success reply with the daemon's
// version string. On mismatch the connection must be closed with no reply,
// so this returns ErrHandshakeFailed and leaves closing conn to the caller.
func ServerHandshake(conn io.ReadWriter, expectedSecret []byte) error {
	var header [headerSize]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		return errors.Wrap(err, "rpc: read handshake header")
	}
	size := binary.BigEndian.Uint64(header[:])
	if size > maxHandshakeSize {
		return errors.Errorf("rpc: handshake payload too large (%d bytes)", size)
	}

	got := make([]byte, size)
	if _, err := io.ReadFull(conn, got); err != nil {
		return errors.Wrap(err, "rpc: read handshake secret")
	}

	if !constantTimeEqual(got, expectedSecret) {
		return ErrHandshakeFailed
	}

	reply := []byte(version.String())
	var replyHeader [headerSize]byte
	binary.BigEndian.PutUint64(replyHeader[:], uint64(len(reply)))
	if _, err := conn.Write(replyHeader[:]); err != nil {
		return errors.Wrap(err, "rpc: write handshake reply header")
	}
	if _, err := conn.Write(reply); err != nil {
		return errors.Wrap(err, "rpc: write handshake reply")
	}
	return nil
}

// ClientHandshake performs the client side: send the secret, read back the
// daemon's version string.
func ClientHandshake(conn io.ReadWriter, secret []byte) (daemonVersion string, err error) {
	var header [headerSize]byte
	binary.BigEndian.PutUint64(header[:], uint64(len(secret)))
	if _, err := conn.Write(header[:]); err != nil {
		return "", errors.Wrap(err, "rpc: write handshake header")
	}
	if _, err := conn.Write(secret); err != nil {
		return "", errors.Wrap(err, "rpc: write handshake secret")
	}

	var replyHeader [headerSize]byte
	if _, err := io.ReadFull(conn, replyHeader[:]); err != nil {
		return "", errors.Wrap(ErrHandshakeFailed, "rpc: daemon closed connection during handshake")
	}
	size := binary.BigEndian.Uint64(replyHeader[:])
	if size > maxHandshakeSize {
		return "", errors.Errorf("rpc: handshake reply too large (%d bytes)", size)
	}
	reply := make([]byte, size)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return "", errors.Wrap(err, "rpc: read handshake reply")
	}
	return string(reply), nil
}

// EnsureSecret returns the shared secret at path, generating and persisting
// a fresh random one with owner-only permissions the first time the daemon
// runs there (spec.md §6, "Handshake" — silent on provisioning, so this
// follows the common daemon convention of generating on first start).
func EnsureSecret(path string) ([]byte, error) {
	existing, err := os.ReadFile(path)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrapf(err, "rpc: read shared secret %q", path)
	}

	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, errors.Wrap(err, "rpc: generate shared secret")
	}
	secret := []byte(base64.RawStdEncoding.EncodeToString(raw))
	if err := os.WriteFile(path, secret, 0o600); err != nil {
		return nil, errors.Wrapf(err, "rpc: write shared secret %q", path)
	}
	return secret, nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}


