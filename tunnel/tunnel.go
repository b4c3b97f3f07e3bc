// Package tunnel presents the bidirectional byte-stream façade
// applications use once the handshake has completed: a Tunnel reads
// and writes application bytes as if the connection were a plain
// stream, while every byte in either direction is transformed by the
// session cipher pipeline underneath.
//
// A Tunnel is observable to callers only after Initiate or Respond
// returns successfully; any handshake failure tears down the
// partially constructed tunnel and releases its resources before the
// error escapes.
package tunnel

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/valyala/bytebufferpool"

	"github.com/gosuda/cryptotunnel/cipher"
	"github.com/gosuda/cryptotunnel/handshake"
	"github.com/gosuda/cryptotunnel/keys"
)

// paddingPool supplies the scratch buffer FlushWriter uses to build
// block padding. Buffers are wiped before being returned to the pool.
var paddingPool bytebufferpool.Pool

func acquirePadding(n int) *bytebufferpool.ByteBuffer {
	buf := paddingPool.Get()
	buf.B = buf.B[:0]
	for len(buf.B) < n {
		buf.B = append(buf.B, 0)
	}
	return buf
}

func releasePadding(buf *bytebufferpool.ByteBuffer) {
	for i := range buf.B {
		buf.B[i] = 0
	}
	paddingPool.Put(buf)
}

// Re-exported so callers can classify handshake failures with
// errors.Is without importing the handshake package directly.
var (
	ErrRemoteDoesNotHaveValidPublicKey = handshake.ErrRemoteDoesNotHaveValidPublicKey
	ErrRemoteFailedToVerifyItself      = handshake.ErrRemoteFailedToVerifyItself
)

// Tunnel is an authenticated, encrypted duplex channel bound to one
// underlying stream, one session key, and one remote identity.
//
// A Tunnel is not internally synchronized as a whole: concurrent calls
// from multiple goroutines on the *same* method are undefined.
// However one goroutine reading while a different goroutine writes is
// safe, since the read and write halves share no mutable state beyond
// their own independent cipher transform and byte counter.
type Tunnel struct {
	conn      io.ReadWriteCloser
	leaveOpen bool

	sessionKey *cipher.SessionKey
	encryptor  *cipher.Encryptor
	decryptor  *cipher.Decryptor
	remote     *keys.RemoteKey

	readBufSize int
	readLeft    []byte

	readMu  sync.Mutex
	writeMu sync.Mutex

	bytesRead    uint64
	bytesWritten uint64

	closeOnce sync.Once
	closeErr  error
}

// Initiate performs the initiator-role handshake over conn and, on
// success, returns a ready-to-use Tunnel. On any failure the partially
// constructed tunnel is destroyed: the session key material is
// discarded and conn is closed unless WithLeaveOpen(true) was given.
func Initiate(conn io.ReadWriteCloser, local *keys.LocalKey, acceptable []*keys.RemoteKey, opts ...Option) (*Tunnel, error) {
	s := newSettings(opts)
	applyLogLevel(s.cfg.LogLevel)

	clearDeadline := applyHandshakeDeadline(conn, s.cfg.HandshakeTimeout)
	defer clearDeadline()

	res, err := handshake.Initiate(conn, local, acceptable)
	if err != nil {
		teardown(conn, s.leaveOpen)
		return nil, err
	}
	return newTunnel(conn, res, s)
}

// Respond performs the responder-role handshake over conn and, on
// success, returns a ready-to-use Tunnel, mirroring Initiate.
func Respond(conn io.ReadWriteCloser, local *keys.LocalKey, acceptable []*keys.RemoteKey, opts ...Option) (*Tunnel, error) {
	s := newSettings(opts)
	applyLogLevel(s.cfg.LogLevel)

	clearDeadline := applyHandshakeDeadline(conn, s.cfg.HandshakeTimeout)
	defer clearDeadline()

	res, err := handshake.Respond(conn, local, acceptable)
	if err != nil {
		teardown(conn, s.leaveOpen)
		return nil, err
	}
	return newTunnel(conn, res, s)
}

func newTunnel(conn io.ReadWriteCloser, res *handshake.Result, s settings) (*Tunnel, error) {
	enc, err := cipher.NewEncryptor(res.SessionKey)
	if err != nil {
		teardown(conn, s.leaveOpen)
		return nil, fmt.Errorf("tunnel: install encryptor: %w", err)
	}
	dec, err := cipher.NewDecryptor(res.SessionKey)
	if err != nil {
		teardown(conn, s.leaveOpen)
		return nil, fmt.Errorf("tunnel: install decryptor: %w", err)
	}

	return &Tunnel{
		conn:        conn,
		leaveOpen:   s.leaveOpen,
		sessionKey:  res.SessionKey,
		encryptor:   enc,
		decryptor:   dec,
		remote:      res.Remote,
		readBufSize: s.cfg.ReadBufferSize,
	}, nil
}

func teardown(conn io.Closer, leaveOpen bool) {
	if !leaveOpen {
		_ = conn.Close()
	}
}

func applyLogLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "disabled":
		zerolog.SetGlobalLevel(zerolog.Disabled)
	}
}

func applyHandshakeDeadline(conn io.ReadWriteCloser, timeout time.Duration) (clear func()) {
	if timeout <= 0 {
		return func() {}
	}
	d, ok := conn.(interface{ SetDeadline(time.Time) error })
	if !ok {
		return func() {}
	}
	if err := d.SetDeadline(time.Now().Add(timeout)); err != nil {
		return func() {}
	}
	return func() { _ = d.SetDeadline(time.Time{}) }
}

// Read decrypts and returns application bytes. It blocks exactly as
// the underlying stream blocks. Each read from the stream takes up to
// ReadBufferSize bytes; decrypted bytes that do not fit in p are kept
// for the next Read, and a trailing partial cipher block is held back
// by the decryptor.
func (t *Tunnel) Read(p []byte) (int, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	if len(t.readLeft) == 0 {
		raw := make([]byte, t.readBufSize)
		for len(t.readLeft) == 0 {
			n, err := t.conn.Read(raw)
			if n > 0 {
				t.readLeft = append(t.readLeft, t.decryptor.Feed(raw[:n])...)
			}
			if err != nil {
				return 0, err
			}
		}
	}

	n := copy(p, t.readLeft)
	t.readLeft = t.readLeft[n:]
	t.bytesRead += uint64(n)
	return n, nil
}

// Write encrypts p and writes the resulting ciphertext to the
// underlying stream, updating BytesWritten by len(p) regardless of how
// much ciphertext the encryptor chose to emit this call (it may buffer
// a trailing partial block — see FlushWriter).
func (t *Tunnel) Write(p []byte) (int, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	ciphertext := t.encryptor.Encrypt(p)
	if len(ciphertext) > 0 {
		if _, err := t.conn.Write(ciphertext); err != nil {
			return 0, err
		}
	}
	t.bytesWritten += uint64(len(p))
	return len(p), nil
}

// Flush flushes the underlying stream. No cipher state is committed by
// this call; it exists purely to push buffered transport bytes out,
// mirroring an io.Writer that separately buffers at the transport
// layer.
func (t *Tunnel) Flush() error {
	if f, ok := t.conn.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// FlushWriter forces the encryptor's buffered trailing partial block
// out onto the wire by writing zero padding up to the next block
// boundary. Applications call this after an application-level message
// boundary; the receiver, knowing the message length, discards the
// padding via FlushReader. The padding is not application data, so it
// does not advance BytesWritten.
func (t *Tunnel) FlushWriter() error {
	pad := cipher.BlockSize - int(t.bytesWritten%uint64(cipher.BlockSize))
	if pad == cipher.BlockSize {
		return nil
	}
	buf := acquirePadding(pad)
	defer releasePadding(buf)

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	ciphertext := t.encryptor.Encrypt(buf.B)
	if len(ciphertext) > 0 {
		if _, err := t.conn.Write(ciphertext); err != nil {
			return err
		}
	}
	return nil
}

// FlushReader reads and discards the zero padding a peer's
// FlushWriter emitted, advancing the read position to the next block
// boundary. The padding is not application data, so it does not
// advance BytesRead.
func (t *Tunnel) FlushReader() error {
	pad := cipher.BlockSize - int(t.bytesRead%uint64(cipher.BlockSize))
	if pad == cipher.BlockSize {
		return nil
	}

	t.readMu.Lock()
	defer t.readMu.Unlock()

	remaining := pad
	for remaining > 0 {
		if len(t.readLeft) == 0 {
			raw := make([]byte, t.readBufSize)
			n, err := t.conn.Read(raw)
			if n > 0 {
				t.readLeft = append(t.readLeft, t.decryptor.Feed(raw[:n])...)
			}
			if err != nil {
				return err
			}
			continue
		}
		take := remaining
		if take > len(t.readLeft) {
			take = len(t.readLeft)
		}
		t.readLeft = t.readLeft[take:]
		remaining -= take
	}
	return nil
}

// Close disposes the session key, and closes the underlying stream
// unless the tunnel was constructed with WithLeaveOpen(true). Close is
// idempotent and safe to call more than once.
func (t *Tunnel) Close() error {
	t.closeOnce.Do(func() {
		t.sessionKey.Wipe()
		if !t.leaveOpen {
			t.closeErr = t.conn.Close()
		}
		log.Info().Msg("tunnel: closed")
	})
	return t.closeErr
}

// BlockSize returns the cipher block size in bytes (16 for AES).
func (t *Tunnel) BlockSize() int { return cipher.BlockSize }

// RemotePublicKey returns the peer identity that was cryptographically
// matched during the handshake.
func (t *Tunnel) RemotePublicKey() *keys.RemoteKey { return t.remote }

// BytesRead returns the number of application bytes read since the
// handshake completed.
func (t *Tunnel) BytesRead() uint64 { return t.bytesRead }

// BytesWritten returns the number of application bytes written since
// the handshake completed.
func (t *Tunnel) BytesWritten() uint64 { return t.bytesWritten }

// CanRead always reports true.
func (t *Tunnel) CanRead() bool { return true }

// CanWrite always reports true.
func (t *Tunnel) CanWrite() bool { return true }

// CanSeek always reports false: a Tunnel is a one-way stream of cipher
// blocks, not a random-access resource.
func (t *Tunnel) CanSeek() bool { return false }

// Seek is unsupported; calling it is a usage error.
func (t *Tunnel) Seek(offset int64, whence int) (int64, error) {
	return 0, fmt.Errorf("tunnel: seek: %w", errors.ErrUnsupported)
}

// SetLength is unsupported; calling it is a usage error.
func (t *Tunnel) SetLength(int64) error {
	return fmt.Errorf("tunnel: set length: %w", errors.ErrUnsupported)
}

// Length is unsupported; calling it is a usage error.
func (t *Tunnel) Length() (int64, error) {
	return 0, fmt.Errorf("tunnel: length: %w", errors.ErrUnsupported)
}

// Position is unsupported; calling it is a usage error.
func (t *Tunnel) Position() (int64, error) {
	return 0, fmt.Errorf("tunnel: position: %w", errors.ErrUnsupported)
}
