// Package cipher implements the session cipher pipeline: AES-256 in
// ECB mode with no padding, split into independent Encryptor/Decryptor
// halves that each buffer at most one cipher block.
//
// ECB is a deliberate, non-negotiable choice fixed by the wire
// protocol this package must interoperate with — the stdlib does not
// export an ECB cipher.BlockMode because it is unsafe for structured
// plaintext in general, but wire compatibility requires it here.
// The 16-byte IV carried alongside the key is transported as key
// material but is not mixed into the ECB transform itself: it exists
// because the cipher-context API the protocol was designed against
// requires an IV argument even when the mode ignores it.
package cipher

import (
	"bytes"
	cryptoaes "crypto/aes"
	stdcipher "crypto/cipher"
	"fmt"

	"github.com/gosuda/cryptotunnel/internal/rnd"
	"github.com/gosuda/cryptotunnel/internal/wire"
)

const (
	// KeySize is the AES-256 key size in bytes.
	KeySize = 32
	// IVSize is the size of the IV transported alongside the key.
	IVSize = 16
	// BlockSize is the AES block size: the number of plaintext bytes
	// consumed per cipher block, exposed read-only on the tunnel façade.
	BlockSize = cryptoaes.BlockSize
)

// SessionKey is the AES-256 key and 16-byte IV generated by the
// responder and transported once, RSA-encrypted, to the initiator.
type SessionKey struct {
	Key []byte
	IV  []byte
}

// NewSessionKey generates a fresh session key and IV from a
// cryptographically secure source. A new SessionKey must be generated
// for every tunnel; session keys are never reused across tunnels.
func NewSessionKey() *SessionKey {
	return &SessionKey{
		Key: rnd.Bytes(KeySize),
		IV:  rnd.Bytes(IVSize),
	}
}

// Wipe overwrites the key and IV with zeroes. Called on tunnel Close.
func (k *SessionKey) Wipe() {
	for i := range k.Key {
		k.Key[i] = 0
	}
	for i := range k.IV {
		k.IV[i] = 0
	}
}

// Marshal encodes the key as the length-prefixed <key><iv> pair the
// session-key envelope plaintext carries.
func (k *SessionKey) Marshal() []byte {
	var buf bytes.Buffer
	_ = wire.WriteBlob(&buf, k.Key)
	_ = wire.WriteBlob(&buf, k.IV)
	return buf.Bytes()
}

// UnmarshalSessionKey decodes the <key><iv> pair from decrypted
// envelope plaintext.
func UnmarshalSessionKey(plaintext []byte) (*SessionKey, error) {
	r := bytes.NewReader(plaintext)
	key, err := wire.ReadBlob(r, KeySize)
	if err != nil {
		return nil, fmt.Errorf("cipher: decode session key: %w", err)
	}
	iv, err := wire.ReadBlob(r, IVSize)
	if err != nil {
		return nil, fmt.Errorf("cipher: decode session iv: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("cipher: session key must be %d bytes, got %d", KeySize, len(key))
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("cipher: session iv must be %d bytes, got %d", IVSize, len(iv))
	}
	return &SessionKey{Key: key, IV: iv}, nil
}

// Encryptor encrypts each complete 16-byte block of plaintext under
// AES-256-ECB and returns the ciphertext for the caller to write. At
// most one partial block of plaintext is buffered between calls to
// Encrypt.
type Encryptor struct {
	block stdcipher.Block
	buf   []byte
}

// NewEncryptor installs key into a fresh AES context for the write half.
func NewEncryptor(key *SessionKey) (*Encryptor, error) {
	block, err := cryptoaes.NewCipher(key.Key)
	if err != nil {
		return nil, fmt.Errorf("cipher: install AES key: %w", err)
	}
	return &Encryptor{block: block}, nil
}

// Encrypt consumes p, returning ciphertext for every complete block
// formed by p together with any previously buffered remainder. The
// returned slice's length is always a multiple of BlockSize.
func (e *Encryptor) Encrypt(p []byte) []byte {
	e.buf = append(e.buf, p...)

	n := len(e.buf) / BlockSize * BlockSize
	out := make([]byte, n)
	for i := 0; i < n; i += BlockSize {
		e.block.Encrypt(out[i:i+BlockSize], e.buf[i:i+BlockSize])
	}

	remainder := len(e.buf) - n
	copy(e.buf, e.buf[n:])
	e.buf = e.buf[:remainder]

	return out
}

// Decryptor decrypts each complete 16-byte ciphertext block fed to it
// under AES-256-ECB and returns the plaintext to the caller. At most one
// partial ciphertext block is buffered between calls to Feed.
type Decryptor struct {
	block stdcipher.Block

	cipherBuf []byte // partial ciphertext block accumulated from Read
	plainBuf  []byte // decrypted plaintext not yet consumed by the caller
}

// NewDecryptor installs key into a fresh AES context for the read half.
func NewDecryptor(key *SessionKey) (*Decryptor, error) {
	block, err := cryptoaes.NewCipher(key.Key)
	if err != nil {
		return nil, fmt.Errorf("cipher: install AES key: %w", err)
	}
	return &Decryptor{block: block, cipherBuf: make([]byte, 0, BlockSize)}, nil
}

// Feed appends raw ciphertext bytes read from the underlying stream
// and returns any plaintext now available. Call has no set size
// relation to the output: a partial block is held back internally
// until enough ciphertext has accumulated to decrypt it.
func (d *Decryptor) Feed(ciphertext []byte) []byte {
	d.cipherBuf = append(d.cipherBuf, ciphertext...)

	n := len(d.cipherBuf) / BlockSize * BlockSize
	out := make([]byte, n)
	for i := 0; i < n; i += BlockSize {
		d.block.Decrypt(out[i:i+BlockSize], d.cipherBuf[i:i+BlockSize])
	}

	remainder := len(d.cipherBuf) - n
	copy(d.cipherBuf, d.cipherBuf[n:])
	d.cipherBuf = d.cipherBuf[:remainder]

	return out
}
