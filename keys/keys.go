// Package keys implements the long-lived RSA identities the handshake
// authenticates: a LocalKey (private+public, used to decrypt the
// incoming session-key envelope or sign the challenge, depending on
// role) and a RemoteKey (public half of a peer's identity, used to
// verify or encrypt).
//
// Keys are exchanged on the wire as CSP public-key blobs — the fixed
// BLOBHEADER + RSAPUBKEY + little-endian-modulus layout the source
// platform's crypto API produces. This package only ever encodes the
// public half: the private key never crosses the wire.
package keys

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
)

const (
	cspBlobTypePublic = 0x06
	cspBlobVersion    = 0x02
	cspAlgRSAKeyX     = 0x0000a400 // CALG_RSA_KEYX
	cspMagicRSA1      = 0x31415352 // "RSA1" read as a little-endian DWORD
	cspHeaderSize     = 8
	cspPubKeySize     = 12
)

// ErrMalformedBlob is returned when a CSP blob fails to parse.
var ErrMalformedBlob = errors.New("keys: malformed CSP public key blob")

// LocalKey is a long-lived RSA key pair belonging to this peer.
type LocalKey struct {
	priv *rsa.PrivateKey
}

// GenerateLocalKey creates a fresh RSA key pair of the given bit size.
// The protocol assumes 2048-bit keys; smaller sizes are only useful
// for tests.
func GenerateLocalKey(bits int) (*LocalKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("keys: generate RSA key: %w", err)
	}
	return &LocalKey{priv: priv}, nil
}

// NewLocalKey wraps an existing RSA private key.
func NewLocalKey(priv *rsa.PrivateKey) *LocalKey {
	return &LocalKey{priv: priv}
}

// ParseLocalKeyCSP is provided for symmetry but a LocalKey is never
// received over the wire in this protocol. A CSP public-key blob holds
// no private key, so it returns the public half as a RemoteKey, exactly
// as ParseRemoteKeyCSP does.
func ParseLocalKeyCSP(blob []byte) (*RemoteKey, error) {
	return ParseRemoteKeyCSP(blob)
}

// CSPBlob encodes the public half of the key pair as a CSP
// PUBLICKEYBLOB.
func (k *LocalKey) CSPBlob() []byte {
	return encodeCSPPublicBlob(&k.priv.PublicKey)
}

// Public returns the public half as a RemoteKey, e.g. to compare
// against an acceptable set the caller assembled from its own keys.
func (k *LocalKey) Public() *RemoteKey {
	return &RemoteKey{pub: &k.priv.PublicKey}
}

// Decrypt decrypts an RSA-OAEP/SHA-256 envelope addressed to this key.
func (k *LocalKey) Decrypt(ciphertext []byte) ([]byte, error) {
	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, k.priv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("keys: OAEP decrypt: %w", err)
	}
	return plaintext, nil
}

// Sign signs data (expected to be the raw challenge) with RSA-PKCS1v15
// over a SHA-256 digest, matching the source's signature scheme.
func (k *LocalKey) Sign(data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, k.priv, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("keys: sign: %w", err)
	}
	return sig, nil
}

// RemoteKey is the public half of a peer's identity: either a
// candidate in an acceptable set, or the key actually matched during
// a handshake.
type RemoteKey struct {
	pub *rsa.PublicKey
}

// NewRemoteKey wraps an existing RSA public key.
func NewRemoteKey(pub *rsa.PublicKey) *RemoteKey {
	return &RemoteKey{pub: pub}
}

// ParseRemoteKeyCSP decodes a CSP PUBLICKEYBLOB as received on the wire.
func ParseRemoteKeyCSP(blob []byte) (*RemoteKey, error) {
	pub, err := decodeCSPPublicBlob(blob)
	if err != nil {
		return nil, err
	}
	return &RemoteKey{pub: pub}, nil
}

// CSPBlob encodes this key as a CSP PUBLICKEYBLOB for transmission.
func (k *RemoteKey) CSPBlob() []byte {
	return encodeCSPPublicBlob(k.pub)
}

// Encrypt encrypts data (expected to be the session-key envelope
// payload) with RSA-OAEP/SHA-256 addressed to this key.
func (k *RemoteKey) Encrypt(plaintext []byte) ([]byte, error) {
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, k.pub, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("keys: OAEP encrypt: %w", err)
	}
	return ciphertext, nil
}

// Verify checks an RSA-PKCS1v15/SHA-256 signature over data (expected
// to be the raw challenge) against this key.
func (k *RemoteKey) Verify(data, sig []byte) bool {
	digest := sha256.Sum256(data)
	return rsa.VerifyPKCS1v15(k.pub, crypto.SHA256, digest[:], sig) == nil
}

// Equal reports whether two keys share the same RSA modulus — the
// exact test used to match a parsed remote key against a
// caller-supplied acceptable set. The modulus, not the exponent or any
// derived fingerprint, is what the protocol treats as identity.
func (k *RemoteKey) Equal(other *RemoteKey) bool {
	if k == nil || other == nil || k.pub == nil || other.pub == nil {
		return false
	}
	return k.pub.N.Cmp(other.pub.N) == 0
}

// MatchAcceptable returns the member of acceptable whose modulus
// matches k, or nil if none does.
func (k *RemoteKey) MatchAcceptable(acceptable []*RemoteKey) *RemoteKey {
	for _, candidate := range acceptable {
		if k.Equal(candidate) {
			return candidate
		}
	}
	return nil
}

func encodeCSPPublicBlob(pub *rsa.PublicKey) []byte {
	keySize := (pub.N.BitLen() + 7) / 8
	blob := make([]byte, cspHeaderSize+cspPubKeySize+keySize)

	blob[0] = cspBlobTypePublic
	blob[1] = cspBlobVersion
	binary.LittleEndian.PutUint16(blob[2:4], 0) // reserved
	binary.LittleEndian.PutUint32(blob[4:8], cspAlgRSAKeyX)

	binary.LittleEndian.PutUint32(blob[8:12], cspMagicRSA1)
	binary.LittleEndian.PutUint32(blob[12:16], uint32(keySize*8))
	binary.LittleEndian.PutUint32(blob[16:20], uint32(pub.E))

	modulus := pub.N.FillBytes(make([]byte, keySize)) // big-endian
	reverseInto(blob[20:20+keySize], modulus)

	return blob
}

func decodeCSPPublicBlob(blob []byte) (*rsa.PublicKey, error) {
	if len(blob) < cspHeaderSize+cspPubKeySize {
		return nil, ErrMalformedBlob
	}
	if blob[0] != cspBlobTypePublic {
		return nil, fmt.Errorf("%w: bType %#x", ErrMalformedBlob, blob[0])
	}
	magic := binary.LittleEndian.Uint32(blob[8:12])
	if magic != cspMagicRSA1 {
		return nil, fmt.Errorf("%w: magic %#x", ErrMalformedBlob, magic)
	}
	bitLen := binary.LittleEndian.Uint32(blob[12:16])
	pubExp := binary.LittleEndian.Uint32(blob[16:20])
	keySize := int(bitLen / 8)

	rest := blob[cspHeaderSize+cspPubKeySize:]
	if len(rest) != keySize {
		return nil, fmt.Errorf("%w: modulus length mismatch", ErrMalformedBlob)
	}

	modulus := make([]byte, keySize)
	reverseInto(modulus, rest) // little-endian on wire -> big-endian for math/big

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(modulus),
		E: int(pubExp),
	}, nil
}

func reverseInto(dst, src []byte) {
	n := len(src)
	for i := 0; i < n; i++ {
		dst[i] = src[n-1-i]
	}
}
