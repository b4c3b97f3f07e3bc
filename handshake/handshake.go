// Package handshake drives the two symmetric handshake roles —
// Initiator and Responder — that perform mutual authentication and
// transport the session key, over the following fixed wire order:
//
//	Initiator -> Responder: LP(initiatorPubKey), RAW256(challenge)
//	Responder -> Initiator: LP(envelope), LP(responderPubKey), LP(signature)
//
// The responder sends the session-key envelope before reading the
// challenge. This ordering is preserved deliberately for wire
// compatibility with peers that expect it (see DESIGN.md).
package handshake

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/cryptotunnel/cipher"
	"github.com/gosuda/cryptotunnel/internal/rnd"
	"github.com/gosuda/cryptotunnel/internal/wire"
	"github.com/gosuda/cryptotunnel/keys"
)

const (
	// ChallengeSize is the fixed size of the initiator's random challenge.
	ChallengeSize = 256

	maxPubKeyBlobSize = 16 << 10 // generous headroom over a 4096-bit CSP blob
	maxEnvelopeSize   = 16 << 10 // RSA-OAEP ciphertext is bounded by the key size
	maxSignatureSize  = 16 << 10
)

// Identity-rejection discriminants. These are normal-flow outcomes —
// the caller tears down and chooses a policy response — distinct from
// the cryptographic/IO failures below, which are opaque wrapped errors.
var (
	ErrRemoteDoesNotHaveValidPublicKey = errors.New("handshake: remote does not have a valid public key")
	ErrRemoteFailedToVerifyItself      = errors.New("handshake: remote failed to verify itself")
)

// Result is what a successful handshake produces: the freshly
// installed session key and the peer identity that was actually
// matched against the caller's acceptable set.
type Result struct {
	SessionKey *cipher.SessionKey
	Remote     *keys.RemoteKey
}

// Initiate performs the initiator-role handshake over conn: it sends
// this peer's public key and a fresh challenge, then receives and
// validates the session-key envelope, the peer's public key, and a
// signature over the challenge. acceptable is the set of remote public
// keys this peer is willing to authenticate against.
func Initiate(conn io.ReadWriter, local *keys.LocalKey, acceptable []*keys.RemoteKey) (*Result, error) {
	// Step 1: send local public key.
	if err := wire.WriteBlob(conn, local.CSPBlob()); err != nil {
		return nil, fmt.Errorf("handshake: send local public key: %w", err)
	}

	// Step 2: send a fresh 256-byte challenge.
	challenge := rnd.Bytes(ChallengeSize)
	if err := wire.WriteRaw(conn, challenge); err != nil {
		return nil, fmt.Errorf("handshake: send challenge: %w", err)
	}

	// Step 3: receive and decrypt the session-key envelope.
	envelope, err := wire.ReadBlob(conn, maxEnvelopeSize)
	if err != nil {
		return nil, fmt.Errorf("handshake: receive session key envelope: %w", err)
	}
	plaintext, err := local.Decrypt(envelope)
	if err != nil {
		return nil, fmt.Errorf("handshake: decrypt session key envelope: %w", err)
	}
	sessionKey, err := cipher.UnmarshalSessionKey(plaintext)
	if err != nil {
		return nil, fmt.Errorf("handshake: parse session key envelope: %w", err)
	}

	// Step 4: receive the responder's public key.
	remoteBlob, err := wire.ReadBlob(conn, maxPubKeyBlobSize)
	if err != nil {
		return nil, fmt.Errorf("handshake: receive remote public key: %w", err)
	}
	remote, err := keys.ParseRemoteKeyCSP(remoteBlob)
	if err != nil {
		return nil, fmt.Errorf("handshake: parse remote public key: %w", err)
	}

	// Step 5: accept or reject identity.
	matched := remote.MatchAcceptable(acceptable)
	if matched == nil {
		log.Warn().Msg("handshake: initiator rejected unrecognized remote public key")
		return nil, ErrRemoteDoesNotHaveValidPublicKey
	}

	// Step 6: verify the challenge signature.
	sig, err := wire.ReadBlob(conn, maxSignatureSize)
	if err != nil {
		return nil, fmt.Errorf("handshake: receive challenge signature: %w", err)
	}
	if !matched.Verify(challenge, sig) {
		log.Warn().Msg("handshake: initiator failed to verify remote signature")
		return nil, ErrRemoteFailedToVerifyItself
	}

	log.Info().Msg("handshake: initiator completed successfully")
	return &Result{SessionKey: sessionKey, Remote: matched}, nil
}

// Respond performs the responder-role handshake over conn: it receives
// the peer's public key, generates and sends a fresh session key
// envelope, then receives the challenge and answers it with its own
// public key and a signature. acceptable is the set of remote public
// keys this peer is willing to authenticate against.
func Respond(conn io.ReadWriter, local *keys.LocalKey, acceptable []*keys.RemoteKey) (*Result, error) {
	// Step 1: receive the initiator's public key.
	remoteBlob, err := wire.ReadBlob(conn, maxPubKeyBlobSize)
	if err != nil {
		return nil, fmt.Errorf("handshake: receive remote public key: %w", err)
	}
	remote, err := keys.ParseRemoteKeyCSP(remoteBlob)
	if err != nil {
		return nil, fmt.Errorf("handshake: parse remote public key: %w", err)
	}

	// Step 2: accept or reject identity.
	matched := remote.MatchAcceptable(acceptable)
	if matched == nil {
		log.Warn().Msg("handshake: responder rejected unrecognized remote public key")
		return nil, ErrRemoteDoesNotHaveValidPublicKey
	}

	// Step 3: generate the session key and IV.
	sessionKey := cipher.NewSessionKey()

	// Step 4: encrypt and send the session-key envelope, before reading
	// the challenge — preserved verbatim from the source ordering.
	envelope, err := matched.Encrypt(sessionKey.Marshal())
	if err != nil {
		return nil, fmt.Errorf("handshake: encrypt session key envelope: %w", err)
	}
	if err := wire.WriteBlob(conn, envelope); err != nil {
		return nil, fmt.Errorf("handshake: send session key envelope: %w", err)
	}

	// Step 5: receive the 256-byte challenge.
	challenge, err := wire.ReadRaw(conn, ChallengeSize)
	if err != nil {
		return nil, fmt.Errorf("handshake: receive challenge: %w", err)
	}

	// Step 6: send the local public key.
	if err := wire.WriteBlob(conn, local.CSPBlob()); err != nil {
		return nil, fmt.Errorf("handshake: send local public key: %w", err)
	}

	// Step 7: sign and send the challenge signature.
	sig, err := local.Sign(challenge)
	if err != nil {
		return nil, fmt.Errorf("handshake: sign challenge: %w", err)
	}
	if err := wire.WriteBlob(conn, sig); err != nil {
		return nil, fmt.Errorf("handshake: send challenge signature: %w", err)
	}

	log.Info().Msg("handshake: responder completed successfully")
	return &Result{SessionKey: sessionKey, Remote: matched}, nil
}
