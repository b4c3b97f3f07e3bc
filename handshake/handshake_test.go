package handshake

import (
	"bytes"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/gosuda/cryptotunnel/keys"
)

// pipeConn creates a bidirectional TCP loopback connection pair for
// tests. Both roles write before they read (the initiator its challenge,
// the responder its session-key envelope), so the transport must buffer
// writes; the unbuffered net.Pipe would deadlock.
func pipeConn() (net.Conn, net.Conn) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	defer ln.Close()
	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		panic(err)
	}
	server, err := ln.Accept()
	if err != nil {
		panic(err)
	}
	return client, server
}

func mustKey(t *testing.T) *keys.LocalKey {
	t.Helper()
	k, err := keys.GenerateLocalKey(2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return k
}

func runHandshake(t *testing.T, initLocal, respLocal *keys.LocalKey, initAcceptable, respAcceptable []*keys.RemoteKey) (initRes, respRes *Result, initErr, respErr error) {
	t.Helper()
	clientConn, serverConn := pipeConn()
	defer clientConn.Close()
	defer serverConn.Close()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		initRes, initErr = Initiate(clientConn, initLocal, initAcceptable)
		if initErr != nil {
			clientConn.Close() // unblock the peer's pending read
		}
	}()
	go func() {
		defer wg.Done()
		respRes, respErr = Respond(serverConn, respLocal, respAcceptable)
		if respErr != nil {
			serverConn.Close() // unblock the peer's pending read
		}
	}()

	wg.Wait()
	return
}

func TestHandshakeSuccess(t *testing.T) {
	initiatorKey := mustKey(t)
	responderKey := mustKey(t)

	initRes, respRes, initErr, respErr := runHandshake(t,
		initiatorKey, responderKey,
		[]*keys.RemoteKey{responderKey.Public()},
		[]*keys.RemoteKey{initiatorKey.Public()},
	)

	if initErr != nil {
		t.Fatalf("initiator error: %v", initErr)
	}
	if respErr != nil {
		t.Fatalf("responder error: %v", respErr)
	}

	if !bytes.Equal(initRes.SessionKey.Key, respRes.SessionKey.Key) {
		t.Fatal("session keys disagree")
	}
	if !bytes.Equal(initRes.SessionKey.IV, respRes.SessionKey.IV) {
		t.Fatal("session IVs disagree")
	}
	if !initRes.Remote.Equal(responderKey.Public()) {
		t.Fatal("initiator did not retain the responder's matched key")
	}
	if !respRes.Remote.Equal(initiatorKey.Public()) {
		t.Fatal("responder did not retain the initiator's matched key")
	}
}

func TestHandshakeInitiatorRejectsUnknownResponder(t *testing.T) {
	initiatorKey := mustKey(t)
	responderKey := mustKey(t)
	unrelated := mustKey(t)

	_, _, initErr, _ := runHandshake(t,
		initiatorKey, responderKey,
		[]*keys.RemoteKey{unrelated.Public()}, // initiator expects a different key
		[]*keys.RemoteKey{initiatorKey.Public()},
	)

	if !errors.Is(initErr, ErrRemoteDoesNotHaveValidPublicKey) {
		t.Fatalf("expected ErrRemoteDoesNotHaveValidPublicKey, got %v", initErr)
	}
}

func TestHandshakeResponderRejectsUnknownInitiator(t *testing.T) {
	initiatorKey := mustKey(t)
	responderKey := mustKey(t)
	unrelated := mustKey(t)

	_, _, _, respErr := runHandshake(t,
		initiatorKey, responderKey,
		[]*keys.RemoteKey{responderKey.Public()},
		[]*keys.RemoteKey{unrelated.Public()}, // responder expects a different key
	)

	if !errors.Is(respErr, ErrRemoteDoesNotHaveValidPublicKey) {
		t.Fatalf("expected ErrRemoteDoesNotHaveValidPublicKey, got %v", respErr)
	}
}

func TestSessionKeyFreshnessAcrossHandshakes(t *testing.T) {
	initiatorKey := mustKey(t)
	responderKey := mustKey(t)
	acceptableInit := []*keys.RemoteKey{responderKey.Public()}
	acceptableResp := []*keys.RemoteKey{initiatorKey.Public()}

	res1, _, err1, _ := runHandshake(t, initiatorKey, responderKey, acceptableInit, acceptableResp)
	res2, _, err2, _ := runHandshake(t, initiatorKey, responderKey, acceptableInit, acceptableResp)
	if err1 != nil || err2 != nil {
		t.Fatalf("unexpected errors: %v, %v", err1, err2)
	}

	if bytes.Equal(res1.SessionKey.Key, res2.SessionKey.Key) {
		t.Fatal("two independent handshakes produced the same session key")
	}
}
