package keys

import (
	"testing"
)

func mustGenerate(t *testing.T, bits int) *LocalKey {
	t.Helper()
	k, err := GenerateLocalKey(bits)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return k
}

func TestCSPBlobRoundTrip(t *testing.T) {
	local := mustGenerate(t, 2048)
	blob := local.CSPBlob()

	remote, err := ParseRemoteKeyCSP(blob)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if !remote.Equal(local.Public()) {
		t.Fatal("round-tripped key does not match original modulus")
	}
}

func TestMalformedBlob(t *testing.T) {
	if _, err := ParseRemoteKeyCSP([]byte{0x07, 0x02, 0, 0}); err == nil {
		t.Fatal("expected error for wrong blob type")
	}
	if _, err := ParseRemoteKeyCSP(nil); err == nil {
		t.Fatal("expected error for empty blob")
	}
}

func TestEncryptDecrypt(t *testing.T) {
	local := mustGenerate(t, 2048)
	remote := local.Public()

	plaintext := []byte("session key material goes here")
	ciphertext, err := remote.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	got, err := local.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("got %q want %q", got, plaintext)
	}
}

func TestSignVerify(t *testing.T) {
	local := mustGenerate(t, 2048)
	remote := local.Public()

	challenge := make([]byte, 256)
	for i := range challenge {
		challenge[i] = byte(i)
	}

	sig, err := local.Sign(challenge)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !remote.Verify(challenge, sig) {
		t.Fatal("expected signature to verify")
	}

	sig[0] ^= 0xff
	if remote.Verify(challenge, sig) {
		t.Fatal("expected tampered signature to fail verification")
	}
}

func TestMatchAcceptable(t *testing.T) {
	a := mustGenerate(t, 2048)
	b := mustGenerate(t, 2048)
	c := mustGenerate(t, 2048)

	acceptable := []*RemoteKey{b.Public(), c.Public()}
	if b.Public().MatchAcceptable(acceptable) == nil {
		t.Fatal("expected b to match its own entry")
	}
	if a.Public().MatchAcceptable(acceptable) != nil {
		t.Fatal("expected a to not match")
	}
}
