package secrets

import (
	"bytes"
	"testing"
)

func testBox(t *testing.T) *Box {
	t.Helper()
	key := bytes.Repeat([]byte{0x42}, 32)
	b, err := New(key)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestRoundTrip(t *testing.T) {
	b := testBox(t)

	enc, err := b.Encrypt("sk-pendant-secret", "user-1")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	got, err := b.Decrypt(enc, "user-1")
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != "sk-pendant-secret" {
		t.Errorf("Decrypt = %q, want %q", got, "sk-pendant-secret")
	}
}

func TestDecrypt_WrongUser(t *testing.T) {
	b := testBox(t)

	enc, err := b.Encrypt("sk-pendant-secret", "user-1")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	// The user id is authenticated data — a ciphertext moved to another
	// user's row must not decrypt.
	if _, err := b.Decrypt(enc, "user-2"); err == nil {
		t.Error("Decrypt with wrong user id should fail")
	}
}

func TestDecrypt_Garbage(t *testing.T) {
	b := testBox(t)

	for _, in := range []string{"", "not base64 !!!", "AAAA"} {
		if _, err := b.Decrypt(in, "user-1"); err == nil {
			t.Errorf("Decrypt(%q) should fail", in)
		}
	}
}

func TestNew_BadKeyLength(t *testing.T) {
	if _, err := New(make([]byte, 16)); err == nil {
		t.Error("New should reject 16-byte keys")
	}
}

func TestEncrypt_NonDeterministic(t *testing.T) {
	b := testBox(t)

	a, _ := b.Encrypt("secret", "user-1")
	c, _ := b.Encrypt("secret", "user-1")
	if a == c {
		t.Error("two encryptions of the same plaintext should differ (random nonce)")
	}
}
