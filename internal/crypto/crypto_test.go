package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSeed = "0x1111111111111111111111111111111111111111111111111111111111111111"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey(testSeed, "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecryptKey(blob, "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if got != strings.TrimPrefix(testSeed, "0x") {
		t.Fatalf("seed = %s", got)
	}
	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Fatal("expected error for wrong password")
	}
}

func TestEncryptKeyRejectsBadSeed(t *testing.T) {
	if _, err := EncryptKey("0x1234", "pw"); err == nil {
		t.Fatal("expected error for short seed")
	}
	if _, err := EncryptKey(testSeed, ""); err == nil {
		t.Fatal("expected error for empty password")
	}
}

func TestLoadKey(t *testing.T) {
	got, err := LoadKey(KeyConfig{RawPrivateKey: testSeed})
	if err != nil || got != strings.TrimPrefix(testSeed, "0x") {
		t.Fatalf("raw = %q, %v", got, err)
	}

	blob, err := EncryptKey(testSeed, "pw")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}
	got, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	if err != nil || got != strings.TrimPrefix(testSeed, "0x") {
		t.Fatalf("file = %q, %v", got, err)
	}

	if _, err := LoadKey(KeyConfig{}); err == nil {
		t.Fatal("expected error without a key source")
	}
}

func TestSignerSignsVerifiably(t *testing.T) {
	s, err := NewSigner(testSeed)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Address()) != 66 || !strings.HasPrefix(s.Address(), "0x") {
		t.Fatalf("address = %s", s.Address())
	}

	sig := s.Sign([]byte("hello"))
	ok, err := Verify(sig, []byte("hello"))
	if err != nil || !ok {
		t.Fatalf("verify = %v, %v", ok, err)
	}
	ok, err = Verify(sig, []byte("hello!"))
	if err != nil || ok {
		t.Fatalf("verify tampered = %v, %v", ok, err)
	}
}

func TestRequestHeaders(t *testing.T) {
	s, err := NewSigner(testSeed)
	if err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return time.Unix(1700000000, 0) }

	h := s.RequestHeaders("POST", "/v1/margin/deposit", []byte(`{"a":1}`))
	if h["X-Timestamp"] != "1700000000" || h["X-Sui-Address"] != s.Address() {
		t.Fatalf("headers = %v", h)
	}
	ok, err := Verify(h["X-Signature"], []byte(`1700000000POST/v1/margin/deposit{"a":1}`))
	if err != nil || !ok {
		t.Fatalf("verify = %v, %v", ok, err)
	}
}
