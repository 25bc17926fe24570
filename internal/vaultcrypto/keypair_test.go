package vaultcrypto

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateKeypairAndWrapUnwrap(t *testing.T) {
	kdf := NewPasswordKDF()
	pubPEM, privPEM, err := GenerateKeypair([]byte("s3cret-passphrase"), kdf)
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	dir := t.TempDir()
	pubPath := filepath.Join(dir, "user_keyfile.pem")
	privPath := filepath.Join(dir, "user_keyfile.priv.pem")
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		t.Fatalf("write pub: %v", err)
	}
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		t.Fatalf("write priv: %v", err)
	}

	pub, err := LoadPublicKey(pubPath)
	if err != nil {
		t.Fatalf("LoadPublicKey: %v", err)
	}
	priv, err := LoadPrivateKey(privPath, []byte("s3cret-passphrase"), kdf)
	if err != nil {
		t.Fatalf("LoadPrivateKey: %v", err)
	}

	dk, err := GenerateDataKey()
	if err != nil {
		t.Fatalf("GenerateDataKey: %v", err)
	}

	wrapped, err := PKWrap(dk.Bytes(), pub)
	if err != nil {
		t.Fatalf("PKWrap: %v", err)
	}
	unwrapped, err := PKUnwrap(wrapped, priv)
	if err != nil {
		t.Fatalf("PKUnwrap: %v", err)
	}
	if string(unwrapped) != string(dk.Bytes()) {
		t.Fatal("unwrap mismatch")
	}
}

func TestLoadPrivateKeyWrongPassphraseFails(t *testing.T) {
	kdf := NewPasswordKDF()
	_, privPEM, err := GenerateKeypair([]byte("right-passphrase"), kdf)
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	dir := t.TempDir()
	privPath := filepath.Join(dir, "user_keyfile.priv.pem")
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		t.Fatalf("write priv: %v", err)
	}

	if _, err := LoadPrivateKey(privPath, []byte("wrong-passphrase"), kdf); err == nil {
		t.Fatal("expected error for wrong passphrase")
	}
}

func TestPKWrapProducesDistinctCiphertextsPerCall(t *testing.T) {
	kdf := NewPasswordKDF()
	pubPEM, _, err := GenerateKeypair([]byte("passphrase"), kdf)
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	dir := t.TempDir()
	pubPath := filepath.Join(dir, "pub.pem")
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		t.Fatalf("write pub: %v", err)
	}
	pub, err := LoadPublicKey(pubPath)
	if err != nil {
		t.Fatalf("LoadPublicKey: %v", err)
	}

	dk, err := GenerateDataKey()
	if err != nil {
		t.Fatalf("GenerateDataKey: %v", err)
	}

	w1, err := PKWrap(dk.Bytes(), pub)
	if err != nil {
		t.Fatalf("PKWrap: %v", err)
	}
	w2, err := PKWrap(dk.Bytes(), pub)
	if err != nil {
		t.Fatalf("PKWrap: %v", err)
	}
	if string(w1) == string(w2) {
		t.Fatal("OAEP wrapping of the same plaintext twice must not produce identical ciphertext")
	}
}
