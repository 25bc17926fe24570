package vaultcrypto

import "testing"

func TestPasswordKDFDeterministic(t *testing.T) {
	kdf := NewPasswordKDF()
	salt := []byte("0123456789abcdef0123456789abcdef")

	k1, err := kdf.DeriveKey([]byte("correct horse"), salt)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	k2, err := kdf.DeriveKey([]byte("correct horse"), salt)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	if string(k1) != string(k2) {
		t.Fatal("same passphrase+salt must derive the same key")
	}
}

func TestPasswordKDFDifferentPassphraseDiffers(t *testing.T) {
	kdf := NewPasswordKDF()
	salt := []byte("0123456789abcdef0123456789abcdef")

	k1, err := kdf.DeriveKey([]byte("correct horse"), salt)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	k2, err := kdf.DeriveKey([]byte("wrong horse"), salt)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	if string(k1) == string(k2) {
		t.Fatal("different passphrases must derive different keys")
	}
}

func TestPBKDF2FloorEnforced(t *testing.T) {
	kdf := &PasswordKDF{
		Kind:   KDFPBKDF2,
		PBKDF2: PBKDF2Params{Iterations: 1000, KeySize: 32},
	}
	if err := kdf.Validate(); err == nil {
		t.Fatal("expected validation error for below-floor iteration count")
	}
}

func TestGenerateSaltUnique(t *testing.T) {
	kdf := NewPasswordKDF()
	a, err := kdf.GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}
	b, err := kdf.GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}
	if string(a) == string(b) {
		t.Fatal("two generated salts must not collide")
	}
}
