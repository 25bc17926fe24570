package vaultcrypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/cryptvault/cryptvault/internal/vaulterrors"
)

// RSAKeyBits is the modulus size for generated key pairs. 2048 bits
// yields 256-byte owner envelopes per spec §6.
const RSAKeyBits = 2048

// sealedPrivateKeyMagic and sealedPrivateKeyVersion frame the
// passphrase-encrypted private key the same way the teacher frames
// encrypted file bodies: a small fixed header in front of salt, nonce,
// and ciphertext.
const (
	sealedPrivateKeyMagic   = "CVPK"
	sealedPrivateKeyVersion = byte(1)
)

// GenerateKeypair generates an RSA-2048 key pair and returns the public
// key as a plain PEM block and the private key as a PEM block whose DER
// payload is AEAD-sealed under a key derived from passphrase.
func GenerateKeypair(passphrase []byte, kdf *PasswordKDF) (pubPEM, privPEM []byte, err error) {
	key, err := rsa.GenerateKey(rand.Reader, RSAKeyBits)
	if err != nil {
		return nil, nil, fmt.Errorf("generate rsa key: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal public key: %w", err)
	}
	pubPEM = pem.EncodeToMemory(&pem.Block{Type: "CRYPTVAULT PUBLIC KEY", Bytes: pubDER})

	privDER := x509.MarshalPKCS1PrivateKey(key)
	sealed, err := sealPrivateKey(privDER, passphrase, kdf)
	if err != nil {
		return nil, nil, fmt.Errorf("seal private key: %w", err)
	}
	privPEM = pem.EncodeToMemory(&pem.Block{Type: "CRYPTVAULT SEALED PRIVATE KEY", Bytes: sealed})

	return pubPEM, privPEM, nil
}

// ReKeyPrivateKey re-seals an already-unwrapped private key under a new
// passphrase, without generating new key material. It is the primitive
// behind UserRegistry.change_password (spec §4.8 step 1): the key pair
// itself never changes, only the passphrase protecting it at rest.
func ReKeyPrivateKey(priv *rsa.PrivateKey, newPassphrase []byte, kdf *PasswordKDF) (pubPEM, privPEM []byte, err error) {
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal public key: %w", err)
	}
	pubPEM = pem.EncodeToMemory(&pem.Block{Type: "CRYPTVAULT PUBLIC KEY", Bytes: pubDER})

	privDER := x509.MarshalPKCS1PrivateKey(priv)
	sealed, err := sealPrivateKey(privDER, newPassphrase, kdf)
	if err != nil {
		return nil, nil, fmt.Errorf("seal private key: %w", err)
	}
	privPEM = pem.EncodeToMemory(&pem.Block{Type: "CRYPTVAULT SEALED PRIVATE KEY", Bytes: sealed})
	return pubPEM, privPEM, nil
}

// sealPrivateKey encrypts DER-encoded key material at rest: a fresh
// salt derives the KDF key, a fresh nonce seals the DER under AES-256-GCM.
// Wire form: magic(4) || version(1) || saltLen(2) || salt || nonce(16) || ciphertext||tag.
func sealPrivateKey(der, passphrase []byte, kdf *PasswordKDF) ([]byte, error) {
	salt, err := kdf.GenerateSalt()
	if err != nil {
		return nil, err
	}
	key, err := kdf.DeriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	nonce, err := GenerateNonce(CipherAES256GCM)
	if err != nil {
		return nil, err
	}
	ciphertext, err := AEADEncrypt(CipherAES256GCM, key, nonce, der)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 4+1+2+len(salt)+len(nonce)+len(ciphertext))
	out = append(out, sealedPrivateKeyMagic...)
	out = append(out, sealedPrivateKeyVersion)
	out = append(out, byte(len(salt)>>8), byte(len(salt)))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// unsealPrivateKey reverses sealPrivateKey, returning DER bytes.
// Decrypt failure (wrong passphrase or tampered file) surfaces
// vaulterrors.AuthFailed, never a silently-empty key.
func unsealPrivateKey(sealed, passphrase []byte, kdf *PasswordKDF) ([]byte, error) {
	if len(sealed) < 4+1+2 {
		return nil, &vaulterrors.EnvelopeMalformedError{Message: "sealed private key too short"}
	}
	if string(sealed[:4]) != sealedPrivateKeyMagic {
		return nil, &vaulterrors.EnvelopeMalformedError{Message: "unrecognized private key magic"}
	}
	if sealed[4] != sealedPrivateKeyVersion {
		return nil, &vaulterrors.EnvelopeMalformedError{Message: "unsupported private key format version"}
	}
	saltLen := int(sealed[5])<<8 | int(sealed[6])
	rest := sealed[7:]
	if len(rest) < saltLen {
		return nil, &vaulterrors.EnvelopeMalformedError{Message: "sealed private key truncated salt"}
	}
	salt := rest[:saltLen]
	rest = rest[saltLen:]

	nonceSize := NonceSize(CipherAES256GCM)
	if len(rest) < nonceSize {
		return nil, &vaulterrors.EnvelopeMalformedError{Message: "sealed private key truncated nonce"}
	}
	nonce := rest[:nonceSize]
	ciphertext := rest[nonceSize:]

	key, err := kdf.DeriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	der, err := AEADDecrypt(CipherAES256GCM, key, nonce, ciphertext)
	if err != nil {
		return nil, vaulterrors.AuthFailed
	}
	return der, nil
}

// LoadPrivateKey reads and unseals a private key PEM file, failing with
// vaulterrors.AuthFailed on a wrong passphrase or tampered file.
func LoadPrivateKey(path string, passphrase []byte, kdf *PasswordKDF) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &vaulterrors.IOError{Op: "read", Path: path, Err: err}
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, &vaulterrors.EnvelopeMalformedError{Path: path, Message: "not a PEM file"}
	}
	der, err := unsealPrivateKey(block.Bytes, passphrase, kdf)
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, &vaulterrors.CryptoError{Kind: "Decode", Op: "parse private key", Err: err}
	}
	return key, nil
}

// LoadPublicKey reads a plaintext public key PEM file.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &vaulterrors.IOError{Op: "read", Path: path, Err: err}
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, &vaulterrors.EnvelopeMalformedError{Path: path, Message: "not a PEM file"}
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, &vaulterrors.CryptoError{Kind: "Decode", Op: "parse public key", Err: err}
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, &vaulterrors.CryptoError{Kind: "BadKey", Op: "parse public key", Err: fmt.Errorf("not an RSA public key")}
	}
	return rsaPub, nil
}

// PKWrap asymmetrically wraps a data key (or any <=48-byte plaintext)
// to pub using RSA-OAEP/SHA-256, an IND-CCA2-secure padding scheme.
func PKWrap(plaintext []byte, pub *rsa.PublicKey) ([]byte, error) {
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
	if err != nil {
		return nil, &vaulterrors.CryptoError{Kind: "BadKey", Op: "pk_wrap", Err: err}
	}
	return ciphertext, nil
}

// PKUnwrap reverses PKWrap. A tampered or mismatched ciphertext
// surfaces vaulterrors.AuthFailed.
func PKUnwrap(ciphertext []byte, priv *rsa.PrivateKey) ([]byte, error) {
	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		return nil, vaulterrors.AuthFailed
	}
	return plaintext, nil
}
