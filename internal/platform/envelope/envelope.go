// Package envelope implements the key agreement and payload encryption used
// when health records travel between bridges. Each side publishes an
// ephemeral Curve25519 public key and a random nonce; both sides derive the
// same AES-256-GCM key from the shared secret, so a payload encrypted by the
// sender's material decrypts with the receiver's.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	nonceSize = 32
	saltSize  = 20
	ivSize    = 12
	keySize   = 32
)

// KeyMaterial is one party's half of the key agreement. PrivateKey stays
// local; PublicKey and Nonce are shared with the counterpart in the transfer
// request or response.
type KeyMaterial struct {
	PrivateKey string `json:"-"`
	PublicKey  string `json:"publicKey"`
	Nonce      string `json:"nonce"`
}

// Generate creates fresh key material for a single transfer session.
func Generate() (*KeyMaterial, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(rand.Reader, priv); err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}

	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return &KeyMaterial{
		PrivateKey: base64.StdEncoding.EncodeToString(priv),
		PublicKey:  base64.StdEncoding.EncodeToString(pub),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

// Encrypt seals plaintext with the key derived from the local private key and
// the peer's public key and nonce. Returns base64 ciphertext.
func Encrypt(localPrivateKey, localNonce, peerPublicKey, peerNonce string, plaintext []byte) (string, error) {
	aead, iv, err := deriveAEAD(localPrivateKey, localNonce, peerPublicKey, peerNonce)
	if err != nil {
		return "", err
	}
	sealed := aead.Seal(nil, iv, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens base64 ciphertext produced by the counterpart's Encrypt.
func Decrypt(localPrivateKey, localNonce, peerPublicKey, peerNonce, ciphertext string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	aead, iv, err := deriveAEAD(localPrivateKey, localNonce, peerPublicKey, peerNonce)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt payload: %w", err)
	}
	return plaintext, nil
}

// deriveAEAD computes the session cipher. The two nonces are XORed so both
// sides arrive at the same salt and IV regardless of which role they play;
// the salt feeds HKDF-SHA256 over the X25519 shared secret and the IV is the
// tail of the combined nonce.
func deriveAEAD(localPrivateKey, localNonce, peerPublicKey, peerNonce string) (cipher.AEAD, []byte, error) {
	priv, err := base64.StdEncoding.DecodeString(localPrivateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("decode private key: %w", err)
	}
	pub, err := base64.StdEncoding.DecodeString(peerPublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("decode peer public key: %w", err)
	}
	ln, err := base64.StdEncoding.DecodeString(localNonce)
	if err != nil {
		return nil, nil, fmt.Errorf("decode local nonce: %w", err)
	}
	pn, err := base64.StdEncoding.DecodeString(peerNonce)
	if err != nil {
		return nil, nil, fmt.Errorf("decode peer nonce: %w", err)
	}
	if len(ln) != nonceSize || len(pn) != nonceSize {
		return nil, nil, fmt.Errorf("nonce must be %d bytes", nonceSize)
	}

	secret, err := curve25519.X25519(priv, pub)
	if err != nil {
		return nil, nil, fmt.Errorf("compute shared secret: %w", err)
	}

	combined := make([]byte, nonceSize)
	for i := range combined {
		combined[i] = ln[i] ^ pn[i]
	}
	salt := combined[:saltSize]
	iv := combined[nonceSize-ivSize:]

	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, nil), key); err != nil {
		return nil, nil, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("init gcm: %w", err)
	}
	return aead, iv, nil
}
