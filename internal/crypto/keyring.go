// Package crypto seals wallet private keys at rest and derives the
// synthetic transaction references recorded for simulated trades.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	currentVersion   = 1
)

// ErrNoPassphrase is returned when a KeyRing is used without a passphrase.
var ErrNoPassphrase = errors.New("crypto: key passphrase is not configured")

// envelope is the JSON document stored (base64 encoded) in
// wallets.encrypted_private_key.
type envelope struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyRing seals and opens wallet private keys with a process-wide
// passphrase using PBKDF2-HMAC-SHA256 and AES-256-GCM. Derived keys are
// cached per salt so repeated opens of the same wallet stay cheap.
type KeyRing struct {
	passphrase []byte
	iterations int

	mu      sync.Mutex
	derived map[string][]byte
}

// NewKeyRing creates a KeyRing. An empty passphrase yields a KeyRing whose
// Seal and Open fail with ErrNoPassphrase.
func NewKeyRing(passphrase string) *KeyRing {
	return newKeyRing(passphrase, pbkdf2Iterations)
}

func newKeyRing(passphrase string, iterations int) *KeyRing {
	return &KeyRing{
		passphrase: []byte(passphrase),
		iterations: iterations,
		derived:    make(map[string][]byte),
	}
}

func (k *KeyRing) key(salt []byte) []byte {
	k.mu.Lock()
	defer k.mu.Unlock()
	if dk, ok := k.derived[string(salt)]; ok {
		return dk
	}
	dk := pbkdf2.Key(k.passphrase, salt, k.iterations, aesKeyLen, sha256.New)
	k.derived[string(salt)] = dk
	return dk
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}

// Seal encrypts a private key and returns the storable envelope.
func (k *KeyRing) Seal(privateKey string) (string, error) {
	if len(k.passphrase) == 0 {
		return "", ErrNoPassphrase
	}
	if privateKey == "" {
		return "", errors.New("crypto: private key must not be empty")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := newGCM(k.key(salt))
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: generating nonce: %w", err)
	}

	raw, err := json.Marshal(envelope{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, []byte(privateKey), nil)),
	})
	if err != nil {
		return "", fmt.Errorf("crypto: encoding envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Open decrypts an envelope produced by Seal.
func (k *KeyRing) Open(sealed string) (string, error) {
	if len(k.passphrase) == 0 {
		return "", ErrNoPassphrase
	}

	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding envelope: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("crypto: parsing envelope: %w", err)
	}
	if env.Version != currentVersion {
		return "", fmt.Errorf("crypto: unsupported envelope version %d", env.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(k.key(salt))
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("crypto: nonce has %d bytes, want %d", len(nonce), gcm.NonceSize())
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong passphrase?): %w", err)
	}
	return string(plaintext), nil
}
