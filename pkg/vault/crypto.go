package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// Algorithm identifiers persisted with every record. The stored layout
// must remain stable across versions so old records stay decryptable.
const (
	// AlgorithmAESGCM is the authenticated-encryption cipher.
	AlgorithmAESGCM = "aes-256-gcm"

	// KDFPBKDF2SHA256 is the key-derivation function.
	KDFPBKDF2SHA256 = "pbkdf2-sha256"
)

// DefaultKDFIterations is the PBKDF2 iteration count for new records.
const DefaultKDFIterations = 600_000

const (
	saltSize  = 16
	keySize   = 32
	nonceSize = 12
	tagSize   = 16
)

// KDFParams are the key-derivation parameters stored with a record.
type KDFParams struct {
	Algorithm  string `json:"algorithm"`
	Iterations int    `json:"iterations"`
	Salt       []byte `json:"salt"`
}

// deriveKey derives a per-record key from the master key and the record's
// salt.
func deriveKey(master []byte, params KDFParams) ([]byte, error) {
	if params.Algorithm != KDFPBKDF2SHA256 {
		return nil, fmt.Errorf("unsupported key derivation algorithm %q", params.Algorithm)
	}
	if params.Iterations <= 0 {
		return nil, fmt.Errorf("invalid key derivation iteration count %d", params.Iterations)
	}
	return pbkdf2.Key(master, params.Salt, params.Iterations, keySize, sha256.New), nil
}

// seal encrypts plaintext with AES-256-GCM under a freshly derived key,
// returning the ciphertext, nonce, and authentication tag separately.
func seal(master, plaintext []byte, iterations int) (ciphertext, nonce, tag []byte, params KDFParams, err error) {
	salt := make([]byte, saltSize)
	if _, err = rand.Read(salt); err != nil {
		return nil, nil, nil, KDFParams{}, fmt.Errorf("failed to generate salt: %w", err)
	}
	params = KDFParams{
		Algorithm:  KDFPBKDF2SHA256,
		Iterations: iterations,
		Salt:       salt,
	}

	key, err := deriveKey(master, params)
	if err != nil {
		return nil, nil, nil, KDFParams{}, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, nil, KDFParams{}, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, nil, KDFParams{}, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce = make([]byte, nonceSize)
	if _, err = rand.Read(nonce); err != nil {
		return nil, nil, nil, KDFParams{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	ciphertext = sealed[:len(sealed)-tagSize]
	tag = sealed[len(sealed)-tagSize:]
	return ciphertext, nonce, tag, params, nil
}

// open decrypts a record's ciphertext, verifying the authentication tag.
// Any tampering with ciphertext or tag causes a hard failure; altered
// plaintext is never returned.
func open(master, ciphertext, nonce, tag []byte, params KDFParams) ([]byte, error) {
	key, err := deriveKey(master, params)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	return plaintext, nil
}
