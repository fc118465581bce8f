package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/scrypt"
)

// Envelope layout for secrets encrypted at rest (TOTP secrets).
//
// Current format is four colon-separated hex fields:
//
//	salt : iv : authTag : ciphertext
//
// where a fresh random salt is combined with the master key via scrypt to
// derive the AES-256-GCM key. A legacy three-field format (iv:authTag:
// ciphertext) used a fixed salt and must still decrypt; only old rows carry
// it, Encrypt always writes the four-field form.
const (
	envelopeSaltSize = 16
	envelopeKeySize  = 32

	// scrypt cost parameters. N must be a power of two; 2^15 keeps
	// derivation slow enough to matter without stalling login flows.
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// legacySalt is the implicit salt of the three-field envelope format.
const legacySalt = "salt"

var (
	// ErrInvalidEnvelope reports an envelope with a field count other than 3 or 4.
	ErrInvalidEnvelope = errors.New("cryptox: invalid envelope format")
	// ErrDecryptFailed reports an authentication failure (tampered data or wrong key).
	ErrDecryptFailed = errors.New("cryptox: decryption failed")
)

// EncryptSecret encrypts plaintext under masterKey and returns the
// four-field envelope. Two encryptions of the same plaintext produce
// different envelopes (random salt and nonce) that both decrypt correctly.
func EncryptSecret(plaintext string, masterKey []byte) (string, error) {
	salt := make([]byte, envelopeSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("cryptox: failed to generate salt: %w", err)
	}

	gcm, err := deriveGCM(masterKey, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("cryptox: failed to generate nonce: %w", err)
	}

	// Seal appends ciphertext||tag; split the tag out so it can occupy
	// its own envelope field.
	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	tagStart := len(sealed) - gcm.Overhead()
	ciphertext, tag := sealed[:tagStart], sealed[tagStart:]

	return strings.Join([]string{
		hex.EncodeToString(salt),
		hex.EncodeToString(nonce),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	}, ":"), nil
}

// DecryptSecret decrypts a four-field or legacy three-field envelope.
// It fails closed: tampered ciphertext, a wrong key, and any field count
// other than 3 or 4 all return an error.
func DecryptSecret(envelope string, masterKey []byte) (string, error) {
	fields := strings.Split(envelope, ":")

	var saltHex, ivHex, tagHex, ctHex string
	switch len(fields) {
	case 4:
		saltHex, ivHex, tagHex, ctHex = fields[0], fields[1], fields[2], fields[3]
	case 3:
		saltHex = hex.EncodeToString([]byte(legacySalt))
		ivHex, tagHex, ctHex = fields[0], fields[1], fields[2]
	default:
		return "", ErrInvalidEnvelope
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", ErrInvalidEnvelope
	}
	nonce, err := hex.DecodeString(ivHex)
	if err != nil {
		return "", ErrInvalidEnvelope
	}
	tag, err := hex.DecodeString(tagHex)
	if err != nil {
		return "", ErrInvalidEnvelope
	}
	ciphertext, err := hex.DecodeString(ctHex)
	if err != nil {
		return "", ErrInvalidEnvelope
	}

	gcm, err := deriveGCM(masterKey, salt)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", ErrInvalidEnvelope
	}

	plaintext, err := gcm.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", ErrDecryptFailed
	}

	return string(plaintext), nil
}

// deriveGCM stretches masterKey with the given salt into an AES-256-GCM AEAD.
func deriveGCM(masterKey, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(masterKey, salt, scryptN, scryptR, scryptP, envelopeKeySize)
	if err != nil {
		return nil, fmt.Errorf("cryptox: key derivation failed: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptox: failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptox: failed to create GCM: %w", err)
	}

	return gcm, nil
}

var (
	masterKeyOnce sync.Once
	masterKey     []byte
	masterKeyErr  error
	masterKeyPath string
)

// SetMasterKeyPath configures where to load the envelope master key from.
// Must be called before the first MasterKey call.
func SetMasterKeyPath(path string) {
	masterKeyPath = path
}

// MasterKey returns the process-wide envelope master key, loading it on
// first use from (in order): the configured file, the AUTH_MASTER_KEY
// environment variable, or an ephemeral random key for development.
// The raw material is normalised to 32 bytes with SHA-256.
func MasterKey() ([]byte, error) {
	masterKeyOnce.Do(func() {
		masterKey, masterKeyErr = loadMasterKey()
	})
	return masterKey, masterKeyErr
}

func loadMasterKey() ([]byte, error) {
	var material []byte

	switch {
	case masterKeyPath != "":
		data, err := os.ReadFile(masterKeyPath)
		if err != nil {
			return nil, fmt.Errorf("cryptox: failed to read master key file: %w", err)
		}
		material = data
	case os.Getenv("AUTH_MASTER_KEY") != "":
		material = []byte(os.Getenv("AUTH_MASTER_KEY"))
	default:
		// Development fallback. Secrets encrypted under an ephemeral key
		// will not survive a restart.
		material = make([]byte, envelopeKeySize)
		if _, err := rand.Read(material); err != nil {
			return nil, fmt.Errorf("cryptox: failed to generate ephemeral master key: %w", err)
		}
	}

	sum := sha256.Sum256(material)
	return sum[:], nil
}

// ResetMasterKeyForTesting resets the master key singleton for testing purposes.
// This should ONLY be used in tests.
func ResetMasterKeyForTesting() {
	masterKeyOnce = sync.Once{}
	masterKey = nil
	masterKeyErr = nil
}
