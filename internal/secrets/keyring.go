// Package secrets protects provider credentials at rest with a key
// derived from a user-held master password.
//
// The derived key lives only inside a Session created at password-set
// time and destroyed at session end; nothing derived from the password is
// ever persisted. Each Encrypt call uses a fresh random salt and nonce,
// so every persisted payload is self-contained: {ciphertext, iv, salt}.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

var (
	// ErrNoMasterPassword indicates no master password is set for the
	// session.
	ErrNoMasterPassword = errors.New("no master password set")

	// ErrDecryptionFailed indicates the authentication tag did not verify:
	// wrong password or corrupted payload. No partial plaintext is ever
	// returned alongside it.
	ErrDecryptionFailed = errors.New("decryption failed")
)

const (
	// pbkdf2Iterations follows the current OWASP recommendation for
	// PBKDF2-HMAC-SHA256.
	pbkdf2Iterations = 210_000
	saltSize         = 16
	keySize          = 32 // AES-256
)

// Encrypted is the persisted form of a protected secret.
type Encrypted struct {
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`
	Salt       []byte `json:"salt"`
}

// Session holds the master secret for one application session.
//
// Session is safe for concurrent use. A Decrypt racing with
// ClearMasterPassword either completes with the secret that was valid at
// call start or fails with ErrNoMasterPassword; it never observes
// half-cleared key material.
type Session struct {
	mu       sync.RWMutex
	password []byte // nil when no password is set
}

// NewSession creates a session with no master password.
func NewSession() *Session {
	return &Session{}
}

// SetMasterPassword installs the master password for this session. The
// symmetric key is derived per payload (fresh salt each time) via
// PBKDF2-SHA256.
func (s *Session) SetMasterPassword(password string) error {
	if password == "" {
		return fmt.Errorf("master password must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	zero(s.password)
	s.password = []byte(password)
	return nil
}

// HasMasterPassword reports whether a master password is currently held.
func (s *Session) HasMasterPassword() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.password != nil
}

// ClearMasterPassword zeroes the held secret. Subsequent Encrypt and
// Decrypt calls fail until the password is set again.
func (s *Session) ClearMasterPassword() {
	s.mu.Lock()
	defer s.mu.Unlock()
	zero(s.password)
	s.password = nil
}

// Encrypt seals plaintext under a key derived from the session password
// and a fresh random salt, using AES-256-GCM.
func (s *Session) Encrypt(plaintext []byte) (Encrypted, error) {
	password, err := s.snapshot()
	if err != nil {
		return Encrypted{}, err
	}
	defer zero(password)

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return Encrypted{}, fmt.Errorf("generating salt: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return Encrypted{}, err
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return Encrypted{}, fmt.Errorf("generating nonce: %w", err)
	}

	return Encrypted{
		Ciphertext: gcm.Seal(nil, iv, plaintext, nil),
		IV:         iv,
		Salt:       salt,
	}, nil
}

// Decrypt opens a payload sealed by Encrypt. It fails with
// ErrDecryptionFailed when the integrity tag does not verify.
func (s *Session) Decrypt(enc Encrypted) ([]byte, error) {
	password, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	defer zero(password)

	gcm, err := newGCM(password, enc.Salt)
	if err != nil {
		return nil, err
	}
	if len(enc.IV) != gcm.NonceSize() {
		return nil, ErrDecryptionFailed
	}

	plaintext, err := gcm.Open(nil, enc.IV, enc.Ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// snapshot copies the password under the read lock so callers work with a
// stable secret even if the session is cleared concurrently.
func (s *Session) snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.password == nil {
		return nil, ErrNoMasterPassword
	}
	cp := make([]byte, len(s.password))
	copy(cp, s.password)
	return cp, nil
}

func newGCM(password, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(password, salt, pbkdf2Iterations, keySize, sha256.New)
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
