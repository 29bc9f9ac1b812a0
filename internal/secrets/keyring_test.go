package secrets

import (
	"bytes"
	"errors"
	"sync"
	"testing"
)

func unlockedSession(t *testing.T, password string) *Session {
	t.Helper()
	s := NewSession()
	if err := s.SetMasterPassword(password); err != nil {
		t.Fatalf("SetMasterPassword: %v", err)
	}
	return s
}

func TestSetMasterPasswordRejectsEmpty(t *testing.T) {
	s := NewSession()
	if err := s.SetMasterPassword(""); err == nil {
		t.Error("empty master password was accepted")
	}
	if s.HasMasterPassword() {
		t.Error("session reports a password after a rejected set")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	s := unlockedSession(t, "correct horse battery staple")

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"api key", []byte("sk-abc123-def456")},
		{"empty plaintext", []byte{}},
		{"control characters", []byte("line1\nline2\ttab\x00null")},
		{"unicode", []byte("clé secrète 🔑")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := s.Encrypt(tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt: %v", err)
			}
			got, err := s.Decrypt(enc)
			if err != nil {
				t.Fatalf("Decrypt: %v", err)
			}
			if !bytes.Equal(got, tt.plaintext) {
				t.Errorf("round trip = %q, want %q", got, tt.plaintext)
			}
		})
	}
}

// Two encryptions of the same plaintext must not share salt, nonce, or
// ciphertext.
func TestEncryptFreshSaltAndNonce(t *testing.T) {
	s := unlockedSession(t, "password")
	plaintext := []byte("same secret twice")

	a, err := s.Encrypt(plaintext)
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Encrypt(plaintext)
	if err != nil {
		t.Fatal(err)
	}

	if bytes.Equal(a.Salt, b.Salt) {
		t.Error("salt reused across encryptions")
	}
	if bytes.Equal(a.IV, b.IV) {
		t.Error("nonce reused across encryptions")
	}
	if bytes.Equal(a.Ciphertext, b.Ciphertext) {
		t.Error("identical ciphertext for repeated plaintext")
	}
}

func TestDecryptWrongPassword(t *testing.T) {
	enc, err := unlockedSession(t, "right password").Encrypt([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	other := unlockedSession(t, "wrong password")
	if _, err := other.Decrypt(enc); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("wrong password: want ErrDecryptionFailed, got %v", err)
	}
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	s := unlockedSession(t, "password")
	enc, err := s.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	enc.Ciphertext[0] ^= 0xff

	if _, err := s.Decrypt(enc); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("tampered ciphertext: want ErrDecryptionFailed, got %v", err)
	}
}

func TestOperationsWithoutPassword(t *testing.T) {
	s := NewSession()

	if _, err := s.Encrypt([]byte("x")); !errors.Is(err, ErrNoMasterPassword) {
		t.Errorf("Encrypt without password: want ErrNoMasterPassword, got %v", err)
	}
	if _, err := s.Decrypt(Encrypted{}); !errors.Is(err, ErrNoMasterPassword) {
		t.Errorf("Decrypt without password: want ErrNoMasterPassword, got %v", err)
	}
}

func TestClearMasterPassword(t *testing.T) {
	s := unlockedSession(t, "password")
	enc, err := s.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	s.ClearMasterPassword()
	if s.HasMasterPassword() {
		t.Error("session still reports a password after clear")
	}
	if _, err := s.Decrypt(enc); !errors.Is(err, ErrNoMasterPassword) {
		t.Errorf("Decrypt after clear: want ErrNoMasterPassword, got %v", err)
	}

	// Setting the password again restores access to existing payloads.
	if err := s.SetMasterPassword("password"); err != nil {
		t.Fatal(err)
	}
	got, err := s.Decrypt(enc)
	if err != nil {
		t.Fatalf("Decrypt after re-unlock: %v", err)
	}
	if string(got) != "secret" {
		t.Errorf("Decrypt after re-unlock = %q", got)
	}
}

// A Decrypt racing with ClearMasterPassword must either succeed or fail
// with ErrNoMasterPassword; anything else means torn key material.
func TestConcurrentClearAndDecrypt(t *testing.T) {
	s := unlockedSession(t, "password")
	enc, err := s.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	// Iteration counts are kept low: every Decrypt pays the full key
	// derivation cost.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				got, err := s.Decrypt(enc)
				switch {
				case err == nil:
					if string(got) != "secret" {
						t.Errorf("racing Decrypt returned %q", got)
					}
				case errors.Is(err, ErrNoMasterPassword):
					// acceptable outcome after a concurrent clear
				default:
					t.Errorf("racing Decrypt: %v", err)
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 5; j++ {
			s.ClearMasterPassword()
			_ = s.SetMasterPassword("password")
		}
	}()
	wg.Wait()
}
