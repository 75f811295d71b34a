package seed

import (
	"crypto/sha512"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 2048 // BIP39
	pbkdf2KeyLength  = 64
)

type manager struct {
	mu   sync.RWMutex
	seed []byte
}

// NewManager creates an empty seed manager
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func NewManager() Manager {
	return &manager{}
}

func (m *manager) Initialize(mnemonic string, password string) error {
	seed, err := FromMnemonic(mnemonic, password)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	zero(m.seed)
	m.seed = seed
	return nil
}

func (m *manager) Seed() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.seed == nil {
		return nil
	}
	out := make([]byte, len(m.seed))
	copy(out, m.seed)
	return out
}

func (m *manager) IsInitialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.seed != nil
}

func (m *manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	zero(m.seed)
	m.seed = nil
}

// FromMnemonic converts a mnemonic to its BIP39 seed:
// PBKDF2-HMAC-SHA512(mnemonic, "mnemonic"+password, 2048, 64).
// Words are re-joined with single spaces; the word list is not checked.
func FromMnemonic(mnemonic string, password string) ([]byte, error) {
	words := strings.Fields(mnemonic)
	if len(words) == 0 {
		return nil, errors.New("empty mnemonic")
	}
	//nolint:mnd // BIP39 mnemonics have 12 to 24 words in steps of 3
	if len(words)%3 != 0 || len(words) < 12 || len(words) > 24 {
		return nil, errors.Errorf("mnemonic must have 12, 15, 18, 21 or 24 words, got %d", len(words))
	}

	return pbkdf2.Key(
		[]byte(strings.Join(words, " ")),
		[]byte("mnemonic"+password),
		pbkdf2Iterations,
		pbkdf2KeyLength,
		sha512.New,
	), nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
