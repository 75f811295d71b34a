package seed

// Manager keeps one unlocked BIP39 seed in memory
type Manager interface {
	// Initialize derives the seed from mnemonic and password, replacing any previous seed
	Initialize(mnemonic string, password string) error

	// Seed returns a copy of the seed, nil before Initialize
	Seed() []byte

	// IsInitialized reports whether a seed is held
	IsInitialized() bool

	// Clear zeroes the seed
	Clear()
}
