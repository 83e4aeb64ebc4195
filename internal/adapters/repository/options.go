package repository

// Option applies a configuration option to the MemoryStore.
type Option func(*MemoryStore)

// WithMaxPerMachine caps the assessments kept per machine, dropping the
// oldest first. Zero or negative keeps everything.
func WithMaxPerMachine(n int) Option {
	return func(s *MemoryStore) {
		s.maxPerMachine = n
	}
}
