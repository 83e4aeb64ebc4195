package dedupe

// Option applies a configuration option to the in-memory ledger.
type Option func(*ledger)

// WithMaxSize bounds the number of remembered keys. Once full, the oldest
// key is forgotten first. Zero or negative means unbounded.
func WithMaxSize(maxSize int) Option {
	return func(d *ledger) {
		d.maxKeys = maxSize
	}
}
