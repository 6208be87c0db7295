package tcache

import (
	"time"

	"github.com/krisalay/tcache/internal/evictor"
	"github.com/krisalay/tcache/internal/expiry"
	"github.com/krisalay/tcache/internal/logging"
)

// Config holds the resolved settings for a Cache after every Option has
// been applied. Callers configure a Cache through Option values passed to
// New rather than constructing a Config directly.
type Config struct {
	stripes int

	capacity      int64
	evictionKind  evictor.Kind
	sweepInterval time.Duration
	sampleSize    int

	expiryPolicy expiry.Policy

	loader Loader
	writer Writer

	logger logging.Logger
}

func defaultConfig() *Config {
	return &Config{
		stripes:       64,
		capacity:      0,
		evictionKind:  evictor.LFU,
		sweepInterval: 30 * time.Second,
		sampleSize:    20,
		expiryPolicy:  expiry.Eternal{},
		logger:        logging.NewNoop(),
	}
}

// Option configures a Cache at construction time.
type Option func(*Config)

// WithCapacity bounds the cache to at most n entries, evicting via the
// configured eviction policy once exceeded. Zero (the default) disables
// capacity-based eviction entirely.
func WithCapacity(n int64) Option {
	return func(c *Config) { c.capacity = n }
}

// WithEvictionPolicy selects the victim-selection strategy used once the
// cache is over its configured capacity.
func WithEvictionPolicy(kind evictor.Kind) Option {
	return func(c *Config) { c.evictionKind = kind }
}

// WithStripes sets the number of internal lock stripes the Store uses,
// rounded up to the next power of two. Higher stripe counts reduce
// contention between unrelated keys at the cost of memory.
func WithStripes(n int) Option {
	return func(c *Config) { c.stripes = n }
}

// WithSweepInterval sets how often the background evictor samples the
// store for already-expired entries. Zero disables proactive sweeping;
// lazy expiry on read still applies.
func WithSweepInterval(d time.Duration) Option {
	return func(c *Config) { c.sweepInterval = d }
}

// WithSweepSampleSize bounds how many keys a single sweep tick inspects.
func WithSweepSampleSize(n int) Option {
	return func(c *Config) { c.sampleSize = n }
}

// WithExpiryPolicy sets the ExpirationPolicy consulted on create/update/
// access. The default is expiry.Eternal{} (entries never expire).
func WithExpiryPolicy(p expiry.Policy) Option {
	return func(c *Config) { c.expiryPolicy = p }
}

// WithTTL is shorthand for WithExpiryPolicy(expiry.CreatedTTL{TTL: d}): a
// fixed deadline set at creation and never moved.
func WithTTL(d time.Duration) Option {
	return WithExpiryPolicy(expiry.CreatedTTL{TTL: d})
}

// WithSlidingTTL is shorthand for WithExpiryPolicy(expiry.AccessedTTL{TTL: d}):
// every read or write pushes the deadline d further out.
func WithSlidingTTL(d time.Duration) Option {
	return WithExpiryPolicy(expiry.AccessedTTL{TTL: d})
}

// WithLoader configures read-through loading on a Get miss.
func WithLoader(l Loader) Option {
	return func(c *Config) { c.loader = l }
}

// WithWriter configures synchronous write-through persistence.
func WithWriter(w Writer) Option {
	return func(c *Config) { c.writer = w }
}

// WithLogger sets the logger used for writer failures during evictor-
// initiated removals, listener panics, and dropped listener events. The
// default discards everything; use logging.NewSlog() for a slog-backed
// implementation.
func WithLogger(l logging.Logger) Option {
	return func(c *Config) { c.logger = l }
}
