package idgen

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/roach88/dsq/internal/dserr"
)

// unset is the counter value before anything was established. No id can
// take this value.
const unset = math.MinInt64

// Counter holds the last id handed out for one document container.
type Counter struct {
	v atomic.Int64
}

// NewCounter returns an isolated, unset counter.
func NewCounter() *Counter {
	c := &Counter{}
	c.v.Store(unset)
	return c
}

// Load returns the last id, or ok=false while the counter is unset.
func (c *Counter) Load() (last int64, ok bool) {
	v := c.v.Load()
	return v, v != unset
}

// Key identifies a process-wide counter. Namespace is the container the
// documents are stored in, so two containers holding the same document
// type count separately.
type Key struct {
	Document  string
	Namespace string
}

var shared sync.Map // Key -> *Counter

// Shared returns the process-wide counter for key, creating it unset.
func Shared(key Key) *Counter {
	if c, ok := shared.Load(key); ok {
		return c.(*Counter)
	}
	c, _ := shared.LoadOrStore(key, NewCounter())
	return c.(*Counter)
}

// ResetShared forgets every process-wide counter. Only for process start
// and tests.
func ResetShared() {
	shared.Clear()
}

// ExtremeFunc returns the largest (max) or smallest id in the backing
// store, or nil when it holds no documents.
type ExtremeFunc func(ctx context.Context, max bool) (any, error)

// Config configures a Sequential generator.
type Config struct {
	// StartAt is the first id of an empty store.
	StartAt int64
	// Step is added per id; negative steps count down. Must not be zero.
	Step int64
	// MaxAttempts bounds insert retries; zero means DefaultMaxAttempts.
	MaxAttempts int
}

// Sequential hands out StartAt, StartAt+Step, ... optimistically.
//
// CRITICAL: the counter is only moved with compare-and-swap. When several
// callers establish an unset counter at once, one CAS wins and returns the
// established id; the others continue from it, so no id is handed out
// twice by one process.
type Sequential struct {
	cfg     Config
	counter *Counter
	extreme ExtremeFunc
}

// NewSequential validates cfg and returns a generator over counter.
func NewSequential(cfg Config, counter *Counter, extreme ExtremeFunc) (*Sequential, error) {
	const op = "new sequential id generator"
	if cfg.Step == 0 {
		return nil, dserr.Configuration(op, "step must not be zero")
	}
	if cfg.StartAt == unset {
		return nil, dserr.Configuration(op, "start %d is reserved", cfg.StartAt)
	}
	if cfg.MaxAttempts < 0 {
		return nil, dserr.Configuration(op, "max attempts must be at least 1, got %d", cfg.MaxAttempts)
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if counter == nil {
		return nil, dserr.Configuration(op, "no counter")
	}
	if extreme == nil {
		return nil, dserr.Configuration(op, "no extreme id query")
	}
	return &Sequential{cfg: cfg, counter: counter, extreme: extreme}, nil
}

// MaxAttempts implements Generator.
func (s *Sequential) MaxAttempts() int { return s.cfg.MaxAttempts }

// Generate implements Generator. It returns an int64.
//
// The store is queried when the counter is unset, or when current equals
// the id the counter would hand out next: then another writer already used
// it and the counter is behind.
func (s *Sequential) Generate(ctx context.Context, current any) (any, error) {
	step := s.cfg.Step
	last := s.counter.v.Load()

	cur, hasCur := asInt64(current)
	if last == unset || (hasCur && !overflows(last, step) && cur == last+step) {
		next, err := s.establish(ctx)
		if err != nil {
			return nil, err
		}
		if s.counter.v.CompareAndSwap(last, next) {
			return next, nil
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		last = s.counter.v.Load()
		if last == unset {
			// Reset underneath us; establish again.
			return s.Generate(ctx, nil)
		}
		if overflows(last, step) {
			return nil, dserr.New(dserr.CodeOverflow, "generate id", "%d + %d leaves the int64 range", last, step)
		}
		next := last + step
		if s.counter.v.CompareAndSwap(last, next) {
			return next, nil
		}
	}
}

// establish computes the id following the store's extreme.
func (s *Sequential) establish(ctx context.Context) (int64, error) {
	raw, err := s.extreme(ctx, s.cfg.Step > 0)
	if err != nil {
		return 0, fmt.Errorf("query extreme id: %w", err)
	}
	if raw == nil {
		return s.cfg.StartAt, nil
	}
	ext, ok := asInt64(raw)
	if !ok {
		return 0, fmt.Errorf("query extreme id: unexpected %T id", raw)
	}
	if overflows(ext, s.cfg.Step) {
		return 0, dserr.New(dserr.CodeOverflow, "generate id", "%d + %d leaves the int64 range", ext, s.cfg.Step)
	}
	return ext + s.cfg.Step, nil
}

// overflows reports whether v+step leaves the int64 range or lands on the
// unset sentinel.
func overflows(v, step int64) bool {
	if step > 0 {
		return v > math.MaxInt64-step
	}
	return v <= unset-step
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || n < math.MinInt64 || n >= math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}
