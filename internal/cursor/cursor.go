package cursor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/dsq/internal/dserr"
)

// Source is a forward-only result stream owned by a backend.
//
// Next returns the next item, or ok=false at the end of the stream. Close
// releases the stream; it is called exactly once by the cursor.
type Source[T any] interface {
	Next(ctx context.Context) (item T, ok bool, err error)
	Close() error
}

// State is the lifecycle state of a cursor.
type State int

const (
	// Unopened: no item has been requested yet.
	Unopened State = iota
	// StreamingSync: bound to MoveNext.
	StreamingSync
	// StreamingAsync: bound to MoveNextAsync and its producer goroutine.
	StreamingAsync
	// Closed: the source is released; only IsLastPage remains usable.
	Closed
)

func (s State) String() string {
	switch s {
	case Unopened:
		return "unopened"
	case StreamingSync:
		return "streaming-sync"
	case StreamingAsync:
		return "streaming-async"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Option configures a cursor.
type Option func(*config)

type config struct {
	closers []io.Closer
}

// WithCloser attaches a resource released together with the source, such
// as the statement or connection the source reads from.
func WithCloser(c io.Closer) Option {
	return func(cfg *config) {
		if c != nil {
			cfg.closers = append(cfg.closers, c)
		}
	}
}

type result[T any] struct {
	item T
	err  error
}

// Cursor is a forward-only iterator over a Source.
//
// The first MoveNext or MoveNextAsync call binds the cursor to that style
// of iteration; using the other one afterwards is an INVALID_OPERATION
// error and any use after Close is OBJECT_DISPOSED.
//
// Cursors built with WithLastPage know the requested page size. The backend
// fetches one extra item; when that item arrives the cursor reports "not
// the last page", closes, and ends the iteration without yielding it. When
// the source ends first the cursor reports "last page". Either way the
// OnLastPage callbacks fire exactly once.
//
// A Cursor is used by one goroutine at a time.
type Cursor[T any] struct {
	ctx     context.Context
	src     Source[T]
	closers []io.Closer
	state   State
	current T

	marker    bool
	remaining int
	lastKnown bool
	isLast    bool
	onLast    []func(bool)

	// Async producer.
	items  chan result[T]
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New returns a plain cursor over src. Plain cursors do not track pages:
// the last-page members report UNSUPPORTED.
func New[T any](ctx context.Context, src Source[T], opts ...Option) *Cursor[T] {
	c := newCursor(ctx, src, opts)
	c.remaining = math.MaxInt
	return c
}

// WithLastPage returns a cursor that yields at most take items (negative
// means unbounded) and reports whether they were the last ones. The source
// should hold up to take+1 items.
func WithLastPage[T any](ctx context.Context, src Source[T], take int, opts ...Option) *Cursor[T] {
	c := newCursor(ctx, src, opts)
	c.marker = true
	c.remaining = take
	if take < 0 {
		c.remaining = math.MaxInt
	}
	return c
}

func newCursor[T any](ctx context.Context, src Source[T], opts []Option) *Cursor[T] {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Cursor[T]{ctx: ctx, src: src, closers: cfg.closers}
}

// State returns the lifecycle state.
func (c *Cursor[T]) State() State { return c.state }

// Current returns the item of the last successful advance.
func (c *Cursor[T]) Current() T { return c.current }

// MoveNext advances synchronously, reading the source on the calling
// goroutine under the cursor's context.
func (c *Cursor[T]) MoveNext() (bool, error) {
	switch c.state {
	case Closed:
		return false, disposed("move next")
	case StreamingAsync:
		return false, dserr.New(dserr.CodeInvalidOperation, "move next", "cursor is already iterating asynchronously")
	case Unopened:
		c.state = StreamingSync
	}

	if err := c.ctx.Err(); err != nil {
		c.Close()
		return false, err
	}
	item, ok, err := c.src.Next(c.ctx)
	if err != nil {
		c.Close()
		return false, fmt.Errorf("cursor next: %w", err)
	}
	return c.advance(item, ok), nil
}

// MoveNextAsync advances using a producer goroutine that reads the source
// ahead of the caller. ctx bounds this call only; cancelling it closes the
// cursor and returns the context error.
func (c *Cursor[T]) MoveNextAsync(ctx context.Context) (bool, error) {
	switch c.state {
	case Closed:
		return false, disposed("move next async")
	case StreamingSync:
		return false, dserr.New(dserr.CodeInvalidOperation, "move next async", "cursor is already iterating synchronously")
	case Unopened:
		c.state = StreamingAsync
		c.startProducer()
	}

	select {
	case <-ctx.Done():
		c.Close()
		return false, ctx.Err()
	case r, open := <-c.items:
		if !open {
			// The producer also stops when the cursor's own context ends.
			if err := c.ctx.Err(); err != nil {
				c.Close()
				return false, err
			}
			return c.advance(c.current, false), nil
		}
		if r.err != nil {
			c.Close()
			return false, fmt.Errorf("cursor next: %w", r.err)
		}
		return c.advance(r.item, true), nil
	}
}

func (c *Cursor[T]) startProducer() {
	pctx, cancel := context.WithCancel(c.ctx)
	g, gctx := errgroup.WithContext(pctx)
	items := make(chan result[T])
	c.items, c.cancel, c.group = items, cancel, g

	src := c.src
	g.Go(func() error {
		defer close(items)
		for {
			item, ok, err := src.Next(gctx)
			if err == nil && !ok {
				return nil
			}
			select {
			case items <- result[T]{item: item, err: err}:
			case <-gctx.Done():
				return gctx.Err()
			}
			if err != nil {
				return err
			}
		}
	})
}

// advance applies the page accounting to one step of the source.
func (c *Cursor[T]) advance(item T, ok bool) bool {
	if !ok {
		c.finish(c.remaining >= 0)
		return false
	}
	c.remaining--
	if c.remaining < 0 {
		c.finish(false)
		return false
	}
	c.current = item
	return true
}

func (c *Cursor[T]) finish(isLast bool) {
	if c.marker {
		c.lastKnown = true
		c.isLast = isLast
		callbacks := c.onLast
		c.onLast = nil
		for _, fn := range callbacks {
			fn(isLast)
		}
	}
	c.Close()
}

// Close releases the source and attached closers and drops callbacks. It
// is idempotent and returns the first release error.
func (c *Cursor[T]) Close() error {
	if c.state == Closed {
		return nil
	}
	c.state = Closed
	c.onLast = nil

	if c.cancel != nil {
		c.cancel()
		// Drain so a producer blocked on send observes cancellation.
		for range c.items {
		}
		_ = c.group.Wait()
		c.cancel, c.items, c.group = nil, nil, nil
	}

	var errs []error
	if c.src != nil {
		errs = append(errs, c.src.Close())
		c.src = nil
	}
	for _, cl := range c.closers {
		errs = append(errs, cl.Close())
	}
	c.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close cursor: %w", err)
	}
	return nil
}

// ObtainsLastPage reports whether the cursor tracks the last page.
func (c *Cursor[T]) ObtainsLastPage() bool { return c.marker }

// IsLastPage reports whether the items yielded were the last ones. It is
// only known once the cursor closed itself at the end of the page.
func (c *Cursor[T]) IsLastPage() (bool, error) {
	if !c.marker {
		return false, dserr.Unsupported("is last page", "cursor does not track pages")
	}
	if !c.lastKnown {
		if c.state == Closed {
			return false, dserr.New(dserr.CodeInvalidOperation, "is last page", "cursor was closed before the end of the page")
		}
		return false, dserr.New(dserr.CodeInvalidOperation, "is last page", "not known until the page is read")
	}
	return c.isLast, nil
}

// OnLastPage registers fn to run once when the end of the page is known.
func (c *Cursor[T]) OnLastPage(fn func(isLast bool)) error {
	if !c.marker {
		return dserr.Unsupported("on last page", "cursor does not track pages")
	}
	if c.state == Closed {
		return disposed("on last page")
	}
	c.onLast = append(c.onLast, fn)
	return nil
}

// ObtainsTotalCount reports whether the cursor can report a total count.
// No cursor in this package can.
func (c *Cursor[T]) ObtainsTotalCount() bool { return false }

// TotalCount is not supported.
func (c *Cursor[T]) TotalCount() (int64, error) {
	return 0, dserr.Unsupported("total count", "cursor does not report a total count")
}

// OnTotalCount is not supported.
func (c *Cursor[T]) OnTotalCount(func(int64)) error {
	return dserr.Unsupported("on total count", "cursor does not report a total count")
}

// All iterates the cursor synchronously. The cursor is closed when the loop
// ends, breaks or the yielded error is returned.
func (c *Cursor[T]) All() iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		defer c.Close()
		for {
			ok, err := c.MoveNext()
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			if !ok || !yield(c.current, nil) {
				return
			}
		}
	}
}

// Collect reads the remaining items into a slice and closes the cursor.
func Collect[T any](c *Cursor[T]) ([]T, error) {
	var out []T
	for item, err := range c.All() {
		if err != nil {
			return out, err
		}
		out = append(out, item)
	}
	return out, nil
}

func disposed(op string) error {
	return dserr.New(dserr.CodeObjectDisposed, op, "cursor is closed")
}
