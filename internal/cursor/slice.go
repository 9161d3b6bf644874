package cursor

import "context"

// SliceSource is a Source over an in-memory slice. Backends that load a
// result set eagerly (and tests) use it.
type SliceSource[T any] struct {
	items  []T
	pos    int
	closed bool
}

// FromSlice returns a Source yielding items in order.
func FromSlice[T any](items []T) *SliceSource[T] {
	return &SliceSource[T]{items: items}
}

// Next implements Source.
func (s *SliceSource[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}
	if s.closed || s.pos >= len(s.items) {
		return zero, false, nil
	}
	item := s.items[s.pos]
	s.pos++
	return item, true, nil
}

// Close implements Source.
func (s *SliceSource[T]) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *SliceSource[T]) Closed() bool { return s.closed }

// Map adapts a Source by converting each item with fn. Conversion errors
// end the stream with that error.
func Map[S, T any](src Source[S], fn func(S) (T, error)) Source[T] {
	return &mapped[S, T]{src: src, fn: fn}
}

type mapped[S, T any] struct {
	src Source[S]
	fn  func(S) (T, error)
}

func (m *mapped[S, T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	item, ok, err := m.src.Next(ctx)
	if err != nil || !ok {
		return zero, ok, err
	}
	out, err := m.fn(item)
	if err != nil {
		return zero, false, err
	}
	return out, true, nil
}

func (m *mapped[S, T]) Close() error { return m.src.Close() }
