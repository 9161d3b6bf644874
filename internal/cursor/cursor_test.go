package cursor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dsq/internal/dserr"
)

func ints(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// drainSync reads with MoveNext until the cursor ends.
func drainSync(t *testing.T, c *Cursor[int]) []int {
	t.Helper()
	var got []int
	for {
		ok, err := c.MoveNext()
		require.NoError(t, err)
		if !ok {
			return got
		}
		got = append(got, c.Current())
	}
}

func drainAsync(t *testing.T, c *Cursor[int]) []int {
	t.Helper()
	var got []int
	for {
		ok, err := c.MoveNextAsync(context.Background())
		require.NoError(t, err)
		if !ok {
			return got
		}
		got = append(got, c.Current())
	}
}

func TestLastPage_Marker(t *testing.T) {
	const pageSize = 3

	tests := []struct {
		name     string
		rows     int
		wantRows []int
		wantLast bool
	}{
		{name: "exactly one page", rows: pageSize, wantRows: []int{1, 2, 3}, wantLast: true},
		{name: "one row more than a page", rows: pageSize + 1, wantRows: []int{1, 2, 3}, wantLast: false},
		{name: "short page", rows: 1, wantRows: []int{1}, wantLast: true},
		{name: "empty", rows: 0, wantRows: nil, wantLast: true},
	}

	drains := map[string]func(*testing.T, *Cursor[int]) []int{
		"sync":  drainSync,
		"async": drainAsync,
	}

	for _, tt := range tests {
		for mode, drain := range drains {
			t.Run(tt.name+"/"+mode, func(t *testing.T) {
				src := FromSlice(ints(tt.rows))
				c := WithLastPage(context.Background(), src, pageSize)

				var fired []bool
				require.NoError(t, c.OnLastPage(func(isLast bool) { fired = append(fired, isLast) }))

				assert.Equal(t, tt.wantRows, drain(t, c))
				assert.Equal(t, []bool{tt.wantLast}, fired)

				isLast, err := c.IsLastPage()
				require.NoError(t, err)
				assert.Equal(t, tt.wantLast, isLast)
				assert.Equal(t, Closed, c.State())
				assert.True(t, src.Closed())
			})
		}
	}
}

func TestLastPage_Unbounded(t *testing.T) {
	c := WithLastPage(context.Background(), FromSlice(ints(5)), -1)
	assert.Equal(t, ints(5), drainSync(t, c))
	isLast, err := c.IsLastPage()
	require.NoError(t, err)
	assert.True(t, isLast)
}

func TestIsLastPage_BeforeEnd(t *testing.T) {
	c := WithLastPage(context.Background(), FromSlice(ints(5)), 2)
	_, err := c.IsLastPage()
	assert.True(t, dserr.IsUsage(err))

	ok, err := c.MoveNext()
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, c.Close())

	_, err = c.IsLastPage()
	assert.ErrorContains(t, err, "closed before the end of the page")
}

func TestMixingIterationStyles(t *testing.T) {
	c := New(context.Background(), FromSlice(ints(3)))
	_, err := c.MoveNext()
	require.NoError(t, err)

	_, err = c.MoveNextAsync(context.Background())
	require.Error(t, err)
	assert.Equal(t, dserr.CodeInvalidOperation, dserr.CodeOf(err))

	a := New(context.Background(), FromSlice(ints(3)))
	defer a.Close()
	_, err = a.MoveNextAsync(context.Background())
	require.NoError(t, err)
	_, err = a.MoveNext()
	assert.Equal(t, dserr.CodeInvalidOperation, dserr.CodeOf(err))
}

func TestUseAfterClose(t *testing.T) {
	c := New(context.Background(), FromSlice(ints(3)))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.MoveNext()
	assert.Equal(t, dserr.CodeObjectDisposed, dserr.CodeOf(err))
	_, err = c.MoveNextAsync(context.Background())
	assert.Equal(t, dserr.CodeObjectDisposed, dserr.CodeOf(err))
	assert.True(t, dserr.IsUsage(err))
}

func TestPlainCursor_NoPageMembers(t *testing.T) {
	c := New(context.Background(), FromSlice(ints(2)))
	assert.False(t, c.ObtainsLastPage())
	_, err := c.IsLastPage()
	assert.True(t, dserr.IsUnsupported(err))
	assert.True(t, dserr.IsUnsupported(c.OnLastPage(func(bool) {})))
	assert.Equal(t, ints(2), drainSync(t, c))
}

func TestTotalCount_Unsupported(t *testing.T) {
	c := WithLastPage(context.Background(), FromSlice(ints(1)), 1)
	defer c.Close()
	assert.False(t, c.ObtainsTotalCount())
	_, err := c.TotalCount()
	assert.True(t, dserr.IsUnsupported(err))
	assert.True(t, dserr.IsUnsupported(c.OnTotalCount(func(int64) {})))
}

func TestClose_ReleasesAttachedClosers(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	src := FromSlice(ints(3))
	c := New(context.Background(), src, WithCloser(closerFunc(func() error {
		calls++
		return boom
	})))

	err := c.Close()
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, c.Close())
	assert.Equal(t, 1, calls)
	assert.True(t, src.Closed())
}

func TestClose_DropsCallbacks(t *testing.T) {
	c := WithLastPage(context.Background(), FromSlice(ints(3)), 1)
	fired := false
	require.NoError(t, c.OnLastPage(func(bool) { fired = true }))
	require.NoError(t, c.Close())
	assert.False(t, fired)
	assert.Equal(t, dserr.CodeObjectDisposed, dserr.CodeOf(c.OnLastPage(func(bool) {})))
}

func TestAll_BreakCloses(t *testing.T) {
	src := FromSlice(ints(5))
	c := New(context.Background(), src)

	var got []int
	for v, err := range c.All() {
		require.NoError(t, err)
		got = append(got, v)
		if v == 2 {
			break
		}
	}
	assert.Equal(t, []int{1, 2}, got)
	assert.Equal(t, Closed, c.State())
	assert.True(t, src.Closed())
}

func TestCollect(t *testing.T) {
	got, err := Collect(WithLastPage(context.Background(), FromSlice(ints(4)), 3))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestCancellation_Sync(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := FromSlice(ints(3))
	c := New(ctx, src)

	ok, err := c.MoveNext()
	require.NoError(t, err)
	require.True(t, ok)

	cancel()
	_, err = c.MoveNext()
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Closed, c.State())
	assert.True(t, src.Closed())
}

// blockingSource never yields until its context ends.
type blockingSource struct{ closed bool }

func (b *blockingSource) Next(ctx context.Context) (int, bool, error) {
	<-ctx.Done()
	return 0, false, ctx.Err()
}

func (b *blockingSource) Close() error {
	b.closed = true
	return nil
}

func TestCancellation_Async(t *testing.T) {
	src := &blockingSource{}
	c := New[int](context.Background(), src)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.MoveNextAsync(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Closed, c.State())
	assert.True(t, src.closed)
}

// failingSource yields one item and then an error.
type failingSource struct {
	n      int
	closed bool
}

func (f *failingSource) Next(context.Context) (int, bool, error) {
	f.n++
	if f.n > 1 {
		return 0, false, errors.New("connection reset")
	}
	return f.n, true, nil
}

func (f *failingSource) Close() error {
	f.closed = true
	return nil
}

func TestSourceError(t *testing.T) {
	for _, async := range []bool{false, true} {
		src := &failingSource{}
		c := WithLastPage[int](context.Background(), src, 10)

		next := func() (bool, error) {
			if async {
				return c.MoveNextAsync(context.Background())
			}
			return c.MoveNext()
		}

		ok, err := next()
		require.NoError(t, err)
		require.True(t, ok)

		_, err = next()
		assert.ErrorContains(t, err, "connection reset")
		assert.Equal(t, Closed, c.State())
		assert.True(t, src.closed)
	}
}

func TestMap(t *testing.T) {
	src := Map[int, string](FromSlice(ints(2)), func(i int) (string, error) {
		if i > 1 {
			return "", errors.New("too big")
		}
		return "ok", nil
	})
	c := New(context.Background(), src)

	ok, err := c.MoveNext()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ok", c.Current())

	_, err = c.MoveNext()
	assert.ErrorContains(t, err, "too big")
}
