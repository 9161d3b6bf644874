package queryir

import "context"

// Page is a window of select results.
type Page struct {
	// Skip is the number of leading results to drop. It must not be
	// negative.
	Skip int
	// Take is the maximum number of results; negative means unbounded.
	Take int
	// LastPage asks the backend for one extra result so the reader can tell
	// whether the window ends the result set.
	LastPage bool
}

// Unbounded is the page with every result.
var Unbounded = Page{Take: -1}

// Limit is the number of results to fetch, or -1 for no limit.
func (p Page) Limit() int {
	if p.Take < 0 {
		return -1
	}
	if p.LastPage {
		return p.Take + 1
	}
	return p.Take
}

type statementHookKey struct{}

// WithStatementHook returns a context whose backends report every rendered
// statement (SQL text or document request) to fn.
func WithStatementHook(ctx context.Context, fn func(text string)) context.Context {
	if fn == nil {
		return ctx
	}
	return context.WithValue(ctx, statementHookKey{}, fn)
}

// TraceStatement reports text to the hook installed on ctx, if any.
func TraceStatement(ctx context.Context, text string) {
	if fn, ok := ctx.Value(statementHookKey{}).(func(string)); ok {
		fn(text)
	}
}
