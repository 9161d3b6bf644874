package dserr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "code only",
			err:  &Error{Code: CodeNotFound},
			want: "NOT_FOUND",
		},
		{
			name: "op and message",
			err:  Configuration("add container", "alias %q already used", "o"),
			want: `add container: CONFIGURATION: alias "o" already used`,
		},
		{
			name: "wrapped cause",
			err:  Wrap(CodeConflict, "insert", errors.New("UNIQUE constraint failed")),
			want: "insert: CONFLICT: UNIQUE constraint failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_IsSentinel(t *testing.T) {
	err := fmt.Errorf("delete order: %w", NotFound("delete", "no record with id %d", 7))

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrConflict))
	assert.True(t, IsNotFound(err))
	assert.False(t, IsConfiguration(err))
}

func TestError_UnwrapCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(CodeConflict, "insert", cause)

	assert.ErrorIs(t, err, cause)
	assert.True(t, IsConflict(err))
}

func TestIsUsage(t *testing.T) {
	assert.True(t, IsUsage(New(CodeInvalidOperation, "cursor", "mixed enumerators")))
	assert.True(t, IsUsage(New(CodeObjectDisposed, "cursor", "closed")))
	assert.False(t, IsUsage(Unsupported("cursor", "total count")))
	assert.False(t, IsUsage(context.Canceled))
}

func TestCodeOf_NonDSError(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
	assert.Equal(t, Code(""), CodeOf(nil))
}
