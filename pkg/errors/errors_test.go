package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/molident/pkg/errors"
)

func TestNew_FieldsAreSet(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		code    errors.ErrorCode
		message string
	}{
		{"internal", errors.CodeInternal, "unexpected failure"},
		{"disconnected", errors.ErrCodeDisconnectedGraph, "graph has 2 fragments"},
		{"cas", errors.ErrCodeInvalidCAS, "check digit mismatch"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ae := errors.New(tc.code, tc.message)
			require.NotNil(t, ae)
			assert.Equal(t, tc.code, ae.Code)
			assert.Equal(t, tc.message, ae.Message)
			assert.Empty(t, ae.Detail)
			assert.Nil(t, ae.Cause)
			assert.Contains(t, ae.Stack, "errors_test.go")
		})
	}
}

func TestAppError_ErrorFormat(t *testing.T) {
	t.Parallel()

	ae := errors.New(errors.ErrCodeInvalidCAS, "bad check digit")
	assert.Equal(t, "[MOL_019] bad check digit", ae.Error())

	withDetail := ae.WithDetail("7732-18-4")
	assert.Equal(t, "[MOL_019] bad check digit: 7732-18-4", withDetail.Error())
	assert.Empty(t, ae.Detail, "WithDetail must not mutate the receiver")

	withCause := ae.WithCause(stderrors.New("eof"))
	assert.Equal(t, "[MOL_019] bad check digit: eof", withCause.Error())
}

func TestAppError_NilReceivers(t *testing.T) {
	t.Parallel()

	var ae *errors.AppError
	assert.Nil(t, ae.WithDetail("x"))
	assert.Nil(t, ae.WithCause(stderrors.New("x")))
}

func TestWrap(t *testing.T) {
	t.Parallel()

	assert.NoError(t, errors.Wrap(nil, errors.CodeInternal, "ignored"))
	assert.NoError(t, errors.Wrapf(nil, errors.CodeInternal, "ignored %d", 1))

	base := stderrors.New("disk full")
	err := errors.Wrap(base, errors.ErrCodeCorruptStore, "write bucket")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, base))
	assert.True(t, errors.IsCode(err, errors.ErrCodeCorruptStore))
	assert.Equal(t, errors.ErrCodeCorruptStore, errors.GetCode(err))
}

func TestWrap_UnknownKeepsInnerCode(t *testing.T) {
	t.Parallel()

	inner := errors.New(errors.ErrCodeTopologyMismatch, "no mapping")
	err := errors.Wrap(inner, errors.CodeUnknown, "merge")
	assert.Equal(t, errors.ErrCodeTopologyMismatch, errors.GetCode(err))
}

func TestIs_MatchesSentinelByCode(t *testing.T) {
	t.Parallel()

	sentinel := errors.New(errors.ErrCodeDisconnectedGraph, "graph is not connected")
	derived := sentinel.WithDetail("3 atoms unreachable")
	wrapped := fmt.Errorf("hash record 12: %w", derived)

	assert.True(t, errors.Is(wrapped, sentinel))
	assert.False(t, errors.Is(wrapped, errors.New(errors.ErrCodeInvalidCAS, "x")))
}

func TestIsCode_DeepChain(t *testing.T) {
	t.Parallel()

	inner := errors.New(errors.ErrCodeBlobNotFound, "Bucket_007")
	mid := errors.Wrap(inner, errors.ErrCodeCorruptStore, "load bucket")
	outer := fmt.Errorf("load: %w", mid)

	assert.True(t, errors.IsCode(outer, errors.ErrCodeBlobNotFound))
	assert.True(t, errors.IsCode(outer, errors.ErrCodeCorruptStore))
	assert.True(t, errors.IsNotFound(outer))
	assert.False(t, errors.IsCode(stderrors.New("plain"), errors.CodeInternal))
}

func TestGetCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, errors.CodeOK, errors.GetCode(nil))
	assert.Equal(t, errors.CodeUnknown, errors.GetCode(stderrors.New("plain")))
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(errors.NotFound("x")))
	assert.Equal(t, errors.CodeInvalidParam, errors.GetCode(errors.InvalidParam("x")))
	assert.Equal(t, errors.CodeConflict, errors.GetCode(errors.Conflict("x")))
	assert.Equal(t, errors.CodeInternal, errors.GetCode(errors.Internal("x")))
}

func TestAs(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("outer: %w", errors.Newf(errors.ErrCodeBucketOverflow, "offset %d", 70000))
	var ae *errors.AppError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "offset 70000", ae.Message)
}

func TestDefaultMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "molecular graph is not connected", errors.DefaultMessage(errors.ErrCodeDisconnectedGraph))
	assert.Equal(t, "unknown error", errors.DefaultMessage(errors.ErrorCode("NOPE")))
}
