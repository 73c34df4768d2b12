package s3

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"

	"github.com/marmos91/dittobundle/pkg/source"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"Nil", nil, false},
		{"Cancelled", context.Canceled, false},
		{"Deadline", fmt.Errorf("op: %w", context.DeadlineExceeded), true},
		{"NetTimeout", timeoutErr{}, true},
		{"SlowDown", &smithy.GenericAPIError{Code: "SlowDown"}, true},
		{"InternalError", &smithy.GenericAPIError{Code: "InternalError"}, true},
		{"AccessDenied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"ConnectionReset", errors.New("read: connection reset by peer"), true},
		{"Opaque", errors.New("weird"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableError(tt.err))
		})
	}
}

func TestIsNotFoundError(t *testing.T) {
	assert.True(t, isNotFoundError(&types.NoSuchKey{}))
	assert.True(t, isNotFoundError(&types.NotFound{}))
	assert.True(t, isNotFoundError(&smithy.GenericAPIError{Code: "NoSuchKey"}))
	assert.False(t, isNotFoundError(&smithy.GenericAPIError{Code: "SlowDown"}))
	assert.False(t, isNotFoundError(nil))
}

func TestClassify(t *testing.T) {
	err := classify("units/core.pack", &types.NoSuchKey{})
	assert.ErrorIs(t, err, source.ErrNotFound)
	assert.ErrorIs(t, err, source.ErrProtocol)
	assert.Equal(t, "not_found", outcome(err))

	err = classify("units/core.pack", &smithy.GenericAPIError{Code: "ServiceUnavailable"})
	assert.True(t, source.Retryable(err))
	assert.Equal(t, "network", outcome(err))

	err = classify("units/core.pack", &smithy.GenericAPIError{Code: "AccessDenied"})
	assert.False(t, source.Retryable(err))
	assert.Equal(t, "protocol", outcome(err))

	assert.Equal(t, "ok", outcome(nil))
}

func TestFetcher_Closed(t *testing.T) {
	f := New(nil, Config{Bucket: "b"}, nil)
	assert.Equal(t, "s3", f.Kind())
	assert.NoError(t, f.Close())

	_, err := f.Fetch(context.Background(), "x")
	assert.ErrorIs(t, err, source.ErrClosed)
	assert.False(t, source.Retryable(err))
}

func TestNewFromConfig_RequiresBucket(t *testing.T) {
	_, err := NewFromConfig(context.Background(), Config{}, nil)
	assert.Error(t, err)
}
