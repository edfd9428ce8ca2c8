package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfarer-labs/guidematch/internal/model"
)

func TestKindStatus(t *testing.T) {
	want := map[model.ErrorKind]int{
		model.KindValidation:    http.StatusBadRequest,
		model.KindQuotaExceeded: http.StatusTooManyRequests,
		model.KindRateLimited:   http.StatusTooManyRequests,
		model.KindAuth:          http.StatusBadGateway,
		model.KindNetwork:       http.StatusServiceUnavailable,
		model.KindDatabase:      http.StatusServiceUnavailable,
		model.KindSelection:     http.StatusBadGateway,
		model.KindUnknown:       http.StatusInternalServerError,
		"something-new":         http.StatusInternalServerError,
	}
	for k, status := range want {
		assert.Equal(t, status, kindStatus(k), k)
	}
}

func TestWithDeadline(t *testing.T) {
	v, err := withDeadline(context.Background(), time.Second, func(context.Context) int { return 7 })
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	v, err = withDeadline(context.Background(), 0, func(context.Context) int { return 8 })
	require.NoError(t, err)
	assert.Equal(t, 8, v)

	_, err = withDeadline(context.Background(), 20*time.Millisecond, func(ctx context.Context) int {
		time.Sleep(200 * time.Millisecond)
		return 9
	})
	assert.ErrorIs(t, err, errDeadline)

	assert.PanicsWithValue(t, "kaboom", func() {
		_, _ = withDeadline(context.Background(), time.Second, func(context.Context) int { panic("kaboom") })
	})
}
