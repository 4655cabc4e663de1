package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesByCode(t *testing.T) {
	err := RootUnavailablef("root %s lost permission", "root-1")

	assert.True(t, Is(err, ErrRootUnavailable))
	assert.False(t, Is(err, ErrNotFound))
	assert.Equal(t, "root root-1 lost permission", err.Error())
}

func TestError_WrappedChain(t *testing.T) {
	cause := fmt.Errorf("disk: %w", context.Canceled)
	err := fmt.Errorf("sync root-1: %w", ScanFailure(cause))

	assert.True(t, Is(err, ErrScanFailure))
	assert.True(t, Is(err, context.Canceled))
	assert.Equal(t, CodeScanFailure, CodeOf(err))
	assert.Contains(t, err.Error(), "scan failed: disk: context canceled")
}

func TestCodeOf_Plain(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(fmt.Errorf("boom")))
}

func TestWithDetails(t *testing.T) {
	base := Validation("bad input")
	withDetails := base.WithDetails(map[string]string{"uri": "required"})

	assert.Nil(t, base.Details)
	assert.Equal(t, map[string]string{"uri": "required"}, withDetails.Details)
	assert.True(t, Is(withDetails, ErrValidation))
}

func TestCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeNotFound, http.StatusNotFound},
		{CodeConflict, http.StatusConflict},
		{CodeAlreadyExists, http.StatusConflict},
		{CodeValidation, http.StatusBadRequest},
		{CodeRootUnavailable, http.StatusUnprocessableEntity},
		{CodeScrapeFailure, http.StatusBadGateway},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeInvalidTransition, http.StatusInternalServerError},
		{CodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.HTTPStatus())
		})
	}
}
