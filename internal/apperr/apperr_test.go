package apperr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusMapsEveryKnownKind(t *testing.T) {
	cases := map[Kind]int{
		KindInvalidInput:    http.StatusBadRequest,
		KindAuthRequired:    http.StatusUnauthorized,
		KindAuthFailed:      http.StatusUnauthorized,
		KindLostRace:        http.StatusConflict,
		KindNotFound:        http.StatusNotFound,
		KindUpstreamFailure: http.StatusBadRequest,
		KindConfigError:     http.StatusInternalServerError,
	}
	for kind, want := range cases {
		err := New(kind, "boom")
		assert.Equal(t, want, HTTPStatus(err), "kind %s", kind)
	}
}

func TestHTTPStatusDefaultsToInternalServerErrorForUnknownErrors(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("plain error")))
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("underlying failure")
	wrapped := Wrap(KindUpstreamFailure, "op failed", cause)

	assert.True(t, errors.Is(wrapped, cause))
	assert.Equal(t, KindUpstreamFailure, KindOf(wrapped))
}

func TestWrapWithNilCauseBehavesLikeNew(t *testing.T) {
	err := Wrap(KindInvalidInput, "bad input", nil)
	assert.Equal(t, "bad input", err.Error())
}

func TestWrapDoesNotRepeatMessageInError(t *testing.T) {
	cause := errors.New("underlying failure")
	wrapped := Wrap(KindUpstreamFailure, "op failed", cause)
	assert.Equal(t, "op failed: underlying failure", wrapped.Error())
}
