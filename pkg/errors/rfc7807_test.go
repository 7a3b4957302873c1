package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	err := NotFound.Explain("transfer not found")
	wrapped := fmt.Errorf("cancel: %w", err)

	assert.ErrorIs(t, wrapped, NotFound)
	assert.NotErrorIs(t, wrapped, Conflict)
	assert.Equal(t, "transfer not found", err.Error())
	assert.Equal(t, KindNotFound, KindOf(wrapped))
}

func TestExplainDoesNotMutateSentinel(t *testing.T) {
	_ = InvalidArgument.Explain("amount must be > 0")
	_ = InvalidArgument.Wrap(fmt.Errorf("boom"))

	assert.Empty(t, InvalidArgument.Message)
	assert.Nil(t, InvalidArgument.Unwrap())
}

func TestToProblemDetails(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{NotFound.Explain("x"), http.StatusNotFound},
		{Conflict.Explain("x"), http.StatusConflict},
		{InvalidArgument.Explain("x"), http.StatusBadRequest},
		{LimitExceeded.Explain("x"), http.StatusUnprocessableEntity},
		{StateConflict.Explain("x"), http.StatusConflict},
		{TransportFailure.Explain("x"), http.StatusBadGateway},
		{Internal.Explain("x"), http.StatusInternalServerError},
		{fmt.Errorf("raw"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		pd := ToProblemDetails(tc.err, "/api/v1/transfers")
		assert.Equal(t, tc.status, pd.Status, tc.err.Error())
		assert.Equal(t, "/api/v1/transfers", pd.Instance)
	}

	assert.Equal(t, "internal error", ToProblemDetails(fmt.Errorf("db password leaked"), "/").Detail)
}
