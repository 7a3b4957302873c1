package api

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bop4yH/wallet/pkg/errors"
)

func TestParseAccountID(t *testing.T) {
	want := uuid.New()
	got, err := parseAccountID("from_account_id", want.String())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	tests := []string{"", "not-a-uuid", "123e4567-e89b-12d3-a456-42661417400"}
	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			_, err := parseAccountID("to_account_id", raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.InvalidArgument)
			assert.Contains(t, err.Error(), "invalid to_account_id")
		})
	}
}
