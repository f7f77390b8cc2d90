package credentials_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swiftdevstuff/up-ynab-sync/internal/credentials"
)

func TestEnvStore(t *testing.T) {
	store := credentials.EnvStore{}

	assert.False(t, store.HasToken(credentials.ServiceUpBank))
	_, err := store.Token(credentials.ServiceUpBank)
	assert.ErrorIs(t, err, credentials.ErrTokenMissing)

	t.Setenv("UP_YNAB_SYNC_TOKEN_UP_BANK", "up-token")
	t.Setenv("UP_YNAB_SYNC_TOKEN_YNAB", "ynab-token")

	assert.True(t, store.HasToken(credentials.ServiceUpBank))
	assert.True(t, store.HasToken(credentials.ServiceYNAB))

	token, err := store.Token(credentials.ServiceYNAB)
	require.NoError(t, err)
	assert.Equal(t, "ynab-token", token)
}

func TestEnvStoreEmptyValue(t *testing.T) {
	t.Setenv("UP_YNAB_SYNC_TOKEN_YNAB", "")

	store := credentials.EnvStore{}
	assert.False(t, store.HasToken(credentials.ServiceYNAB))

	_, err := store.Token(credentials.ServiceYNAB)
	assert.ErrorIs(t, err, credentials.ErrTokenMissing)
}
