package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"gocloud.dev/secrets"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// localKeeperURI generates a base64key:// URI for testing.
func localKeeperURI(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return "base64key://" + base64.URLEncoding.EncodeToString(key)
}

func TestKMSService_OpenKeeper(t *testing.T) {
	ctx := context.Background()
	kmsService := NewKMSService()

	t.Run("local keeper", func(t *testing.T) {
		keeper, err := kmsService.OpenKeeper(ctx, localKeeperURI(t))
		require.NoError(t, err)
		require.NotNil(t, keeper)
		defer func() {
			assert.NoError(t, keeper.Close())
		}()

		_, ok := keeper.(*secrets.Keeper)
		assert.True(t, ok, "keeper should be *secrets.Keeper")
	})

	t.Run("invalid URI", func(t *testing.T) {
		keeper, err := kmsService.OpenKeeper(ctx, "invalid://uri")
		assert.Error(t, err)
		assert.Nil(t, keeper)
		assert.Contains(t, err.Error(), "open KMS keeper")
	})

	t.Run("empty URI", func(t *testing.T) {
		keeper, err := kmsService.OpenKeeper(ctx, "")
		assert.Error(t, err)
		assert.Nil(t, keeper)
	})
}

func TestKMSService_WrapKeyMaterial(t *testing.T) {
	ctx := context.Background()
	kmsService := NewKMSService()

	keeper, err := kmsService.OpenKeeper(ctx, localKeeperURI(t))
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, keeper.Close())
	}()

	key, err := GenerateKey()
	require.NoError(t, err)

	wrapped, err := keeper.Encrypt(ctx, key)
	require.NoError(t, err)
	assert.NotEqual(t, key, wrapped, "wrapped key material must differ from raw")

	unwrapped, err := keeper.Decrypt(ctx, wrapped)
	require.NoError(t, err)
	assert.Equal(t, key, unwrapped)
}

func TestKMSService_UnwrapGarbage(t *testing.T) {
	ctx := context.Background()
	kmsService := NewKMSService()

	keeper, err := kmsService.OpenKeeper(ctx, localKeeperURI(t))
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, keeper.Close())
	}()

	unwrapped, err := keeper.Decrypt(ctx, []byte("not a valid ciphertext"))
	assert.Error(t, err)
	assert.Nil(t, unwrapped)
}

func TestKMSService_KeeperIsolation(t *testing.T) {
	ctx := context.Background()
	kmsService := NewKMSService()

	keeper1, err := kmsService.OpenKeeper(ctx, localKeeperURI(t))
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, keeper1.Close())
	}()

	keeper2, err := kmsService.OpenKeeper(ctx, localKeeperURI(t))
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, keeper2.Close())
	}()

	key, err := GenerateKey()
	require.NoError(t, err)

	wrapped, err := keeper1.Encrypt(ctx, key)
	require.NoError(t, err)

	unwrapped, err := keeper1.Decrypt(ctx, wrapped)
	require.NoError(t, err)
	assert.Equal(t, key, unwrapped)

	crossUnwrapped, err := keeper2.Decrypt(ctx, wrapped)
	assert.Error(t, err, "material wrapped by one keeper must not unwrap under another")
	assert.Nil(t, crossUnwrapped)
}
