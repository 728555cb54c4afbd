package redis

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/tradejournal/billing/pkg/config"
)

func TestNewClient_DisabledWithoutAddr(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	client := NewClient(lc, zap.NewNop().Sugar(), &config.Config{})
	require.Nil(t, client)
	require.Nil(t, NewLimiter(client))
}

func TestNewClient_ConnectsToServer(t *testing.T) {
	mr := miniredis.RunT(t)
	lc := fxtest.NewLifecycle(t)
	client := NewClient(lc, zap.NewNop().Sugar(), &config.Config{Redis: config.RedisConfig{Addr: mr.Addr()}})
	require.NotNil(t, client)
	require.NotNil(t, NewLimiter(client))

	lc.RequireStart()
	require.NoError(t, client.Set(t.Context(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	require.Equal(t, "v", got)
	lc.RequireStop()
}
