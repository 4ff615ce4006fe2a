package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"adledger/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := InitRedis(&config.RedisConfig{Host: mr.Host(), Port: mustPort(t, mr)}, zerolog.Nop())
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, Ping(context.Background(), client, time.Second))

	mr.Close()
	assert.Error(t, Ping(context.Background(), client, 200*time.Millisecond))
}

func TestInitRedis_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	port := mustPort(t, mr)
	mr.Close()

	_, err := InitRedis(&config.RedisConfig{Host: "127.0.0.1", Port: port}, zerolog.Nop())
	assert.Error(t, err)
}

func mustPort(t *testing.T, mr *miniredis.Miniredis) int {
	var port int
	_, err := fmt.Sscanf(mr.Port(), "%d", &port)
	require.NoError(t, err)
	return port
}
