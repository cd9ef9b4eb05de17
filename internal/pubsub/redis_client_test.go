package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/mohamedkhairy/diting/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestNewRedisClient_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := NewRedisClient(ctx, config.RedisConfig{
		Host:     "127.0.0.1",
		Port:     1,
		PoolSize: 1,
	})
	assert.Error(t, err)
	assert.Nil(t, client)
}
