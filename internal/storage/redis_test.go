package storage

import (
	"testing"

	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
)

func TestRedisKeyPerPair(t *testing.T) {
	assert.Equal(t, "bandarscope:recommendations:btc_idr", redisKey(btcidr))
	assert.NotEqual(t, redisKey(btcidr), redisKey(ethidr))
}

func TestRedisStoreCapacityDefault(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	assert.Equal(t, int64(MaxRecent), newRedisStore(client, 0).capacity)
	assert.Equal(t, int64(50), newRedisStore(client, 50).capacity)
}
