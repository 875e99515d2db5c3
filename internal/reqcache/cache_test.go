package reqcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewAppliesDefaultTTL(t *testing.T) {
	c := New(Config{Addr: "127.0.0.1:0"})
	assert.Equal(t, 5*time.Minute, c.ttl)
}

func TestNewHonorsConfiguredTTL(t *testing.T) {
	c := New(Config{Addr: "127.0.0.1:0", TTL: 30 * time.Second})
	assert.Equal(t, 30*time.Second, c.ttl)
}

var _ Cache = (*RedisCache)(nil)
