package xredis

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := NewRedis(&Config{Addr: mr.Addr()})
	require.NoError(t, err)
	defer rdb.Close()

	mr.Close()
	_, err = NewRedis(&Config{Addr: mr.Addr()})
	assert.Error(t, err)
}
