package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLaneForIsStablePerKey(t *testing.T) {
	for _, key := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"} {
		first := laneFor([]byte(key), 8)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, laneFor([]byte(key), 8))
		}
		assert.GreaterOrEqual(t, first, 0)
		assert.Less(t, first, 8)
	}
	assert.Equal(t, 0, laneFor(nil, 8))
	assert.Equal(t, 0, laneFor([]byte("x"), 1))
}

func TestEncodeValue(t *testing.T) {
	b, err := encodeValue(map[string]int{"a": 1})
	assert.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(b))

	b, err = encodeValue("raw")
	assert.NoError(t, err)
	assert.Equal(t, "raw", string(b))
}
