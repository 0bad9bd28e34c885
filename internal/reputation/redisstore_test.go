package reputation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavecore/botdetect/internal/reputation"
)

func TestNewRedisStore_RejectsMalformedURL(t *testing.T) {
	local := reputation.New(reputation.DefaultThresholds(), 0, nil)
	_, err := reputation.NewRedisStore(local, "not-a-valid-redis-url", time.Hour)
	assert.Error(t, err)
}

func TestNewRedisStore_AcceptsWellFormedURL(t *testing.T) {
	local := reputation.New(reputation.DefaultThresholds(), 0, nil)
	rs, err := reputation.NewRedisStore(local, "redis://localhost:6379/0", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, rs)
	assert.NoError(t, rs.Close())
}

func TestNewRedisStore_DefaultsTTLWhenNonPositive(t *testing.T) {
	local := reputation.New(reputation.DefaultThresholds(), 0, nil)
	rs, err := reputation.NewRedisStore(local, "redis://localhost:6379/0", 0)
	require.NoError(t, err)
	defer rs.Close()
}
