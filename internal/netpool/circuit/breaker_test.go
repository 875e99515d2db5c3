package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteWithoutRegisteredBreakerErrors(t *testing.T) {
	m := NewManager()
	_, err := m.Execute("binance", func() (any, error) { return nil, nil })
	require.Error(t, err)
}

func TestStateDefaultsToClosedWhenUnregistered(t *testing.T) {
	m := NewManager()
	assert.Equal(t, gobreaker.StateClosed, m.State("binance"))
}

func TestExecutePassesThroughResultOnSuccess(t *testing.T) {
	m := NewManager()
	m.Register(DefaultConfig("binance"))

	got, err := m.Execute("binance", func() (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, gobreaker.StateClosed, m.State("binance"))
}

func TestTripsOpenAfterConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig("vision")
	cfg.ConsecutiveFailures = 3
	m := NewManager()
	m.Register(cfg)

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		_, err := m.Execute("vision", func() (any, error) { return nil, boom })
		require.Error(t, err)
	}

	assert.Equal(t, gobreaker.StateOpen, m.State("vision"))

	_, err := m.Execute("vision", func() (any, error) { return "unreachable", nil })
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestRecoversToClosedAfterTimeoutAndSuccess(t *testing.T) {
	cfg := DefaultConfig("rest")
	cfg.ConsecutiveFailures = 1
	cfg.Timeout = time.Millisecond
	cfg.MaxRequests = 1
	m := NewManager()
	m.Register(cfg)

	boom := errors.New("boom")
	_, err := m.Execute("rest", func() (any, error) { return nil, boom })
	require.Error(t, err)
	assert.Equal(t, gobreaker.StateOpen, m.State("rest"))

	time.Sleep(5 * time.Millisecond)

	_, err = m.Execute("rest", func() (any, error) { return "recovered", nil })
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, m.State("rest"))
}
