package modem

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigBuilder(t *testing.T) {
	t.Run("A dialer is required", func(t *testing.T) {
		_, err := NewConfigBuilder().Build()
		require.ErrorIs(t, err, ErrNoDialer)
	})

	t.Run("Defaults are applied", func(t *testing.T) {
		config, err := NewConfigBuilder().
			WithDialer(SerialDialer{PortName: "/dev/ttyUSB0"}).
			Build()
		require.NoError(t, err)

		assert.Equal(t, "SARA-R410", config.Profile.Name)
		assert.Equal(t, 5*time.Second, config.ATTimeout)
		assert.Equal(t, 30*time.Second, config.InitTimeout)
		assert.Equal(t, 100*time.Millisecond, config.SendPacing)
		assert.Equal(t, 3*time.Minute, config.ConnectTimeout)
		assert.Equal(t, 5, config.RegistrationRetries)
		assert.Equal(t, BackoffPolicy{
			Initial: 2 * time.Second,
			Max:     30 * time.Second,
			Factor:  2,
		}, config.RegistrationBackoff)
		assert.NotNil(t, config.Logger)
	})

	t.Run("Explicit settings survive Build", func(t *testing.T) {
		config, err := NewConfigBuilder().
			WithDialer(SerialDialer{PortName: "/dev/ttyUSB0"}).
			WithProfile(SaraN211).
			WithAPN("lpwa.telia.iot").
			WithATTimeout(time.Second).
			WithSendPacing(time.Millisecond).
			Build()
		require.NoError(t, err)

		assert.Equal(t, "SARA-N211", config.Profile.Name)
		assert.Equal(t, "lpwa.telia.iot", config.APN)
		assert.Equal(t, time.Second, config.ATTimeout)
		assert.Equal(t, time.Millisecond, config.SendPacing)
	})
}

func TestBackoffPolicyDelay(t *testing.T) {
	t.Run("Factor of one gives a fixed delay", func(t *testing.T) {
		policy := BackoffPolicy{Initial: 50 * time.Millisecond, Factor: 1}
		for attempt := 0; attempt < 5; attempt++ {
			assert.Equal(t, 50*time.Millisecond, policy.delay(attempt))
		}
	})

	t.Run("Exponential growth is capped at Max", func(t *testing.T) {
		policy := BackoffPolicy{
			Initial: time.Second,
			Max:     8 * time.Second,
			Factor:  2,
		}
		assert.Equal(t, time.Second, policy.delay(0))
		assert.Equal(t, 2*time.Second, policy.delay(1))
		assert.Equal(t, 4*time.Second, policy.delay(2))
		assert.Equal(t, 8*time.Second, policy.delay(3))
		assert.Equal(t, 8*time.Second, policy.delay(10))
	})

	t.Run("Initial above Max is clamped", func(t *testing.T) {
		policy := BackoffPolicy{Initial: time.Minute, Max: time.Second, Factor: 2}
		assert.Equal(t, time.Second, policy.delay(0))
	})
}
