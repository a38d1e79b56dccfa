package modem

import (
	"io"
	"log/slog"
	"time"
)

// BackoffPolicy controls the delay between registration retries. A Factor of
// 1 (or less) gives a fixed delay of Initial; a larger Factor grows the
// delay exponentially, capped at Max.
type BackoffPolicy struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
}

func (b BackoffPolicy) delay(attempt int) time.Duration {
	d := b.Initial
	if b.Factor > 1 {
		for i := 0; i < attempt; i++ {
			d = time.Duration(float64(d) * b.Factor)
			if b.Max > 0 && d >= b.Max {
				return b.Max
			}
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// Config carries the modem driver settings. Build one with NewConfigBuilder.
type Config struct {
	// Dialer opens the transport to the module. Required.
	Dialer Dialer
	// Profile selects the module family. Defaults to SaraR410.
	Profile Profile
	// APN is the PDP context access point name, set during init when non-empty.
	APN string
	// ATTimeout is the default deadline for a single AT command.
	ATTimeout time.Duration
	// InitTimeout bounds the whole init sequence during New.
	InitTimeout time.Duration
	// SendPacing is the minimum gap between consecutive socket writes. The
	// module silently drops or blocks on writes issued faster than it can
	// drain its internal buffer.
	SendPacing time.Duration
	// ConnectTimeout bounds a whole Connect attempt including retries.
	ConnectTimeout time.Duration
	// RegistrationRetries is how many denied registrations Connect tolerates
	// before giving up.
	RegistrationRetries int
	// RegistrationBackoff is the delay schedule between registration polls
	// and retries.
	RegistrationBackoff BackoffPolicy
	// Logger receives driver diagnostics. Defaults to a discard logger.
	Logger *slog.Logger
}

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Profile.Name == "" {
		c.Profile = SaraR410
	}
	if c.ATTimeout == 0 {
		c.ATTimeout = 5 * time.Second
	}
	if c.InitTimeout == 0 {
		c.InitTimeout = 30 * time.Second
	}
	if c.SendPacing == 0 {
		c.SendPacing = 100 * time.Millisecond
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 3 * time.Minute
	}
	if c.RegistrationRetries == 0 {
		c.RegistrationRetries = 5
	}
	if c.RegistrationBackoff == (BackoffPolicy{}) {
		c.RegistrationBackoff = BackoffPolicy{
			Initial: 2 * time.Second,
			Max:     30 * time.Second,
			Factor:  2,
		}
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// ConfigBuilder assembles a Config fluently.
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.Dialer = d
	return b
}

func (b *ConfigBuilder) WithProfile(p Profile) *ConfigBuilder {
	b.config.Profile = p
	return b
}

func (b *ConfigBuilder) WithAPN(apn string) *ConfigBuilder {
	b.config.APN = apn
	return b
}

func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.config.ATTimeout = d
	return b
}

func (b *ConfigBuilder) WithInitTimeout(d time.Duration) *ConfigBuilder {
	b.config.InitTimeout = d
	return b
}

func (b *ConfigBuilder) WithSendPacing(d time.Duration) *ConfigBuilder {
	b.config.SendPacing = d
	return b
}

func (b *ConfigBuilder) WithConnectTimeout(d time.Duration) *ConfigBuilder {
	b.config.ConnectTimeout = d
	return b
}

func (b *ConfigBuilder) WithRegistrationRetries(n int) *ConfigBuilder {
	b.config.RegistrationRetries = n
	return b
}

func (b *ConfigBuilder) WithRegistrationBackoff(p BackoffPolicy) *ConfigBuilder {
	b.config.RegistrationBackoff = p
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.Logger = l
	return b
}

// Build validates the assembled configuration and applies defaults.
func (b *ConfigBuilder) Build() (Config, error) {
	if err := b.config.validate(); err != nil {
		return Config{}, err
	}
	config := b.config
	config.setDefaults()
	return config, nil
}
