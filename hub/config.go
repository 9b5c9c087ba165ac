package hub

import "time"

type Config struct {
	RequireRegistration bool   `yaml:"requireRegistration" env:"HUB_REQUIRE_REGISTRATION" env-description:"Only route to on-chain bonded operators" env-default:"true"`
	SignaturePolicy     string `yaml:"signaturePolicy" env:"HUB_SIGNATURE_POLICY" env-description:"Registration signature policy (hex or recover)" env-default:"hex"`

	CallTimeout      time.Duration `yaml:"callTimeout" env:"HUB_CALL_TIMEOUT" env-default:"30s"`
	PingInterval     time.Duration `yaml:"pingInterval" env:"HUB_PING_INTERVAL" env-default:"30s"`
	PingWindow       time.Duration `yaml:"pingWindow" env:"HUB_PING_WINDOW" env-default:"120s"`
	WalletFlushEvery time.Duration `yaml:"walletFlushEvery" env:"HUB_WALLET_FLUSH_EVERY" env-default:"5m"`
	GlobalFlushEvery time.Duration `yaml:"globalFlushEvery" env:"HUB_GLOBAL_FLUSH_EVERY" env-default:"60s"`
}

// Routing and smoothing constants. The EMA alpha is shared between the
// per-call latency EMA and the wallet-stat merge.
const (
	emaAlpha          = 0.2
	latencyCapMs      = 5000.0
	neutralLatencyMs  = 500.0
	healthMinRequests = 5
	healthMaxErrRate  = 0.30
	healthMaxEmaMs    = 3000.0
	fastPoolFloor     = 3
)

func (c *Config) withDefaults() {
	if c.CallTimeout == 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PingWindow == 0 {
		c.PingWindow = 120 * time.Second
	}
	if c.WalletFlushEvery == 0 {
		c.WalletFlushEvery = 5 * time.Minute
	}
	if c.GlobalFlushEvery == 0 {
		c.GlobalFlushEvery = time.Minute
	}
}
