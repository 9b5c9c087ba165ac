package agent

import "time"

type Config struct {
	UpstreamURL  string     `yaml:"upstreamURL" env:"AGENT_UPSTREAM_URL" env-description:"Blockchain RPC endpoint this node caches"`
	Relays       []Endpoint `yaml:"relays" env-description:"Candidate relay hub endpoints"`
	DisplayName  string     `yaml:"displayName" env:"AGENT_DISPLAY_NAME" env-description:"Operator display name" env-default:"cache-node"`
	KeyPath      string     `yaml:"keyPath" env:"AGENT_KEY_PATH" env-description:"Path to operator key file" env-default:"data/operator.key"`
	GeoLookupURL string     `yaml:"geoLookupURL" env:"AGENT_GEO_LOOKUP_URL" env-description:"External ip-geolocation endpoint" env-default:"https://ipapi.co/json/"`
	ListenAddr   string     `yaml:"listenAddr" env:"AGENT_LISTEN_ADDR" env-description:"Local observability listen address" env-default:":8090"`

	EndpointPreference map[string][]string `yaml:"endpointPreference"`

	CacheMaxEntries int           `yaml:"cacheMaxEntries" env:"AGENT_CACHE_MAX_ENTRIES" env-default:"10000"`
	UpstreamTimeout time.Duration `yaml:"upstreamTimeout" env:"AGENT_UPSTREAM_TIMEOUT" env-default:"25s"`

	ReconnectBase       time.Duration `yaml:"reconnectBase" env:"AGENT_RECONNECT_BASE" env-default:"1s"`
	ReconnectCap        time.Duration `yaml:"reconnectCap" env:"AGENT_RECONNECT_CAP" env-default:"60s"`
	FailuresPerEndpoint int           `yaml:"failuresPerEndpoint" env:"AGENT_FAILURES_PER_ENDPOINT" env-default:"3"`
	PingSilence         time.Duration `yaml:"pingSilence" env:"AGENT_PING_SILENCE" env-default:"60s"`
	IdleReconnect       time.Duration `yaml:"idleReconnect" env:"AGENT_IDLE_RECONNECT" env-default:"120s"`
}

func (c *Config) withDefaults() {
	if c.CacheMaxEntries == 0 {
		c.CacheMaxEntries = 10000
	}
	if c.UpstreamTimeout == 0 {
		c.UpstreamTimeout = 25 * time.Second
	}
	if c.ReconnectBase == 0 {
		c.ReconnectBase = time.Second
	}
	if c.ReconnectCap == 0 {
		c.ReconnectCap = time.Minute
	}
	if c.FailuresPerEndpoint == 0 {
		c.FailuresPerEndpoint = 3
	}
	if c.PingSilence == 0 {
		c.PingSilence = time.Minute
	}
	if c.IdleReconnect == 0 {
		c.IdleReconnect = 2 * time.Minute
	}
	if c.EndpointPreference == nil {
		c.EndpointPreference = DefaultEndpointPreference
	}
}
