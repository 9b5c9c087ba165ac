// Package agent implements the cache-node process: it keeps one websocket
// to a relay hub, serves forwarded RPC calls from a local TTL cache or the
// upstream endpoint, and fails over between relay endpoints on trouble.
package agent

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/rpcmesh/rpcmesh/keys"
	"github.com/rpcmesh/rpcmesh/protocol"
)

type Agent struct {
	cfg      *Config
	identity *keys.Identity
	cache    *Cache
	journal  *Journal
	upstream *Upstream
	failover *Failover
	logger   *zap.Logger

	mu           sync.Mutex
	conn         *websocket.Conn
	writeMu      sync.Mutex
	connected    bool
	lastPingRecv time.Time
	lastActivity time.Time
	kick         chan struct{}
}

func New(cfg *Config, identity *keys.Identity, logger *zap.Logger) (*Agent, error) {
	cfg.withDefaults()
	if cfg.UpstreamURL == "" {
		return nil, errors.New("upstream RPC URL is required")
	}
	if len(cfg.Relays) == 0 {
		return nil, errors.New("at least one relay endpoint is required")
	}
	return &Agent{
		cfg:          cfg,
		identity:     identity,
		cache:        NewCache(cfg.CacheMaxEntries),
		journal:      NewJournal(),
		upstream:     NewUpstream(cfg.UpstreamURL, cfg.UpstreamTimeout),
		logger:       logger.With(zap.String("who", "Agent")),
		kick:         make(chan struct{}, 1),
		lastActivity: time.Now(),
	}, nil
}

func (a *Agent) Journal() *Journal { return a.journal }
func (a *Agent) CacheLen() int     { return a.cache.Len() }

// Run drives the connect/serve/reconnect loop until ctx is done. Internal
// faults never terminate the agent; they are logged and a reconnect is
// scheduled instead.
func (a *Agent) Run(ctx context.Context) {
	locateCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	continent := SelfLocate(locateCtx, &http.Client{Timeout: 5 * time.Second}, a.cfg.GeoLookupURL, a.logger)
	cancel()
	ordered := OrderEndpoints(a.cfg.Relays, continent, a.cfg.EndpointPreference)
	a.failover = NewFailover(ordered, a.cfg.ReconnectBase, a.cfg.ReconnectCap, a.cfg.FailuresPerEndpoint)
	a.logger.Info("relay endpoints ordered",
		zap.String("continent", continent),
		zap.String("first", ordered[0].URL))

	go a.watchdog(ctx)

	for {
		if ctx.Err() != nil {
			return
		}
		endpoint := a.failover.Current()
		err := a.serveRelay(ctx, endpoint)
		if ctx.Err() != nil {
			return
		}
		delay := a.failover.RecordFailure()
		a.logger.Warn("relay connection lost, scheduling reconnect",
			zap.String("relay", endpoint.URL),
			zap.Duration("delay", delay),
			zap.Error(err))
		select {
		case <-time.After(delay):
		case <-a.kick:
		case <-ctx.Done():
			return
		}
	}
}

// serveRelay runs one full connection lifetime against one relay endpoint.
// Panics from handler code are contained here.
func (a *Agent) serveRelay(ctx context.Context, endpoint Endpoint) (err error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("recovered internal fault", zap.Any("panic", r))
			err = errors.Errorf("internal fault: %v", r)
		}
	}()

	a.markActivity()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, endpoint.URL, nil)
	if err != nil {
		return errors.Wrap(err, "failed to dial relay")
	}
	defer conn.Close()

	if err := a.sendRegister(conn); err != nil {
		return err
	}

	var first protocol.Message
	if err := conn.ReadJSON(&first); err != nil {
		return errors.Wrap(err, "relay closed during registration")
	}
	switch first.Type {
	case protocol.TypeRegistered:
		a.logger.Info("registered with relay", zap.String("relay", endpoint.URL))
	case protocol.TypeNotRegistered:
		// Stay connected; the hub admits us but routes nothing until the
		// operator bonds on-chain.
		a.logger.Warn("relay accepted connection without registration",
			zap.String("reason", first.Reason))
	case protocol.TypeAuthFailed:
		return errors.Errorf("relay refused registration: %s", first.Reason)
	default:
		return errors.Errorf("unexpected frame during registration: %s", first.Type)
	}

	a.setConn(conn)
	defer a.clearConn()
	a.failover.RecordSuccess()

	for {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return errors.Wrap(err, "relay read failed")
		}
		a.markActivity()
		switch msg.Type {
		case protocol.TypePing:
			a.markPingReceived()
			a.send(&protocol.Message{Type: protocol.TypePong})
		case protocol.TypeRPCRequest:
			go a.handleRequest(ctx, msg.ID, msg.Payload)
		default:
			a.logger.Debug("unexpected frame", zap.String("type", msg.Type))
		}
	}
}

func (a *Agent) sendRegister(conn *websocket.Conn) error {
	timestamp := time.Now().Unix()
	signature, err := a.identity.SignRegistration(a.cfg.DisplayName, timestamp)
	if err != nil {
		return err
	}
	return conn.WriteJSON(&protocol.Message{
		Type:        protocol.TypeRegister,
		Wallet:      a.identity.Address(),
		DisplayName: a.cfg.DisplayName,
		Timestamp:   timestamp,
		Signature:   signature,
	})
}

// handleRequest serves one forwarded RPC call: cache first, upstream on
// miss. Only clean upstream results populate the cache; RPC-level errors are
// propagated back uncached.
func (a *Agent) handleRequest(ctx context.Context, id string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("recovered fault in request handler", zap.Any("panic", r))
			a.send(&protocol.Message{Type: protocol.TypeRPCResponse, ID: id, Error: "internal node error"})
		}
	}()

	start := time.Now()
	parsed, err := parsePayload(payload)
	if err != nil {
		a.respondError(id, start, "", err.Error())
		return
	}

	source := SourceUpstream
	if !Cacheable(parsed.Method) {
		source = SourceDenied
	} else if cached, hit := a.cache.Lookup(parsed.Method, parsed.Params); hit {
		latency := time.Since(start)
		a.send(&protocol.Message{
			Type:      protocol.TypeRPCResponse,
			ID:        id,
			Result:    cached,
			LatencyMs: float64(latency.Milliseconds()),
			CacheHit:  true,
		})
		a.journal.Add(JournalRecord{
			At: start, Method: parsed.Method,
			LatencyMs: float64(latency.Milliseconds()),
			Source:    SourceCache,
		})
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.UpstreamTimeout)
	defer cancel()
	body, hasRPCError, err := a.upstream.Call(callCtx, payload)
	if err != nil {
		a.respondError(id, start, parsed.Method, err.Error())
		return
	}
	if hasRPCError {
		a.respondError(id, start, parsed.Method, string(body))
		return
	}

	if source != SourceDenied {
		a.cache.Store(parsed.Method, parsed.Params, body)
	}
	latency := time.Since(start)
	a.send(&protocol.Message{
		Type:      protocol.TypeRPCResponse,
		ID:        id,
		Result:    body,
		LatencyMs: float64(latency.Milliseconds()),
	})
	a.journal.Add(JournalRecord{
		At: start, Method: parsed.Method,
		LatencyMs: float64(latency.Milliseconds()),
		Source:    source,
	})
}

func (a *Agent) respondError(id string, start time.Time, method, errMsg string) {
	latency := time.Since(start)
	a.send(&protocol.Message{
		Type:      protocol.TypeRPCResponse,
		ID:        id,
		Error:     errMsg,
		LatencyMs: float64(latency.Milliseconds()),
	})
	a.journal.Add(JournalRecord{
		At: start, Method: method,
		LatencyMs: float64(latency.Milliseconds()),
		Source:    SourceUpstream,
		Error:     errMsg,
	})
}

// watchdog enforces the two liveness rules: a connected link silent for too
// long is force-closed and the agent rotates to the next relay; a
// disconnected agent idle past the stall window forces a fresh attempt
// regardless of backoff state.
func (a *Agent) watchdog(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			a.mu.Lock()
			connected := a.connected
			lastPing := a.lastPingRecv
			lastActivity := a.lastActivity
			conn := a.conn
			a.mu.Unlock()

			if connected && now.Sub(lastPing) > a.cfg.PingSilence {
				a.logger.Warn("no heartbeat from relay, rotating endpoint")
				a.failover.Advance()
				if conn != nil {
					_ = conn.Close()
				}
			} else if !connected && now.Sub(lastActivity) > a.cfg.IdleReconnect {
				a.logger.Warn("stalled while disconnected, forcing reconnect")
				a.markActivity()
				select {
				case a.kick <- struct{}{}:
				default:
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (a *Agent) send(msg *protocol.Message) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if err := conn.WriteJSON(msg); err != nil {
		a.logger.Debug("relay write failed", zap.Error(err))
	}
}

func (a *Agent) setConn(conn *websocket.Conn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conn = conn
	a.connected = true
	a.lastPingRecv = time.Now()
	a.lastActivity = time.Now()
}

func (a *Agent) clearConn() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conn = nil
	a.connected = false
	a.lastActivity = time.Now()
}

func (a *Agent) markPingReceived() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastPingRecv = time.Now()
}

func (a *Agent) markActivity() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastActivity = time.Now()
}
