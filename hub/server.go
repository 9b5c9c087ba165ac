package hub

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rpcmesh/rpcmesh/chain"
	"github.com/rpcmesh/rpcmesh/geodata"
	"github.com/rpcmesh/rpcmesh/protocol"
	"github.com/rpcmesh/rpcmesh/utils"
)

const registerReadTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server owns the node-facing websocket endpoint: registration handshake,
// heartbeats, response correlation and disconnect flushing.
type Server struct {
	cfg      *Config
	registry *Registry
	recorder *Recorder
	verifier chain.Verifier
	sig      SignatureVerifier
	geo      *geodata.GeoIP2DB
	logger   *zap.Logger
}

func NewServer(cfg *Config, registry *Registry, recorder *Recorder, verifier chain.Verifier, geo *geodata.GeoIP2DB, logger *zap.Logger) *Server {
	cfg.withDefaults()
	var sig SignatureVerifier = HexSignatureVerifier{}
	if cfg.SignaturePolicy == "recover" {
		sig = RecoverSignatureVerifier{}
	}
	return &Server{
		cfg:      cfg,
		registry: registry,
		recorder: recorder,
		verifier: verifier,
		sig:      sig,
		geo:      geo,
		logger:   logger.With(zap.String("who", "HubServer")),
	}
}

// HandleWS upgrades an agent connection and runs its whole lifecycle.
func (s *Server) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	sourceAddress := c.ClientIP()
	go s.serveConn(conn, sourceAddress)
}

func (s *Server) serveConn(conn *websocket.Conn, sourceAddress string) {
	node, err := s.register(conn, sourceAddress)
	if err != nil {
		// Refused before any state was created.
		_ = conn.Close()
		return
	}

	logger := s.logger.With(
		zap.String("wallet", utils.ShortAddress(node.Wallet)),
		zap.String("source", sourceAddress))
	logger.Info("node connected",
		zap.String("state", node.State().String()),
		zap.String("geo", node.GeoLabel))

	stop := make(chan struct{})
	go s.pingLoop(node, stop)

	s.readPump(node, logger)

	close(stop)
	s.disconnect(node, logger)
}

// register performs the handshake: auth checks, on-chain verification,
// newest-connection-wins supersede, stats seeding, admission.
func (s *Server) register(conn *websocket.Conn, sourceAddress string) (*ConnectedNode, error) {
	_ = conn.SetReadDeadline(time.Now().Add(registerReadTimeout))
	var msg protocol.Message
	if err := conn.ReadJSON(&msg); err != nil {
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Time{})

	if msg.Type != protocol.TypeRegister {
		return nil, ErrMissingWallet
	}
	if err := ValidateRegister(&msg, time.Now(), s.sig); err != nil {
		s.logger.Info("registration refused",
			zap.String("wallet", utils.ShortAddress(msg.Wallet)),
			zap.String("source", sourceAddress),
			zap.Error(err))
		_ = conn.WriteJSON(&protocol.Message{Type: protocol.TypeAuthFailed, Reason: err.Error()})
		return nil, err
	}

	now := time.Now()
	node := NewConnectedNode(conn, msg.Wallet, msg.DisplayName, sourceAddress, now)
	node.SetState(StateAwaitingVerification)

	bonded := true
	if s.cfg.RequireRegistration {
		info, err := s.verifier.Lookup(context.Background(), msg.Wallet)
		if err != nil && err != chain.ErrOperatorNotFound {
			s.logger.Warn("registry lookup failed", zap.Error(err))
		}
		node.SetChainInfo(info)
		bonded = err == nil && info.Bonded()
	}

	// Newest connection wins: the previous session is closed and flushed
	// before this one is admitted, so no stats are lost.
	if prev := s.registry.Take(msg.Wallet); prev != nil {
		s.logger.Info("superseding previous connection",
			zap.String("wallet", utils.ShortAddress(msg.Wallet)))
		prev.Close()
		s.recorder.FlushDisconnect(prev, now)
	}

	stored := s.recorder.SeedStats(msg.Wallet, sourceAddress, now)
	node.SeedPerf(stored)

	if geo, err := s.geo.Lookup(sourceAddress); err == nil {
		node.GeoLabel = geo.Label()
	}

	if bonded {
		node.SetState(StateRegisteredActive)
	} else {
		node.SetState(StateRegisteredUnbonded)
	}
	s.registry.Admit(node)

	if bonded {
		_ = node.Send(&protocol.Message{Type: protocol.TypeRegistered})
	} else {
		// The socket stays open, but the node receives no routed traffic
		// until its operator bonds on-chain.
		_ = node.Send(&protocol.Message{Type: protocol.TypeNotRegistered, Reason: "operator not bonded"})
	}
	return node, nil
}

func (s *Server) readPump(node *ConnectedNode, logger *zap.Logger) {
	for {
		var msg protocol.Message
		if err := node.conn.ReadJSON(&msg); err != nil {
			logger.Debug("read loop ended", zap.Error(err))
			return
		}
		switch msg.Type {
		case protocol.TypePong:
			node.MarkPing(time.Now())
		case protocol.TypeRPCResponse:
			node.Resolve(msg.ID, msg.Result, msg.Error, msg.CacheHit)
		default:
			logger.Debug("unexpected frame", zap.String("type", msg.Type))
		}
	}
}

func (s *Server) pingLoop(node *ConnectedNode, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := node.Send(&protocol.Message{Type: protocol.TypePing}); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// disconnect finalizes a closed connection: in-flight calls are failed
// promptly by Close, the session is flushed exactly once, and the mapping is
// removed unless a newer connection already replaced it (in which case the
// supersede path flushed the session already).
func (s *Server) disconnect(node *ConnectedNode, logger *zap.Logger) {
	node.Close()
	if s.registry.Drop(node) {
		s.recorder.FlushDisconnect(node, time.Now())
	}
	logger.Info("node disconnected")
}

// Run refreshes the on-chain mirror of connected wallets until ctx is done,
// demoting nodes whose bond lapsed and promoting ones that bonded while
// connected. Relies on the verifier's own TTL cache to bound RPC cost.
func (s *Server) Run(ctx context.Context) {
	if !s.cfg.RequireRegistration {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, node := range s.registry.List() {
				info, err := s.verifier.Lookup(ctx, node.Wallet)
				if err != nil {
					continue
				}
				node.SetChainInfo(info)
				switch {
				case info.Bonded() && node.State() == StateRegisteredUnbonded:
					node.SetState(StateRegisteredActive)
					_ = node.Send(&protocol.Message{Type: protocol.TypeRegistered})
				case !info.Bonded() && node.State() == StateRegisteredActive:
					node.SetState(StateRegisteredUnbonded)
					_ = node.Send(&protocol.Message{Type: protocol.TypeNotRegistered, Reason: "operator bond lapsed"})
				}
			}
		case <-ctx.Done():
			return
		}
	}
}
