package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cache"
	"github.com/gin-contrib/cache/persistence"
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	ginlimiter "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/rpcmesh/rpcmesh/db"
	"github.com/rpcmesh/rpcmesh/hub"
	"github.com/rpcmesh/rpcmesh/utils"
)

const maxRPCBodyBytes = 1 << 20

type Config struct {
	ListenAddr string `yaml:"listenAddr" env:"API_LISTEN_ADDR" env-description:"HTTP listen address" env-default:":8080"`
}

// Api serves the client RPC ingress, the node websocket endpoint and the
// read-only observability surface.
type Api struct {
	cfg      *Config
	router   *hub.Router
	registry *hub.Registry
	recorder *hub.Recorder
	server   *hub.Server
	store    db.Store
	logger   *zap.Logger
}

func New(cfg *Config, router *hub.Router, registry *hub.Registry, recorder *hub.Recorder, server *hub.Server, store db.Store, logger *zap.Logger) *Api {
	return &Api{
		cfg:      cfg,
		router:   router,
		registry: registry,
		recorder: recorder,
		server:   server,
		store:    store,
		logger:   logger.With(zap.String("who", "Api")),
	}
}

// Engine builds the gin engine. Split from Start so tests can drive it with
// httptest.
func (api *Api) Engine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// RPC ingress and the node websocket take full traffic.
	router.POST("/", api.HandleRPC)
	router.POST("/rpc", api.HandleRPC)
	router.GET("/ws", api.server.HandleWS)

	// The observability surface is for dashboards: rate limited and page
	// cached the same way for every endpoint.
	rate := limiter.Rate{
		Limit:  30,
		Period: time.Minute,
	}
	store := memory.NewStore()
	limit := limiter.New(store, rate)
	cacheStore := persistence.NewInMemoryStore(time.Minute)

	observed := router.Group("/api", ginlimiter.NewMiddleware(limit))
	observed.GET("/nodes", cache.CachePage(cacheStore, 10*time.Second, api.GetNodes))
	observed.GET("/nodes/:wallet", cache.CachePage(cacheStore, 10*time.Second, api.GetNode))
	observed.GET("/network", cache.CachePage(cacheStore, 10*time.Second, api.GetNetwork))

	return router
}

func (api *Api) Start() error {
	api.logger.Info("starting server", zap.String("addr", api.cfg.ListenAddr))
	return api.Engine().Run(api.cfg.ListenAddr)
}

// HandleRPC routes one client call through the load balancer and answers
// with the node's result envelope plus router metadata.
func (api *Api) HandleRPC(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRPCBodyBytes))
	if err != nil || len(payload) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "request body required"})
		return
	}

	result, err := api.router.Route(payload)
	if err == hub.ErrNoCapacity {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"error": "no cache nodes available to serve this request",
		})
		return
	}
	if err == hub.ErrDispatchTimeout {
		c.AbortWithStatusJSON(http.StatusGatewayTimeout, gin.H{"error": "node did not respond in time"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, withRelayMetadata(result))
}

// withRelayMetadata injects the router's metadata into the result envelope
// when the result is a JSON object; otherwise the envelope wraps it.
func withRelayMetadata(result *hub.RouteResult) any {
	relay := gin.H{
		"node":       utils.ShortAddress(result.Wallet),
		"latency_ms": result.LatencyMs,
		"cache_hit":  result.CacheHit,
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(result.Result, &envelope); err == nil && envelope != nil {
		relayRaw, err := json.Marshal(relay)
		if err == nil {
			envelope["relay"] = relayRaw
			return envelope
		}
	}
	return gin.H{"result": result.Result, "relay": relay}
}

type nodeView struct {
	Wallet        string           `json:"wallet"`
	DisplayName   string           `json:"display_name,omitempty"`
	State         string           `json:"state"`
	GeoLabel      string           `json:"geo_label,omitempty"`
	SourceAddress string           `json:"source_address"`
	ConnectedAt   time.Time        `json:"connected_at"`
	LastPingAt    time.Time        `json:"last_ping_at"`
	Perf          hub.PerfCounters `json:"perf"`
}

func viewOf(node *hub.ConnectedNode) nodeView {
	return nodeView{
		Wallet:        node.Wallet,
		DisplayName:   node.DisplayName,
		State:         node.State().String(),
		GeoLabel:      node.GeoLabel,
		SourceAddress: node.SourceAddress,
		ConnectedAt:   node.ConnectedAt,
		LastPingAt:    node.LastPingAt(),
		Perf:          node.Perf(),
	}
}

func (api *Api) GetNodes(c *gin.Context) {
	all := api.registry.List()
	views := make([]nodeView, 0, len(all))
	for _, node := range all {
		views = append(views, viewOf(node))
	}
	c.JSON(http.StatusOK, gin.H{
		"nodes": views,
		"metadata": gin.H{
			"count": len(views),
		},
	})
}

func (api *Api) GetNode(c *gin.Context) {
	wallet := c.Param("wallet")
	if wallet == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "wallet is required"})
		return
	}

	response := gin.H{}
	if node := api.registry.Get(wallet); node != nil {
		response["connection"] = viewOf(node)
		if info := node.ChainInfo(); info != nil {
			response["chain"] = info
		}
	}
	stats, err := api.store.GetWalletStats(wallet)
	if err == nil {
		response["stats"] = stats
	} else if err != db.ErrNotFound {
		api.logger.Error("failed to load wallet stats", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	if len(response) == 0 {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown wallet"})
		return
	}
	c.JSON(http.StatusOK, response)
}

func (api *Api) GetNetwork(c *gin.Context) {
	global := api.recorder.GlobalSnapshot()
	all := api.registry.List()
	active := 0
	for _, node := range all {
		if node.State() == hub.StateRegisteredActive {
			active++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"connected_nodes": len(all),
		"active_nodes":    active,
		"global":          global,
	})
}
