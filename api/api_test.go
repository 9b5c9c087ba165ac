package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rpcmesh/rpcmesh/chain"
	"github.com/rpcmesh/rpcmesh/db"
	"github.com/rpcmesh/rpcmesh/hub"
	"github.com/rpcmesh/rpcmesh/protocol"
)

type apiHarness struct {
	api      *Api
	registry *hub.Registry
	store    db.Store
	ts       *httptest.Server
}

func newApiHarness(t *testing.T) *apiHarness {
	t.Helper()
	store, err := db.NewFileStore(filepath.Join(t.TempDir(), "stats.json"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := hub.NewRegistry(zap.NewNop())
	cfg := &hub.Config{}
	recorder := hub.NewRecorder(store, "", registry, cfg, zap.NewNop())
	server := hub.NewServer(cfg, registry, recorder, chain.NewStaticVerifier(), nil, zap.NewNop())
	router := hub.NewRouter(registry, recorder, cfg, zap.NewNop())

	api := New(&Config{}, router, registry, recorder, server, store, zap.NewNop())
	ts := httptest.NewServer(api.Engine())
	t.Cleanup(ts.Close)
	return &apiHarness{api: api, registry: registry, store: store, ts: ts}
}

// connectAgent registers a fake cache node over the websocket endpoint and
// answers every forwarded call with a fixed result.
func (h *apiHarness) connectAgent(t *testing.T, wallet string, result string) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.WriteJSON(&protocol.Message{
		Type:      protocol.TypeRegister,
		Wallet:    wallet,
		Timestamp: time.Now().Unix(),
		Signature: "0x" + strings.Repeat("ab", 65),
	}))
	var first protocol.Message
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, protocol.TypeRegistered, first.Type)
	_ = conn.SetReadDeadline(time.Time{})

	go func() {
		for {
			var msg protocol.Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			switch msg.Type {
			case protocol.TypePing:
				_ = conn.WriteJSON(&protocol.Message{Type: protocol.TypePong})
			case protocol.TypeRPCRequest:
				_ = conn.WriteJSON(&protocol.Message{
					Type:   protocol.TypeRPCResponse,
					ID:     msg.ID,
					Result: json.RawMessage(result),
				})
			}
		}
	}()
}

func TestRPCRequiresBody(t *testing.T) {
	h := newApiHarness(t)

	res, err := http.Post(h.ts.URL+"/", "application/json", nil)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestRPCWithoutNodesReturns503(t *testing.T) {
	h := newApiHarness(t)

	res, err := http.Post(h.ts.URL+"/rpc", "application/json",
		strings.NewReader(`{"method":"getSlot"}`))
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}

func TestRPCEndToEndInjectsRelayMetadata(t *testing.T) {
	h := newApiHarness(t)
	h.connectAgent(t, "0xAbC123", `{"jsonrpc":"2.0","id":1,"result":55}`)

	res, err := http.Post(h.ts.URL+"/", "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"getSlot","params":[]}`))
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var body map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, `55`, string(body["result"]))

	var relay struct {
		Node     string `json:"node"`
		CacheHit bool   `json:"cache_hit"`
	}
	require.NoError(t, json.Unmarshal(body["relay"], &relay))
	assert.Equal(t, "0xAbC123", relay.Node)
}

func TestWithRelayMetadataWrapsNonObjectResults(t *testing.T) {
	out := withRelayMetadata(&hub.RouteResult{
		Result:    json.RawMessage(`[1,2,3]`),
		Wallet:    "0xAbC123",
		LatencyMs: 12,
	})
	encoded, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":[1,2,3],"relay":{"node":"0xAbC123","latency_ms":12,"cache_hit":false}}`, string(encoded))
}

func TestGetNodesListsConnections(t *testing.T) {
	h := newApiHarness(t)
	h.connectAgent(t, "0xAbC123", `{}`)

	res, err := http.Get(h.ts.URL + "/api/nodes")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var body struct {
		Nodes []struct {
			Wallet string `json:"wallet"`
			State  string `json:"state"`
		} `json:"nodes"`
		Metadata struct {
			Count int `json:"count"`
		} `json:"metadata"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	require.Equal(t, 1, body.Metadata.Count)
	assert.Equal(t, "0xAbC123", body.Nodes[0].Wallet)
}

func TestGetNodeServesDurableStatsForOfflineWallet(t *testing.T) {
	h := newApiHarness(t)
	require.NoError(t, h.store.SaveWalletStats(&db.WalletStats{
		Wallet:          "0xoffline",
		RequestsHandled: 42,
	}))

	res, err := http.Get(h.ts.URL + "/api/nodes/0xoffline")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var body struct {
		Connection *json.RawMessage `json:"connection"`
		Stats      *db.WalletStats  `json:"stats"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Nil(t, body.Connection)
	require.NotNil(t, body.Stats)
	assert.Equal(t, uint64(42), body.Stats.RequestsHandled)
}

func TestGetNodeLookupIgnoresAddressCasing(t *testing.T) {
	h := newApiHarness(t)
	require.NoError(t, h.store.SaveWalletStats(&db.WalletStats{
		Wallet:          "0xOffLine",
		RequestsHandled: 42,
	}))

	res, err := http.Get(h.ts.URL + "/api/nodes/0xOFFLINE")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestGetNodeUnknownWallet(t *testing.T) {
	h := newApiHarness(t)

	res, err := http.Get(h.ts.URL + "/api/nodes/0xnobody")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestGetNetwork(t *testing.T) {
	h := newApiHarness(t)
	h.connectAgent(t, "0xAbC123", `{}`)

	res, err := http.Get(h.ts.URL + "/api/network")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var body struct {
		ConnectedNodes int `json:"connected_nodes"`
		ActiveNodes    int `json:"active_nodes"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, 1, body.ConnectedNodes)
	assert.Equal(t, 1, body.ActiveNodes)
}
