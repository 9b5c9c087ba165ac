// Package protocol defines the JSON text frames exchanged between a cache
// node agent and the relay hub over a websocket connection.
package protocol

import "encoding/json"

// Message types.
const (
	TypeRegister      = "register"
	TypeRegistered    = "registered"
	TypeNotRegistered = "not_registered"
	TypeAuthFailed    = "auth_failed"
	TypePing          = "ping"
	TypePong          = "pong"
	TypeRPCRequest    = "rpc_request"
	TypeRPCResponse   = "rpc_response"
)

// Message is the single envelope for every frame on the wire. Fields not
// relevant to a given type are omitted from the encoded frame.
type Message struct {
	Type string `json:"type"`

	// register
	Wallet      string `json:"wallet,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
	Signature   string `json:"signature,omitempty"`

	// registered / not_registered / auth_failed
	Reason string `json:"reason,omitempty"`

	// rpc_request / rpc_response
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	LatencyMs float64         `json:"latency_ms,omitempty"`
	CacheHit  bool            `json:"cache_hit,omitempty"`
}

// RegisterTimestampWindowSeconds is the allowed clock skew for the register
// message timestamp, on either side of hub time.
const RegisterTimestampWindowSeconds = 300
