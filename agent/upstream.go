package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// Upstream is the agent's client for the real blockchain RPC endpoint.
type Upstream struct {
	url    string
	client *http.Client
}

func NewUpstream(url string, timeout time.Duration) *Upstream {
	return &Upstream{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// rpcPayload is the slice of the request we care about: the method decides
// cacheability and TTL, the params complete the cache key.
type rpcPayload struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func parsePayload(payload []byte) (rpcPayload, error) {
	var parsed rpcPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return parsed, errors.Wrap(err, "malformed rpc payload")
	}
	if parsed.Method == "" {
		return parsed, errors.New("rpc payload missing method")
	}
	return parsed, nil
}

// Call forwards the raw payload to the upstream RPC. The second return
// reports whether the response body carries an RPC-level error envelope;
// those are propagated to the hub but never cached.
func (u *Upstream) Call(ctx context.Context, payload []byte) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, bytes.NewReader(payload))
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to build upstream request")
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := u.client.Do(req)
	if err != nil {
		return nil, false, errors.Wrap(err, "upstream rpc call failed")
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to read upstream response")
	}
	if res.StatusCode != http.StatusOK {
		return nil, false, errors.Errorf("upstream rpc returned status %d", res.StatusCode)
	}

	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	hasRPCError := json.Unmarshal(body, &envelope) == nil && len(envelope.Error) > 0 && string(envelope.Error) != "null"
	return body, hasRPCError, nil
}
