package main

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hayahq/haya/internal/config"
)

// rpcClient is the CLI's connection to a running daemon's WebSocket
// control plane.
type rpcClient struct {
	conn   *websocket.Conn
	nextID int
}

// dialGateway connects and authenticates against the local daemon using
// the config's effective token.
func dialGateway(cfg *config.Config) (*rpcClient, error) {
	token := cfg.Gateway.EffectiveToken()
	if token == "" {
		return nil, fmt.Errorf("no gateway token configured; run `haya init`")
	}
	scheme := "ws"
	dialer := *websocket.DefaultDialer
	if cfg.Gateway.TLS.Enabled {
		scheme = "wss"
		// The daemon's certificate is self-signed.
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	url := fmt.Sprintf("%s://%s/", scheme, cfg.Gateway.ListenAddr())
	header := http.Header{"Authorization": {"Bearer " + token}}

	dialer.HandshakeTimeout = 5 * time.Second
	conn, _, err := dialer.Dial(url, header)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w (is the daemon running?)", url, err)
	}
	return &rpcClient{conn: conn}, nil
}

func (c *rpcClient) Close() error { return c.conn.Close() }

type rpcFrame struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params any             `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Event string `json:"event,omitempty"`
}

// Call sends one request and waits for its response, skipping any events
// pushed in between. out may be nil.
func (c *rpcClient) Call(method string, params, out any) error {
	c.nextID++
	id := fmt.Sprintf("cli-%d", c.nextID)
	if err := c.conn.WriteJSON(rpcFrame{ID: id, Method: method, Params: params}); err != nil {
		return err
	}
	deadline := time.Now().Add(60 * time.Second)
	for {
		_ = c.conn.SetReadDeadline(deadline)
		var frame rpcFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			return err
		}
		if frame.ID != id {
			continue
		}
		if frame.Error != nil {
			return fmt.Errorf("%s: %s", frame.Error.Code, frame.Error.Message)
		}
		if out != nil && len(frame.Result) > 0 {
			return json.Unmarshal(frame.Result, out)
		}
		return nil
	}
}
