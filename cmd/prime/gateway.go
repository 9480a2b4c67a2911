package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/primehq/prime/internal/config"
)

// gatewayClient talks to a running instance over its HTTP and
// WebSocket surfaces.
type gatewayClient struct {
	baseURL string
	http    *http.Client
}

func newGatewayClient(cfg *config.Config) *gatewayClient {
	base := cfg.Server.PublicURL
	if base == "" {
		base = "http://" + cfg.Server.Addr
	}
	return &gatewayClient{
		baseURL: strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *gatewayClient) Health(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}
	return out, nil
}

// wsFrame mirrors the gateway's wire shape.
type wsFrame struct {
	Type           string          `json:"type"`
	ID             string          `json:"id,omitempty"`
	Method         string          `json:"method,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Event          string          `json:"event,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	Code           string          `json:"code,omitempty"`
	Message        string          `json:"message,omitempty"`
}

// connectResult is the user block from a successful connect response.
type connectResult struct {
	ConnectionID string `json:"connection_id"`
	User         struct {
		ID     string   `json:"id"`
		OrgID  string   `json:"org_id"`
		Role   string   `json:"role"`
		Scopes []string `json:"scopes"`
	} `json:"user"`
}

// wsSession is an authenticated control plane connection.
type wsSession struct {
	conn      *websocket.Conn
	connected connectResult
}

func (s *wsSession) Close() { _ = s.conn.Close() }

// connectWS dials /ws/events and completes the challenge handshake
// with the saved access token.
func (c *gatewayClient) connectWS(ctx context.Context, token string) (*wsSession, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	wsURL := scheme + "://" + u.Host + "/ws/events"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}

	var challenge wsFrame
	if err := conn.ReadJSON(&challenge); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read challenge: %w", err)
	}
	var nonceBody struct {
		Nonce string `json:"nonce"`
	}
	if err := json.Unmarshal(challenge.Payload, &nonceBody); err != nil || nonceBody.Nonce == "" {
		conn.Close()
		return nil, fmt.Errorf("malformed challenge")
	}

	params, _ := json.Marshal(map[string]any{
		"nonce": nonceBody.Nonce,
		"token": token,
	})
	connectID := uuid.NewString()
	if err := conn.WriteJSON(wsFrame{Type: "req", ID: connectID, Method: "connect", Params: params}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send connect: %w", err)
	}

	var res wsFrame
	if err := conn.ReadJSON(&res); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connection refused: %w", err)
	}
	if res.Type == "error" {
		conn.Close()
		return nil, fmt.Errorf("connect failed: %s (%s)", res.Message, res.Code)
	}

	var result connectResult
	if err := json.Unmarshal(res.Payload, &result); err != nil {
		conn.Close()
		return nil, fmt.Errorf("malformed connect response: %w", err)
	}
	return &wsSession{conn: conn, connected: result}, nil
}

// Call dispatches one request and returns the response payload,
// skipping interleaved events.
func (s *wsSession) Call(method string, params any, idempotencyKey string) (json.RawMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	if err := s.conn.WriteJSON(wsFrame{
		Type:           "req",
		ID:             id,
		Method:         method,
		Params:         raw,
		IdempotencyKey: idempotencyKey,
	}); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	deadline := time.Now().Add(30 * time.Second)
	_ = s.conn.SetReadDeadline(deadline)
	for {
		var frame wsFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		switch frame.Type {
		case "res":
			if frame.ID == id {
				return frame.Payload, nil
			}
		case "error":
			if frame.ID == "" || frame.ID == id {
				return nil, fmt.Errorf("%s: %s", frame.Code, frame.Message)
			}
		}
		// Events and pings for other requests are skipped.
	}
}

func buildGatewayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Talk to the running gateway",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "url",
		Short: "Print the gateway base URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			fmt.Println(newGatewayClient(cfg).baseURL)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Fetch /healthz",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			health, err := newGatewayClient(cfg).Health(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(health)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Connect and report the authenticated identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer session.Close()
			fmt.Printf("connected as %s (role %s, connection %s)\n",
				session.connected.User.ID, session.connected.User.Role, session.connected.ConnectionID)
			return nil
		},
	})

	var paramsJSON, idemKey string
	call := &cobra.Command{
		Use:   "call <method>",
		Short: "Dispatch one request over the control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usagef("gateway call requires exactly one method")
			}
			var params any = map[string]any{}
			if paramsJSON != "" {
				if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
					return usagef("--params must be valid JSON: %v", err)
				}
			}
			session, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer session.Close()

			payload, err := session.Call(args[0], params, idemKey)
			if err != nil {
				return err
			}
			var pretty any
			if err := json.Unmarshal(payload, &pretty); err != nil {
				fmt.Println(string(payload))
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(pretty)
		},
	}
	call.Flags().StringVar(&paramsJSON, "params", "", "request params as JSON")
	call.Flags().StringVar(&idemKey, "idempotency-key", "", "idempotency key for side-effect methods")
	cmd.AddCommand(call)

	return cmd
}

// openSession loads the saved credentials and connects.
func openSession(ctx context.Context) (*wsSession, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	creds, err := loadCredentials()
	if err != nil {
		return nil, fmt.Errorf("not logged in; run `prime auth login` first (%w)", err)
	}
	return newGatewayClient(cfg).connectWS(ctx, creds.AccessToken)
}
