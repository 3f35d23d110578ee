package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	slogctx "github.com/veqryn/slog-context"
	"gitlab.com/tozd/go/errors"

	"github.com/jcdickinson/quarry/internal/analysis"
	"github.com/jcdickinson/quarry/internal/errdefs"
	"github.com/jcdickinson/quarry/internal/rpc"
	"github.com/jcdickinson/quarry/internal/rustdoc"
)

// Client talks to a daemon over its unix socket. It implements
// analysis.Service, rebuilding typed errors from the daemon's codes.
type Client struct {
	socketPath string
	httpClient *http.Client
}

var _ analysis.Service = (*Client)(nil)

func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
			Timeout: 15 * time.Minute, // the first request documents the standard library
		},
	}
}

// ConnectOrSpawn tries to connect to the daemon, spawning it if necessary.
func ConnectOrSpawn(ctx context.Context, socketPath string, args ...string) (*Client, error) {
	client := NewClient(socketPath)

	if client.IsAvailable() {
		return client, nil
	}

	slogctx.FromCtx(ctx).DebugContext(ctx, "spawning daemon", "socket", socketPath)
	if err := Spawn(args...); err != nil {
		return nil, errors.Errorf("spawning daemon: %w", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
		if client.IsAvailable() {
			return client, nil
		}
	}

	return nil, errors.New("daemon did not start within 5 seconds")
}

func (c *Client) IsAvailable() bool {
	conn, err := net.DialTimeout("unix", c.socketPath, 100*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (c *Client) Lookup(ctx context.Context, path string) (*rustdoc.StructInfo, error) {
	var resp rpc.StructResponse
	if err := c.do(ctx, http.MethodPost, "/struct", rpc.StructRequest{Path: path}, &resp); err != nil {
		return nil, err
	}
	if resp.Struct == nil {
		return nil, errors.Errorf("daemon returned no struct for %s", path)
	}
	if resp.Struct.Fields == nil {
		resp.Struct.Fields = []rustdoc.FieldInfo{}
	}
	return resp.Struct, nil
}

// Exists reports false when the daemon cannot answer.
func (c *Client) Exists(ctx context.Context, path string) bool {
	var resp rpc.ExistsResponse
	if err := c.do(ctx, http.MethodPost, "/exists", rpc.StructRequest{Path: path}, &resp); err != nil {
		slogctx.FromCtx(ctx).DebugContext(ctx, "exists request failed", "path", path, "error", err)
		return false
	}
	return resp.Exists
}

func (c *Client) List(ctx context.Context) ([]string, error) {
	var resp rpc.ListResponse
	if err := c.do(ctx, http.MethodGet, "/list", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Paths, nil
}

func (c *Client) Stats(ctx context.Context) (analysis.Stats, error) {
	var resp rpc.StatsResponse
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &resp); err != nil {
		return analysis.Stats{}, err
	}
	return analysis.Stats{Entries: resp.Entries, Initialized: resp.Initialized}, nil
}

func (c *Client) EnsureInitialized(ctx context.Context) error {
	var resp map[string]string
	return c.do(ctx, http.MethodPost, "/init", nil, &resp)
}

func (c *Client) Clear(ctx context.Context, purge bool) error {
	var resp map[string]string
	return c.do(ctx, http.MethodPost, "/clear-cache", rpc.ClearRequest{Purge: purge}, &resp)
}

func (c *Client) Shutdown(ctx context.Context) error {
	var resp map[string]string
	return c.do(ctx, http.MethodPost, "/shutdown", nil, &resp)
}

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return errors.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://unix"+path, reader)
	if err != nil {
		return errors.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return errors.Errorf("decoding response: %w", err)
	}
	return nil
}

func decodeError(status int, body []byte) error {
	var e rpc.ErrorResponse
	if err := json.Unmarshal(body, &e); err != nil || e.Error == "" {
		return errors.Errorf("daemon returned %d: %s", status, string(body))
	}
	if e.Code == errdefs.CodeTypeNotFound {
		return &errdefs.TypeNotFoundError{Path: e.Path, Ambiguous: e.Ambiguous}
	}
	return errdefs.FromCode(e.Code, e.Path, e.Kind, e.Error)
}
