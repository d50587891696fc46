package clash

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// LoadProfile makes the core reload its configuration from a file path.
func (c *Client) LoadProfile(ctx context.Context, path string) error {
	query := url.Values{}
	query.Set("force", "true")
	if err := c.do(ctx, http.MethodPut, "/configs", query, map[string]string{"path": path}, nil); err != nil {
		return fmt.Errorf("load profile %s: %w", path, err)
	}
	c.invalidateSnapshot()
	return nil
}

// EnableTun toggles the core's TUN inbound. An empty stack keeps the core default.
func (c *Client) EnableTun(ctx context.Context, enable bool, stack string) error {
	tun := map[string]any{"enable": enable}
	if stack != "" {
		tun["stack"] = stack
	}
	if err := c.do(ctx, http.MethodPatch, "/configs", nil, map[string]any{"tun": tun}, nil); err != nil {
		return fmt.Errorf("set tun enable=%t: %w", enable, err)
	}
	return nil
}

// SetMixedPort sets the HTTP/SOCKS mixed inbound port. Zero closes it.
func (c *Client) SetMixedPort(ctx context.Context, port int) error {
	if err := c.do(ctx, http.MethodPatch, "/configs", nil, map[string]any{"mixed-port": port}, nil); err != nil {
		return fmt.Errorf("set mixed port %d: %w", port, err)
	}
	return nil
}

// CloseConnections drops every tracked connection.
func (c *Client) CloseConnections(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/connections", nil, nil, nil)
}

// QueryTrafficNow reads the first sample of the /traffic stream.
func (c *Client) QueryTrafficNow(ctx context.Context) (Traffic, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/traffic", nil, nil)
	if err != nil {
		return Traffic{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Traffic{}, fmt.Errorf("clash: GET /traffic: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Traffic{}, decodeAPIError(resp)
	}
	var sample Traffic
	if err := json.NewDecoder(resp.Body).Decode(&sample); err != nil {
		return Traffic{}, fmt.Errorf("clash: decode traffic: %w", err)
	}
	return sample, nil
}

// QueryTrafficTotal reads cumulative counters from /connections.
func (c *Client) QueryTrafficTotal(ctx context.Context) (TrafficTotal, error) {
	var payload struct {
		UploadTotal   int64             `json:"uploadTotal"`
		DownloadTotal int64             `json:"downloadTotal"`
		Connections   []json.RawMessage `json:"connections"`
	}
	if err := c.get(ctx, "/connections", nil, &payload); err != nil {
		return TrafficTotal{}, err
	}
	return TrafficTotal{
		Up:          payload.UploadTotal,
		Down:        payload.DownloadTotal,
		Connections: len(payload.Connections),
	}, nil
}

// QueryTunnelState reads mode, TUN and inbound settings from /configs.
func (c *Client) QueryTunnelState(ctx context.Context) (TunnelState, error) {
	var payload struct {
		Mode      string `json:"mode"`
		MixedPort int    `json:"mixed-port"`
		Tun       struct {
			Enable bool `json:"enable"`
		} `json:"tun"`
	}
	if err := c.get(ctx, "/configs", nil, &payload); err != nil {
		return TunnelState{}, err
	}
	return TunnelState{
		Mode:       payload.Mode,
		TunEnabled: payload.Tun.Enable,
		MixedPort:  payload.MixedPort,
	}, nil
}
