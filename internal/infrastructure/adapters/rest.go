package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/integration"
)

const (
	defaultRESTTimeout      = 10 * time.Second
	defaultRESTPollInterval = 30 * time.Second
)

// RESTAdapter talks to an HTTP API: Send POSTs the packet envelope as JSON,
// an optional poller GETs an endpoint on an interval and fans the response
// out to subscribers, and connectivity is probed through a configurable
// health path.
//
// Registered for the "rest_api" system type.
type RESTAdapter struct {
	*BaseAdapter

	baseURL      string
	sendPath     string
	pollPath     string
	healthPath   string
	pollInterval time.Duration
	timeout      time.Duration

	client   *http.Client
	headers  map[string]string
	username string
	password string

	runMu  sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRESTAdapter creates a REST adapter from its config. Recognized
// connection params: "base_url" (required), "send_path" (default
// "/ingest"), "poll_path" (empty disables the poller), "health_path"
// (default "/health"), "poll_interval" and "timeout" (durations). Auth
// params: "bearer_token", "api_key" with "api_key_header" (default
// "X-API-Key"), or "username" and "password" for basic auth.
func NewRESTAdapter(cfg *integration.IntegrationConfig, logger *zap.Logger) (*RESTAdapter, error) {
	raw := cfg.StringParam("base_url", "")
	if raw == "" {
		return nil, integration.NewConfigurationError(cfg.ID, "rest adapter: a base_url parameter is required", nil)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, integration.NewConfigurationError(cfg.ID, "rest adapter: invalid base_url", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, integration.NewConfigurationError(cfg.ID, "rest adapter: unsupported base_url scheme "+u.Scheme, nil)
	}

	timeout := cfg.DurationParam("timeout", defaultRESTTimeout)

	headers := make(map[string]string)
	if token := authString(cfg, "bearer_token"); token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	if apiKey := authString(cfg, "api_key"); apiKey != "" {
		name := authString(cfg, "api_key_header")
		if name == "" {
			name = "X-API-Key"
		}
		headers[name] = apiKey
	}

	return &RESTAdapter{
		BaseAdapter:  NewBaseAdapter(cfg, logger),
		baseURL:      strings.TrimRight(u.String(), "/"),
		sendPath:     normalizePath(cfg.StringParam("send_path", "/ingest")),
		pollPath:     normalizePath(cfg.StringParam("poll_path", "")),
		healthPath:   normalizePath(cfg.StringParam("health_path", "/health")),
		pollInterval: cfg.DurationParam("poll_interval", defaultRESTPollInterval),
		timeout:      timeout,
		client:       &http.Client{Timeout: timeout},
		headers:      headers,
		username:     authString(cfg, "username"),
		password:     authString(cfg, "password"),
	}, nil
}

func normalizePath(p string) string {
	if p == "" || strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + p
}

// Initialize implements integration.Adapter.
func (a *RESTAdapter) Initialize(ctx context.Context) error {
	a.setService(integration.ServiceStatusReady)
	return nil
}

// Start implements integration.Adapter.
func (a *RESTAdapter) Start(ctx context.Context) error {
	a.setService(integration.ServiceStatusRunning)
	return nil
}

// Stop implements integration.Adapter.
func (a *RESTAdapter) Stop(ctx context.Context) error {
	_ = a.Disconnect(ctx)
	a.setService(integration.ServiceStatusOffline)
	return nil
}

// Connect implements integration.Adapter by probing the health endpoint and
// starting the poller when one is configured.
func (a *RESTAdapter) Connect(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	if a.stopCh != nil {
		return nil
	}

	ok, err := a.TestConnection(ctx)
	if err != nil {
		return integration.NewConnectionError(a.ID(), "rest adapter: health probe failed", err)
	}
	if !ok {
		return integration.NewConnectionError(a.ID(), "rest adapter: health endpoint not ready", nil)
	}

	stop := make(chan struct{})
	a.stopCh = stop
	if a.pollPath != "" {
		a.wg.Add(1)
		go a.runPoller(stop)
	}

	a.setConnection(integration.ConnectionStatusConnected)
	return nil
}

// Disconnect implements integration.Adapter.
func (a *RESTAdapter) Disconnect(ctx context.Context) error {
	a.runMu.Lock()
	if a.stopCh != nil {
		close(a.stopCh)
		a.stopCh = nil
	}
	a.runMu.Unlock()

	a.wg.Wait()
	a.client.CloseIdleConnections()
	a.setConnection(integration.ConnectionStatusDisconnected)
	return nil
}

// Reconnect implements integration.Adapter.
func (a *RESTAdapter) Reconnect(ctx context.Context) error {
	_ = a.Disconnect(ctx)
	return a.Connect(ctx)
}

// TestConnection implements integration.Adapter. A response below 400 is a
// positive probe, anything else a clean negative.
func (a *RESTAdapter) TestConnection(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.do(ctx, http.MethodGet, a.healthPath, nil, "")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode < http.StatusBadRequest, nil
}

// Latency implements integration.Adapter by timing a health request.
func (a *RESTAdapter) Latency(ctx context.Context) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	resp, err := a.do(ctx, http.MethodGet, a.healthPath, nil, "")
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return time.Since(start), nil
}

// Health implements integration.Adapter.
func (a *RESTAdapter) Health(ctx context.Context) (integration.ServiceHealth, error) {
	return a.health(map[string]any{
		"base_url": a.baseURL,
		"polling":  a.pollPath != "",
	}), nil
}

// Send implements integration.Adapter by POSTing the packet envelope.
func (a *RESTAdapter) Send(ctx context.Context, packet *integration.DataPacket, opts integration.SendOptions) error {
	if !a.connected() {
		return integration.NewConnectionError(a.ID(), "rest adapter is not connected", nil)
	}

	out := a.outbound(packet, opts)
	body, err := json.Marshal(out)
	if err != nil {
		return integration.NewValidationError(a.ID(), "rest adapter: encoding packet", err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.sendTimeout(opts, a.timeout))
	defer cancel()

	resp, err := a.do(ctx, http.MethodPost, a.sendPath, bytes.NewReader(body), "application/json")
	if err != nil {
		a.noteError(err)
		return integration.NewCommunicationError(a.ID(), "rest adapter: posting packet", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		err := fmt.Errorf("endpoint returned %s", resp.Status)
		a.noteError(err)
		return integration.NewCommunicationError(a.ID(), "rest adapter: posting packet", err)
	}
	a.markSent()
	return nil
}

func (a *RESTAdapter) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}
	if a.username != "" {
		req.SetBasicAuth(a.username, a.password)
	}
	return a.client.Do(req)
}

func (a *RESTAdapter) runPoller(stop <-chan struct{}) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.poll(context.Background())
		}
	}
}

// poll fetches the poll endpoint once. A JSON array fans out element by
// element; any other body becomes a single packet.
func (a *RESTAdapter) poll(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.do(ctx, http.MethodGet, a.pollPath, nil, "")
	if err != nil {
		a.noteError(err)
		a.logger.Warn("poll request failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return
	}
	if resp.StatusCode >= http.StatusBadRequest {
		err := fmt.Errorf("poll endpoint returned %s", resp.Status)
		a.noteError(err)
		a.logger.Warn("poll request failed", zap.Error(err))
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		a.noteError(err)
		a.logger.Warn("reading poll response failed", zap.Error(err))
		return
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return
	}

	var batch []json.RawMessage
	if err := json.Unmarshal(body, &batch); err == nil {
		for _, item := range batch {
			a.dispatch(ctx, inboundPacket(a.ID(), item))
		}
		return
	}
	a.dispatch(ctx, inboundPacket(a.ID(), body))
}

var _ integration.Adapter = (*RESTAdapter)(nil)
