package prtg

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/opsconductor/opsconductor/internal/connector"
	"github.com/opsconductor/opsconductor/internal/models"
	"github.com/rs/zerolog/log"
)

// Config is the stored connector configuration.
type Config struct {
	URL                 string `json:"url"`
	APIToken            string `json:"api_token"`
	Username            string `json:"username"`
	Passhash            string `json:"passhash"`
	VerifySSL           *bool  `json:"verify_ssl"`
	PollIntervalSeconds int    `json:"poll_interval_seconds"`
	TimeoutSeconds      int    `json:"timeout_seconds"`
}

// Connector polls PRTG for sensors in alert state and accepts webhook
// pushes. Both paths converge on the same Normalizer.
type Connector struct {
	cfg        Config
	normalizer *Normalizer

	mu      sync.Mutex
	client  *http.Client
	started bool
}

// Alert-state sensor filter: Warning, Down, Unusual, Down (Ack),
// Down (Partial).
var alertStatusFilter = []int{4, 5, 10, 13, 14}

// New builds a Connector from its stored JSON config.
func New(raw json.RawMessage, normalizer *Normalizer) (*Connector, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("prtg config: %w", err)
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 30
	}
	return &Connector{cfg: cfg, normalizer: normalizer}, nil
}

// Factory adapts New to the registry signature.
func Factory(normalizer *Normalizer) connector.Factory {
	return func(raw json.RawMessage) (connector.Connector, error) {
		return New(raw, normalizer)
	}
}

func (c *Connector) Type() string       { return "prtg" }
func (c *Connector) PollInterval() int  { return c.cfg.PollIntervalSeconds }

// Start creates the outbound HTTP session. Idempotent.
func (c *Connector) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	transport := &http.Transport{}
	if c.cfg.VerifySSL != nil && !*c.cfg.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	c.client = &http.Client{
		Timeout:   time.Duration(c.cfg.TimeoutSeconds) * time.Second,
		Transport: transport,
	}
	c.started = true
	return nil
}

func (c *Connector) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.CloseIdleConnections()
		c.client = nil
	}
	c.started = false
	return nil
}

func (c *Connector) httpClient() (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started || c.client == nil {
		return nil, fmt.Errorf("prtg: connector not started")
	}
	return c.client, nil
}

func (c *Connector) authParams() (url.Values, error) {
	v := url.Values{}
	switch {
	case c.cfg.APIToken != "":
		v.Set("apitoken", c.cfg.APIToken)
	case c.cfg.Username != "" && c.cfg.Passhash != "":
		v.Set("username", c.cfg.Username)
		v.Set("passhash", c.cfg.Passhash)
	default:
		return nil, fmt.Errorf("prtg: authentication not configured")
	}
	return v, nil
}

func (c *Connector) request(ctx context.Context, endpoint string, params url.Values) (map[string]any, error) {
	if c.cfg.URL == "" {
		return nil, fmt.Errorf("prtg: url not configured")
	}
	client, err := c.httpClient()
	if err != nil {
		return nil, err
	}
	auth, err := c.authParams()
	if err != nil {
		return nil, err
	}
	for k, vs := range params {
		for _, v := range vs {
			auth.Add(k, v)
		}
	}

	reqURL := fmt.Sprintf("%s%s?%s", c.cfg.URL, endpoint, auth.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("prtg: authentication rejected (%s)", resp.Status)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("prtg: %s returned %s", endpoint, resp.Status)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("prtg: decode %s: %w", endpoint, err)
	}
	return body, nil
}

// TestConnection probes getstatus.json, falling back to table.json for
// servers that do not expose the status endpoint.
func (c *Connector) TestConnection(ctx context.Context) connector.TestResult {
	if err := c.Start(ctx); err != nil {
		return connector.TestResult{Success: false, Message: err.Error()}
	}

	status, err := c.request(ctx, "/api/getstatus.json", nil)
	if err == nil {
		return connector.TestResult{
			Success: true,
			Message: "Connected to PRTG",
			Details: map[string]any{
				"version":    status["Version"],
				"alarms":     status["Alarms"],
				"new_alarms": status["NewAlarms"],
			},
		}
	}

	params := url.Values{}
	params.Set("content", "sensors")
	params.Set("count", "1")
	table, terr := c.request(ctx, "/api/table.json", params)
	if terr != nil {
		return connector.TestResult{Success: false, Message: fmt.Sprintf("Connection failed: %v", err)}
	}
	return connector.TestResult{
		Success: true,
		Message: "Connected to PRTG",
		Details: map[string]any{"sensor_count": table["treesize"]},
	}
}

// Poll fetches sensors currently in an alert state and normalizes each.
// A sensor that fails to normalize is skipped, not fatal.
func (c *Connector) Poll(ctx context.Context) ([]models.NormalizedAlert, error) {
	params := url.Values{}
	params.Set("content", "sensors")
	params.Set("columns", "objid,sensor,device,group,probe,status,status_raw,message,lastvalue,priority,type,host")
	params.Set("count", "5000")
	for _, status := range alertStatusFilter {
		params.Add("filter_status", fmt.Sprintf("%d", status))
	}

	result, err := c.request(ctx, "/api/table.json", params)
	if err != nil {
		return nil, err
	}

	sensors, _ := result["sensors"].([]any)
	alerts := make([]models.NormalizedAlert, 0, len(sensors))
	for _, s := range sensors {
		raw, ok := s.(map[string]any)
		if !ok {
			continue
		}
		normalized, err := c.normalizer.Normalize(ctx, raw)
		if err != nil {
			log.Warn().Err(err).Interface("objid", raw["objid"]).Msg("Failed to normalize PRTG sensor")
			continue
		}
		if normalized == nil {
			continue
		}
		alerts = append(alerts, *normalized)
	}
	log.Debug().Int("count", len(alerts)).Msg("PRTG poll complete")
	return alerts, nil
}

// HandleWebhook normalizes a pushed payload. A nil alert with nil
// error means the normalizer dropped it; the HTTP layer still answers
// 2xx.
func (c *Connector) HandleWebhook(ctx context.Context, payload map[string]any) (*models.NormalizedAlert, error) {
	normalized, err := c.normalizer.Normalize(ctx, payload)
	if err != nil {
		return nil, err
	}
	if normalized != nil {
		log.Info().
			Str("title", normalized.Title).
			Str("severity", string(normalized.Severity)).
			Msg("PRTG webhook received")
	}
	return normalized, nil
}
