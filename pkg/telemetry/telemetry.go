// Package telemetry is a client for the remote energy telemetry service.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/raterudder/gridsync/pkg/common"
	"github.com/raterudder/gridsync/pkg/log"
	"github.com/raterudder/gridsync/pkg/types"
)

const (
	energyPath   = "api/energy"
	devicesPath  = "api/devices"
	analysisPath = "api/analysis/generate"

	// DefaultRequestTimeout bounds a single request.
	DefaultRequestTimeout = 5 * time.Second
)

// ErrStatus is wrapped by errors returned for non-2xx responses.
var ErrStatus = errors.New("unexpected status")

// Service is the set of remote operations the engine depends on.
type Service interface {
	// LatestSample returns the most recent sample, or nil when the service
	// has no data yet.
	LatestSample(ctx context.Context) (*types.EnergySample, error)

	// Devices returns the current state of every device.
	Devices(ctx context.Context) ([]types.DeviceState, error)

	// SetDevice asks the service to switch a device on or off.
	SetDevice(ctx context.Context, id int64, isOn bool) error

	// GenerateAnalysis runs the scenario analysis and returns its records.
	GenerateAnalysis(ctx context.Context) (types.AnalysisResponse, error)
}

// Client implements Service over HTTP.
type Client struct {
	client         *http.Client
	baseURL        string
	requestTimeout time.Duration
}

var _ Service = (*Client)(nil)

// New returns a Client for the service at baseURL.
func New(baseURL string, requestTimeout time.Duration) *Client {
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	return &Client{
		// analysis runs can take far longer than a poll, so the client timeout
		// is only a backstop and each call sets its own deadline
		client:         common.HTTPClient(time.Minute),
		baseURL:        baseURL,
		requestTimeout: requestTimeout,
	}
}

// Validate checks that the base URL is usable.
func (c *Client) Validate() error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("invalid telemetry base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("telemetry base url must be http or https: %q", c.baseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("telemetry base url is missing a host: %q", c.baseURL)
	}
	return nil
}

// LatestSample implements Service.
func (c *Client) LatestSample(ctx context.Context) (*types.EnergySample, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := c.newGetRequest(ctx, energyPath)
	if err != nil {
		return nil, err
	}
	var res *types.EnergySample
	if err := c.doRequest(req, &res); err != nil {
		return nil, fmt.Errorf("get latest sample failed: %w", err)
	}
	if res == nil {
		log.Ctx(ctx).DebugContext(ctx, "telemetry has no samples yet")
		return nil, nil
	}
	log.Ctx(ctx).DebugContext(ctx, "telemetry sample",
		slog.Int64("id", res.ID),
		slog.Float64("solarKW", res.SolarGeneration),
		slog.Float64("loadKW", res.HomeConsumption),
		slog.Float64("soc", res.BatterySOC),
	)
	return res, nil
}

// Devices implements Service.
func (c *Client) Devices(ctx context.Context) ([]types.DeviceState, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := c.newGetRequest(ctx, devicesPath)
	if err != nil {
		return nil, err
	}
	var res []types.DeviceState
	if err := c.doRequest(req, &res); err != nil {
		return nil, fmt.Errorf("get devices failed: %w", err)
	}
	return res, nil
}

// SetDevice implements Service. The service answers with a bare boolean; a
// false answer is logged but not treated as a failure since the next poll
// shows the real state.
func (c *Client) SetDevice(ctx context.Context, id int64, isOn bool) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := c.newPostJSONRequest(ctx, devicesPath+"/"+strconv.FormatInt(id, 10)+"/control", types.DeviceControl{IsOn: isOn})
	if err != nil {
		return err
	}
	var ok *bool
	if err := c.doRequest(req, &ok); err != nil {
		// the body is advisory, only transport and status errors count
		if !errors.Is(err, errDecode) {
			return fmt.Errorf("control device %d failed: %w", id, err)
		}
		log.Ctx(ctx).DebugContext(ctx, "ignoring undecodable control response", slog.Int64("deviceID", id), slog.Any("error", err))
		return nil
	}
	if ok != nil && !*ok {
		log.Ctx(ctx).WarnContext(ctx, "telemetry service reported control failure", slog.Int64("deviceID", id), slog.Bool("isOn", isOn))
	}
	return nil
}

// GenerateAnalysis implements Service. It uses the context deadline as is
// since an analysis run is not a poll.
func (c *Client) GenerateAnalysis(ctx context.Context) (types.AnalysisResponse, error) {
	req, err := c.newPostJSONRequest(ctx, analysisPath, nil)
	if err != nil {
		return types.AnalysisResponse{}, err
	}
	var res types.AnalysisResponse
	if err := c.doRequest(req, &res); err != nil {
		return types.AnalysisResponse{}, fmt.Errorf("generate analysis failed: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "telemetry analysis",
		slog.Bool("success", res.Success),
		slog.Int("records", len(res.Data)),
		slog.Int("files", len(res.Files)),
	)
	return res, nil
}

func (c *Client) newURL(endpoint string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (c *Client) newGetRequest(ctx context.Context, endpoint string) (*http.Request, error) {
	u, err := c.newURL(endpoint)
	if err != nil {
		return nil, err
	}
	return http.NewRequestWithContext(ctx, "GET", u, nil)
}

func (c *Client) newPostJSONRequest(ctx context.Context, endpoint string, data any) (*http.Request, error) {
	u, err := c.newURL(endpoint)
	if err != nil {
		return nil, err
	}

	var body io.Reader = http.NoBody
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

var errDecode = errors.New("decode failed")

func (c *Client) doRequest(req *http.Request, dest any) error {
	ctx := req.Context()
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Ctx(ctx).WarnContext(ctx, "telemetry request failed",
			slog.String("url", req.URL.String()),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)),
		)
		return fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}

	if dest == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dest); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode telemetry response", slog.Any("error", err), slog.String("body", string(body)))
		return fmt.Errorf("%w: %w", errDecode, err)
	}
	return nil
}
