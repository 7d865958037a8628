package openoa

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
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/sony/gobreaker"
	"github.com/windyield/windyield/pkg/common"
	"github.com/windyield/windyield/pkg/log"
)

// Config holds the engine connection settings.
type Config struct {
	URL     string
	Timeout time.Duration
}

// Configured registers the engine flags.
func Configured() *Config {
	u := lflag.String("openoa-url", "", "Base URL of the OpenOA engine runner (empty disables real analyses)")
	timeout := lflag.Duration("openoa-timeout", 5*time.Minute, "Timeout for a single engine call")

	var c Config
	lflag.Do(func() {
		c.URL = *u
		c.Timeout = *timeout
	})
	return &c
}

// Client implements Engine over HTTP. Consecutive transport or server
// failures open a circuit breaker, after which calls fail fast with
// ErrUnavailable until the breaker half-opens.
type Client struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

var _ Engine = (*Client)(nil)

// engineFailure marks errors that count against the circuit breaker.
type engineFailure struct {
	err error
}

func (e *engineFailure) Error() string { return e.err.Error() }
func (e *engineFailure) Unwrap() error { return e.err }

// NewClient returns a client for cfg.URL. An empty URL yields a client whose
// every call fails with ErrUnavailable.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		baseURL: cfg.URL,
		client:  common.HTTPClient(timeout),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "openoa",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			IsSuccessful: func(err error) bool {
				var ef *engineFailure
				return !errors.As(err, &ef)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Default().Warn(
					"engine circuit breaker state changed",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			},
		}),
	}
}

type runRequest struct {
	SchemaVersion string `json:"schema_version"`
	Dataset       string `json:"dataset"`
	Plant         any    `json:"plant"`
	Params        any    `json:"params"`
}

type runResponse struct {
	SchemaVersion string          `json:"schema_version"`
	CapacityMW    float64         `json:"capacity_mw"`
	Results       json.RawMessage `json:"results"`
}

type validator interface {
	validate() error
}

func (c *Client) endpoint(parts ...string) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("%w: engine url not configured", ErrUnavailable)
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid engine url: %w", err)
	}
	u.Path, err = url.JoinPath(u.Path, parts...)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// do sends req through the breaker and returns the response body of a 200.
func (c *Client) do(req *http.Request) ([]byte, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.client.Do(req)
		if err != nil {
			if ctxErr := req.Context().Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, &engineFailure{fmt.Errorf("%w: %v", ErrUnavailable, err)}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &engineFailure{fmt.Errorf("%w: failed to read response: %v", ErrUnavailable, err)}
		}
		switch {
		case resp.StatusCode == http.StatusOK:
			return body, nil
		case resp.StatusCode >= 500:
			log.Ctx(req.Context()).ErrorContext(
				req.Context(),
				"engine server error",
				slog.Int("status", resp.StatusCode),
				slog.String("body", string(body)),
			)
			if resp.StatusCode == http.StatusServiceUnavailable {
				return nil, &engineFailure{fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)}
			}
			return nil, &engineFailure{fmt.Errorf("engine status %d", resp.StatusCode)}
		default:
			log.Ctx(req.Context()).WarnContext(
				req.Context(),
				"engine rejected request",
				slog.Int("status", resp.StatusCode),
				slog.String("body", string(body)),
			)
			return nil, fmt.Errorf("engine status %d", resp.StatusCode)
		}
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}

func (c *Client) run(ctx context.Context, analysis string, req Request, params any, dest validator) (float64, error) {
	u, err := c.endpoint("v1", "analyses", analysis)
	if err != nil {
		return 0, err
	}

	rr := runRequest{
		SchemaVersion: SchemaVersion,
		Dataset:       req.Dataset,
		Params:        params,
	}
	if req.Plant != nil {
		rr.Plant = req.Plant
	}
	body, err := json.Marshal(rr)
	if err != nil {
		return 0, fmt.Errorf("failed to encode engine request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, "POST", u, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	respBody, err := c.do(httpReq)
	if err != nil {
		return 0, err
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"engine analysis finished",
		slog.String("analysis", analysis),
		slog.Duration("duration", time.Since(start)),
	)

	var resp runResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	if resp.SchemaVersion != SchemaVersion {
		return 0, fmt.Errorf("%w: schema version %q", ErrSchemaMismatch, resp.SchemaVersion)
	}
	if len(resp.Results) == 0 {
		return 0, fmt.Errorf("%w: missing results", ErrSchemaMismatch)
	}
	if err := json.Unmarshal(resp.Results, dest); err != nil {
		if errors.Is(err, ErrSchemaMismatch) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	if err := dest.validate(); err != nil {
		return 0, err
	}
	return resp.CapacityMW, nil
}

// RunAEP implements Engine.
func (c *Client) RunAEP(ctx context.Context, req Request, params AEPParams) (AEPResults, error) {
	var r AEPResults
	capacity, err := c.run(ctx, "aep", req, params, &r)
	if err != nil {
		return AEPResults{}, err
	}
	r.CapacityMW = capacity
	return r, nil
}

// RunElectricalLosses implements Engine.
func (c *Client) RunElectricalLosses(ctx context.Context, req Request, params ElectricalLossParams) (ElectricalLossResults, error) {
	var r ElectricalLossResults
	capacity, err := c.run(ctx, "electrical_losses", req, params, &r)
	if err != nil {
		return ElectricalLossResults{}, err
	}
	r.CapacityMW = capacity
	return r, nil
}

// RunWakeLosses implements Engine.
func (c *Client) RunWakeLosses(ctx context.Context, req Request, params WakeLossParams) (WakeLossResults, error) {
	var r WakeLossResults
	capacity, err := c.run(ctx, "wake_losses", req, params, &r)
	if err != nil {
		return WakeLossResults{}, err
	}
	r.CapacityMW = capacity
	return r, nil
}

// RunTurbineIdealEnergy implements Engine.
func (c *Client) RunTurbineIdealEnergy(ctx context.Context, req Request, params IdealEnergyParams) (IdealEnergyResults, error) {
	var r IdealEnergyResults
	capacity, err := c.run(ctx, "turbine_ideal_energy", req, params, &r)
	if err != nil {
		return IdealEnergyResults{}, err
	}
	r.CapacityMW = capacity
	return r, nil
}

// Version returns the engine's OpenOA library version.
func (c *Client) Version(ctx context.Context) (string, error) {
	u, err := c.endpoint("v1", "version")
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return "", err
	}
	body, err := c.do(req)
	if err != nil {
		return "", err
	}
	var v struct {
		OpenOAVersion string `json:"openoa_version"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	if v.OpenOAVersion == "" {
		return "", fmt.Errorf("%w: missing openoa_version", ErrSchemaMismatch)
	}
	return v.OpenOAVersion, nil
}
