package openoa

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/windyield/windyield/pkg/types"
)

func TestClientRunAEP(t *testing.T) {
	var got runRequest
	var rawPlant json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/v1/analyses/aep", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Contains(t, r.Header.Get("User-Agent"), "WindYield/")

		var body struct {
			runRequest
			Plant  json.RawMessage `json:"plant"`
			Params AEPParams       `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got = body.runRequest
		got.Params = body.Params
		rawPlant = body.Plant

		w.Write([]byte(`{"schema_version":"1","capacity_mw":8.2,"results":{"aep_GWh":[12.0,13.0,14.0],"avail_pct":0.02,"curt_pct":[0.001,0.003]}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL, Timeout: time.Second})
	res, err := c.RunAEP(context.Background(), Request{Dataset: "la_haute_borne"}, AEPParams{Iterations: 500, UncertaintyMethod: "bootstrap"})
	require.NoError(t, err)

	assert.Equal(t, SchemaVersion, got.SchemaVersion)
	assert.Equal(t, "la_haute_borne", got.Dataset)
	assert.Equal(t, AEPParams{Iterations: 500, UncertaintyMethod: "bootstrap"}, got.Params)
	assert.Equal(t, "null", string(rawPlant))

	assert.Equal(t, 8.2, res.CapacityMW)
	assert.Equal(t, Series{12, 13, 14}, res.AEPGWh)
	assert.Equal(t, Series{0.02}, res.Availability)
	assert.InDelta(t, 13.0, res.AEPGWh.Mean(), 1e-9)
}

func TestClientSendsPlant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Dataset string          `json:"dataset"`
			Plant   types.PlantData `json:"plant"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Empty(t, body.Dataset)
		assert.Equal(t, 10.5, body.Plant.Metadata.CapacityMW)
		require.Len(t, body.Plant.Assets, 1)

		w.Write([]byte(`{"schema_version":"1","capacity_mw":10.5,"results":{"wake_losses_por":0.08,"wake_losses_lt":[0.07,0.09]}}`))
	}))
	defer srv.Close()

	plant := types.PlantData{
		Metadata: types.PlantMetadata{CapacityMW: 10.5},
		Assets:   []types.AssetRow{{AssetID: "WTG01", Type: "turbine"}},
	}
	c := NewClient(Config{URL: srv.URL})
	res, err := c.RunWakeLosses(context.Background(), Request{Plant: &plant}, WakeLossParams{BinWidth: 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.08, res.POR.Mean(), 1e-9)
	assert.InDelta(t, 0.08, res.LT.Mean(), 1e-9)
}

func TestClientSchemaMismatch(t *testing.T) {
	tests := map[string]string{
		"WrongVersion":   `{"schema_version":"2","results":{"electrical_losses":0.02}}`,
		"MissingSeries":  `{"schema_version":"1","results":{"other":1}}`,
		"MissingResults": `{"schema_version":"1"}`,
		"NotJSON":        `<html>`,
		"BadSeries":      `{"schema_version":"1","results":{"electrical_losses":"lots"}}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer srv.Close()

			c := NewClient(Config{URL: srv.URL})
			_, err := c.RunElectricalLosses(context.Background(), Request{Dataset: "x"}, ElectricalLossParams{})
			assert.ErrorIs(t, err, ErrSchemaMismatch)
		})
	}
}

func TestClientUnavailable(t *testing.T) {
	t.Run("Unconfigured", func(t *testing.T) {
		c := NewClient(Config{})
		_, err := c.RunAEP(context.Background(), Request{}, AEPParams{})
		assert.ErrorIs(t, err, ErrUnavailable)
		_, err = c.Version(context.Background())
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("ServiceUnavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		c := NewClient(Config{URL: srv.URL})
		_, err := c.RunTurbineIdealEnergy(context.Background(), Request{}, IdealEnergyParams{})
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("ConnectionRefused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		u := srv.URL
		srv.Close()

		c := NewClient(Config{URL: u, Timeout: time.Second})
		_, err := c.RunAEP(context.Background(), Request{}, AEPParams{})
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}

func TestClientBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := c.RunAEP(ctx, Request{}, AEPParams{})
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrUnavailable), "plain 500 is not unavailability")
	}

	// breaker is open now, the server is not called again
	_, err := c.RunAEP(ctx, Request{}, AEPParams{})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientBadRequestDoesNotTrip(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL})
	for i := 0; i < 5; i++ {
		_, err := c.RunAEP(context.Background(), Request{}, AEPParams{})
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrUnavailable))
	}
	assert.Equal(t, int32(5), calls.Load())
}

func TestClientVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/base/v1/version", r.URL.Path)
		w.Write([]byte(`{"openoa_version":"3.1.2"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL + "/base"})
	v, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3.1.2", v)
}
