package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raterudder/gridsync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return New(ts.URL, time.Second)
}

func TestLatestSample(t *testing.T) {
	ctx := context.Background()

	t.Run("sample", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "GET", r.Method)
			assert.Equal(t, "/api/energy", r.URL.Path)
			w.Write([]byte(`{"id":42,"timestamp":"2024-05-01T12:00:00","grid_import":1.5,"grid_export":0,"solar_generation":2.25,"battery_charge":0.5,"battery_discharge":0,"home_consumption":3.25,"battery_soc":81.5}`))
		})
		s, err := c.LatestSample(ctx)
		require.NoError(t, err)
		require.NotNil(t, s)
		assert.Equal(t, int64(42), s.ID)
		assert.Equal(t, 1.5, s.GridImport)
		assert.Equal(t, 2.25, s.SolarGeneration)
		assert.Equal(t, 0.5, s.BatteryCharge)
		assert.Equal(t, 3.25, s.HomeConsumption)
		assert.Equal(t, 81.5, s.BatterySOC)
		assert.Equal(t, 12, s.Timestamp.Hour())
	})

	t.Run("null", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`null`))
		})
		s, err := c.LatestSample(ctx)
		require.NoError(t, err)
		assert.Nil(t, s)
	})

	t.Run("status", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		_, err := c.LatestSample(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrStatus)
	})

	t.Run("malformed", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"id":`))
		})
		_, err := c.LatestSample(ctx)
		assert.Error(t, err)
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		})
		defer close(release)
		c.requestTimeout = 50 * time.Millisecond
		_, err := c.LatestSample(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestDevices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/devices", r.URL.Path)
		w.Write([]byte(`[{"id":1,"name":"Washer","device_type":"washing_machine","power_rating":2.0,"is_on":true,"priority":2},{"id":2,"name":"EV Charger","device_type":"ev_charger","power_rating":7.2,"is_on":false,"priority":1}]`))
	})
	devices, err := c.Devices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []types.DeviceState{
		{ID: 1, Name: "Washer", DeviceType: "washing_machine", PowerRating: 2.0, IsOn: true, Priority: 2},
		{ID: 2, Name: "EV Charger", DeviceType: "ev_charger", PowerRating: 7.2, IsOn: false, Priority: 1},
	}, devices)
}

func TestSetDevice(t *testing.T) {
	ctx := context.Background()

	t.Run("sends body", func(t *testing.T) {
		var calls atomic.Int32
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			assert.Equal(t, "POST", r.Method)
			assert.Equal(t, "/api/devices/7/control", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			var dc types.DeviceControl
			require.NoError(t, json.Unmarshal(body, &dc))
			assert.True(t, dc.IsOn)
			w.Write([]byte(`true`))
		})
		require.NoError(t, c.SetDevice(ctx, 7, true))
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("false answer is not an error", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`false`))
		})
		assert.NoError(t, c.SetDevice(ctx, 1, false))
	})

	t.Run("body ignored", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		})
		assert.NoError(t, c.SetDevice(ctx, 1, false))
	})

	t.Run("status error", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
		err := c.SetDevice(ctx, 1, false)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrStatus)
	})

	t.Run("transport error", func(t *testing.T) {
		c := New("http://127.0.0.1:1", time.Second)
		err := c.SetDevice(ctx, 1, true)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrStatus))
	})
}

func TestGenerateAnalysis(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/analysis/generate", r.URL.Path)
		w.Write([]byte(`{"success":true,"files":["reports/analysis_Baseline.csv"],"summary":"Scenario: Baseline","data":[{"time_step":"00:00","scenario":"Baseline","solar_generation":0,"home_consumption":1.2,"grid_import":1.2,"grid_export":0,"cost":0.18,"is_peak":false}]}`))
	})
	res, err := c.GenerateAnalysis(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"reports/analysis_Baseline.csv"}, res.Files)
	require.Len(t, res.Data, 1)
	assert.Equal(t, "00:00", res.Data[0].TimeStep)
	assert.Equal(t, 0.18, res.Data[0].Cost)
}

func TestBaseURLPath(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/hems/api/devices", r.URL.Path)
		w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	c := New(ts.URL+"/hems", time.Second)
	_, err := c.Devices(context.Background())
	require.NoError(t, err)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, New("http://localhost:3000", 0).Validate())
	assert.NoError(t, New("https://hems.example.com/base", 0).Validate())
	assert.Error(t, New("", 0).Validate())
	assert.Error(t, New("localhost:3000", 0).Validate())
	assert.Error(t, New("http://", 0).Validate())
}
