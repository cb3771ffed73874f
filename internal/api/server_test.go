package api_test

import (
	"context"
	"encoding/csv"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/bmsctl/internal/api"
	"codeberg.org/mutker/bmsctl/internal/fanout"
	"codeberg.org/mutker/bmsctl/internal/logger"
	"codeberg.org/mutker/bmsctl/internal/telemetry"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type memStore struct {
	mu   sync.Mutex
	rows []telemetry.Sample
	err  error
}

func (m *memStore) Append(_ context.Context, s telemetry.Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, s)
	return nil
}

func (m *memStore) Query(_ context.Context, limit int, newestFirst bool) ([]telemetry.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := append([]telemetry.Sample(nil), m.rows...)
	if newestFirst {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func seeded(n int) *memStore {
	m := &memStore{}
	for i := range n {
		s := telemetry.Sample{
			Timestamp:      epoch.Add(time.Duration(i) * time.Second),
			BatteryVoltage: 3.8,
			LoadVoltage:    3.7,
			Current:        1.5,
			Power:          5.55,
			Status:         telemetry.StatusNormal,
		}
		if i%2 == 0 {
			s.Temperature = telemetry.Float(30)
		}
		m.rows = append(m.rows, s)
	}
	return m
}

func newServer(t *testing.T, store telemetry.Persistence) (*api.Server, *fanout.Fanout, *httptest.Server) {
	t.Helper()
	f := fanout.New(fanout.Config{}, fanout.WithLogger(logger.Nop()))
	srv := api.New(api.DefaultConfig(), store, f, logger.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Hub().Close()
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = f.Close(ctx)
	})
	return srv, f, ts
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp
}

func TestBatteryDataReturnsRecentNewestFirst(t *testing.T) {
	_, _, ts := newServer(t, seeded(25))

	var got []telemetry.Sample
	resp := getJSON(t, ts.URL+"/api/battery_data", &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	require.Len(t, got, 20)
	assert.True(t, got[0].Timestamp.Equal(epoch.Add(24*time.Second)))
	assert.True(t, got[19].Timestamp.Equal(epoch.Add(5*time.Second)))

	resp = getJSON(t, ts.URL+"/api/battery_data?limit=3", &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, got, 3)
}

func TestBatteryDataEmpty(t *testing.T) {
	_, _, ts := newServer(t, &memStore{})

	resp, err := http.Get(ts.URL + "/api/battery_data")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body []any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotNil(t, body)
	assert.Empty(t, body)
}

func TestBadLimit(t *testing.T) {
	_, _, ts := newServer(t, seeded(1))

	var apiErr api.Error
	resp := getJSON(t, ts.URL+"/api/battery_data?limit=-1", &apiErr)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "bad_request", apiErr.Code)
}

func TestStoreFailure(t *testing.T) {
	_, _, ts := newServer(t, &memStore{err: stderrors.New("database is locked")})

	resp := getJSON(t, ts.URL+"/api/battery_data", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestLatest(t *testing.T) {
	_, _, ts := newServer(t, seeded(3))

	var got telemetry.Sample
	resp := getJSON(t, ts.URL+"/api/latest", &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, got.Timestamp.Equal(epoch.Add(2*time.Second)))

	_, _, empty := newServer(t, &memStore{})
	resp = getJSON(t, empty.URL+"/api/latest", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCSVExport(t *testing.T) {
	_, _, ts := newServer(t, seeded(3))

	resp, err := http.Get(ts.URL + "/api/battery_data.csv")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))

	records, err := csv.NewReader(resp.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, "timestamp", records[0][0])
	assert.Equal(t, "2025-06-01T12:00:00Z", records[1][0])
	assert.Equal(t, "3.8", records[1][1])
	assert.Equal(t, "30", records[1][5])
	assert.Equal(t, "", records[2][5], "missing temperature is empty")
	assert.Equal(t, "normal", records[3][7])
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev map[string]any
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestWebsocketBatteryUpdates(t *testing.T) {
	srv, f, ts := newServer(t, &memStore{})
	conn := dial(t, ts)
	require.Eventually(t, func() bool { return srv.Hub().ClientCount() == 1 }, time.Second, time.Millisecond)
	require.Len(t, f.Subscribers(), 1)

	for i := range 3 {
		f.Publish(telemetry.Sample{
			Timestamp:      epoch.Add(time.Duration(i) * time.Second),
			BatteryVoltage: 3.8 + float64(i)/10,
			Status:         telemetry.StatusNormal,
		})
	}

	for i := range 3 {
		ev := readEvent(t, conn)
		assert.Equal(t, api.EventBatteryUpdate, ev["event"])
		data, ok := ev["data"].(map[string]any)
		require.True(t, ok)
		assert.InDelta(t, 3.8+float64(i)/10, data["battery_voltage"], 1e-9)
	}
}

func TestWebsocketNotification(t *testing.T) {
	srv, _, ts := newServer(t, &memStore{})
	conn := dial(t, ts)
	require.Eventually(t, func() bool { return srv.Hub().ClientCount() == 1 }, time.Second, time.Millisecond)

	s := telemetry.Sample{Timestamp: epoch, Status: telemetry.StatusVoltageAnomaly}
	require.NoError(t, srv.Hub().Notify(context.Background(), s, s.Summary()))

	ev := readEvent(t, conn)
	assert.Equal(t, api.EventNotification, ev["event"])
	data, ok := ev["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Anomaly detected: voltage anomaly", data["message"])
	assert.Equal(t, "warning", data["level"])
}

func TestWebsocketDisconnectDetaches(t *testing.T) {
	srv, f, ts := newServer(t, &memStore{})
	conn := dial(t, ts)
	require.Eventually(t, func() bool { return srv.Hub().ClientCount() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return srv.Hub().ClientCount() == 0 && len(f.Subscribers()) == 0
	}, 2*time.Second, time.Millisecond)
}

func TestStartAndClose(t *testing.T) {
	cfg := api.DefaultConfig()
	cfg.Listen = "127.0.0.1:0"
	f := fanout.New(fanout.Config{}, fanout.WithLogger(logger.Nop()))
	srv := api.New(cfg, seeded(1), f, logger.Nop())

	require.NoError(t, srv.Start())
	resp := getJSON(t, "http://"+srv.Addr()+"/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, srv.Close())
}

func TestHubRefusesClientsAfterClose(t *testing.T) {
	f := fanout.New(fanout.Config{}, fanout.WithLogger(logger.Nop()))
	t.Cleanup(func() { _ = f.Close(context.Background()) })

	hub := api.NewHub(f, api.Config{}, logger.Nop())
	hub.Close()

	assert.False(t, hub.RegisterClient())
	assert.Zero(t, hub.ClientCount())
}
