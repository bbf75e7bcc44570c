package server

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mailru/easyjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/infinityCounter2/vh-surveil/internal/logic"
	"github.com/infinityCounter2/vh-surveil/internal/metrics"
	"github.com/infinityCounter2/vh-surveil/internal/models"
)

type recordingSink struct {
	mtx    sync.Mutex
	alerts []models.Alert
}

func (r *recordingSink) Publish(alert models.Alert) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.alerts = append(r.alerts, alert)
}

func newTestServer(t *testing.T) (*httptest.Server, *recordingSink, *metrics.Metrics) {
	t.Helper()

	detectors, err := logic.NewDetectors(logic.DetectorNames, logic.DetectorParams{})
	require.NoError(t, err, "NewDetectors failed")

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	sink := &recordingSink{}

	s := NewServer(Params{
		Detectors: detectors,
		Sink:      sink,
		Metrics:   m,
		Gatherer:  reg,
	})

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, sink, m
}

func envelope(id, typ, symbol, user string, price float64, ts int64) string {
	return fmt.Sprintf(`{"order_id":%q,"order_type":%q,"price":%g,"symbol":%q,"quantity":100,"timestamp":%d,"user_id":%q}`,
		id, typ, price, symbol, ts, user)
}

func post(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/ingest", "application/json", strings.NewReader(body))
	require.NoError(t, err, "POST /ingest failed")
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestIngest_Spoofing(t *testing.T) {
	ts, sink, m := newTestServer(t)

	body := "[" + strings.Join([]string{
		envelope("1", "CANCEL", "AAPL", "user_1", 100, 1000),
		envelope("2", "CANCEL", "AAPL", "user_1", 100, 2000),
		envelope("3", "CANCEL", "AAPL", "user_1", 100, 3000),
	}, ",") + "]"

	resp := post(t, ts.URL, body)
	require.Equal(t, http.StatusOK, resp.StatusCode, "Status mismatch")

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "Reading body failed")

	var alerts models.AlertList
	require.NoError(t, easyjson.Unmarshal(payload, &alerts), "Response should be an alert list")
	require.Len(t, alerts, 1, "Expected one alert")
	require.Equal(t, models.AlertTypeSpoofing, alerts[0].Type, "Alert type mismatch")
	require.Equal(t, "3", alerts[0].OrderID, "OrderID mismatch")
	require.Equal(t, "cancel/total = 3/3", alerts[0].Evidence, "Evidence mismatch")

	require.Len(t, sink.alerts, 1, "Alert should also reach the sink")
	require.Equal(t, 3.0, testutil.ToFloat64(m.EventsProcessed.WithLabelValues("price_deviation")), "Price detector should see every event")
	require.Equal(t, 3.0, testutil.ToFloat64(m.EventsProcessed.WithLabelValues("quote_stuffing")), "Quote detector should see every event")
}

func TestIngest_PerDetectorRequirements(t *testing.T) {
	ts, _, m := newTestServer(t)

	// No symbol: only the per-user detectors can use it.
	resp := post(t, ts.URL, `[{"order_id":"1","order_type":"BUY","price":100,"timestamp":"5","user_id":"u"}]`)
	require.Equal(t, http.StatusOK, resp.StatusCode, "Status mismatch")

	require.Equal(t, 1.0, testutil.ToFloat64(m.EventsRejected.WithLabelValues("price_deviation", metrics.ReasonMissingField)), "Price detector should reject")
	require.Equal(t, 1.0, testutil.ToFloat64(m.EventsProcessed.WithLabelValues("spoofing")), "Spoofing should process")
}

func TestIngest_BadBody(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp := post(t, ts.URL, `{"not":"a list"}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, "Status mismatch")
}

func TestIngest_BodyTooLarge(t *testing.T) {
	detectors, err := logic.NewDetectors(logic.DetectorNames, logic.DetectorParams{})
	require.NoError(t, err, "NewDetectors failed")

	sink := &recordingSink{}
	s := NewServer(Params{
		Detectors:    detectors,
		Sink:         sink,
		MaxBodyBytes: 64,
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	body := "[" + strings.Repeat(envelope("1", "CANCEL", "AAPL", "user_1", 100, 1000)+",", 10)
	body = strings.TrimSuffix(body, ",") + "]"

	resp := post(t, ts.URL, body)
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode, "Status mismatch")
	require.Empty(t, sink.alerts, "No events should be processed from an oversized body")
	require.Zero(t, detectors[0].Store().Len(), "No window should be touched")
}

func TestIngest_MethodNotAllowed(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/ingest")
	require.NoError(t, err, "GET /ingest failed")
	defer resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, "Status mismatch")
}

func TestWindows(t *testing.T) {
	ts, _, _ := newTestServer(t)

	post(t, ts.URL, "["+strings.Join([]string{
		envelope("1", "BUY", "AAPL", "user_1", 100, 1000),
		envelope("2", "SELL", "AAPL", "user_2", 101, 1001),
	}, ",")+"]")

	resp, err := http.Get(ts.URL + "/windows?detector=price_deviation&key=AAPL")
	require.NoError(t, err, "GET /windows failed")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "Status mismatch")

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "Reading body failed")
	require.Contains(t, string(payload), `"order_id":"1"`, "First order missing from window")
	require.Contains(t, string(payload), `"order_id":"2"`, "Second order missing from window")

	resp2, err := http.Get(ts.URL + "/windows?detector=spoofing&key=nobody")
	require.NoError(t, err, "GET /windows failed")
	defer resp2.Body.Close()
	empty, _ := io.ReadAll(resp2.Body)
	require.Equal(t, "[]", string(empty), "Unknown key should give an empty window")
}

func TestWindows_BadParams(t *testing.T) {
	ts, _, _ := newTestServer(t)

	testCases := []struct {
		name string
		path string
	}{
		{name: "unknown detector", path: "/windows?detector=layering&key=AAPL"},
		{name: "missing key", path: "/windows?detector=spoofing"},
	}

	for _, tc := range testCases {
		resp, err := http.Get(ts.URL + tc.path)
		require.NoErrorf(t, err, "%s", tc.name)
		resp.Body.Close()
		require.Equalf(t, http.StatusBadRequest, resp.StatusCode, "%s", tc.name)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err, "GET /healthz failed")
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "Health status mismatch")

	post(t, ts.URL, "["+envelope("1", "BUY", "AAPL", "user_1", 100, 1)+"]")

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err, "GET /metrics failed")
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	require.Contains(t, string(body), "surveil_events_processed_total", "Metrics should be exposed")
}
