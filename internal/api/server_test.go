package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/adrianolucasdepaula/invest-sub001/internal/api"
	"github.com/adrianolucasdepaula/invest-sub001/internal/marketdata"
	"github.com/adrianolucasdepaula/invest-sub001/internal/runner"
	"github.com/adrianolucasdepaula/invest-sub001/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*api.Server, *runner.Manager) {
	t.Helper()

	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.June, 28, 0, 0, 0, 0, time.UTC)

	var prices []marketdata.PriceBar
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		prices = append(prices, marketdata.PriceBar{Date: d, Close: decimal.NewFromInt(40)})
	}

	provider := marketdata.NewStaticProvider()
	provider.Add(marketdata.NewHistoricalData("PETR4", prices, nil, nil, nil))

	manager := runner.NewManager(zap.NewNop(), provider, 4)
	config := &types.ServerConfig{
		Host:          "localhost",
		Port:          0,
		EnableMetrics: true,
	}
	return api.NewServer(zap.NewNop(), config, manager, nil), manager
}

func submitBody() []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"assetId":   "PETR4",
		"startDate": "2024-01-02T00:00:00Z",
		"endDate":   "2024-03-29T00:00:00Z",
	})
	return body
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("Response is not JSON: %v: %s", err, rec.Body.String())
	}
	return payload
}

func waitForRun(t *testing.T, m *runner.Manager, runID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if summary, ok := m.Get(runID); ok {
			switch summary.Status {
			case types.RunStatusCompleted, types.RunStatusFailed, types.RunStatusCancelled:
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Run %s did not finish", runID)
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if payload := decodeJSON(t, rec); payload["status"] != "healthy" {
		t.Errorf("Unexpected health payload: %v", payload)
	}
}

func TestAssetsWithoutStore(t *testing.T) {
	server, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/assets", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if payload := decodeJSON(t, rec); payload["count"].(float64) != 0 {
		t.Errorf("Expected empty asset list: %v", payload)
	}
}

func TestSubmitAndFetchBacktest(t *testing.T) {
	server, manager := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/backtests", bytes.NewReader(submitBody()))
	req.Header.Set("Content-Type", "application/json")
	server.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	runID, _ := decodeJSON(t, rec)["id"].(string)
	if runID == "" {
		t.Fatal("Submit response missing run id")
	}

	waitForRun(t, manager, runID)

	rec = httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/backtests/"+runID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	payload := decodeJSON(t, rec)
	if payload["status"] != string(types.RunStatusCompleted) {
		t.Errorf("Expected completed status: %v", payload["status"])
	}
	if payload["progress"].(float64) != 100 {
		t.Errorf("Expected 100%% progress: %v", payload["progress"])
	}
	if payload["result"] == nil {
		t.Error("Completed run should include the full result")
	}
}

func TestSubmitRejectsInvalidBody(t *testing.T) {
	server, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/backtests", bytes.NewReader([]byte("{not json")))
	server.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestSubmitRejectsInvalidConfig(t *testing.T) {
	server, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]interface{}{
		"assetId":   "PETR4",
		"startDate": "2024-03-29T00:00:00Z",
		"endDate":   "2024-01-02T00:00:00Z",
	})
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/backtests", bytes.NewReader(body)))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for inverted date range, got %d", rec.Code)
	}
}

func TestGetUnknownRun(t *testing.T) {
	server, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/backtests/no-such-run", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestListBacktests(t *testing.T) {
	server, manager := newTestServer(t)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec,
			httptest.NewRequest("POST", "/api/v1/backtests", bytes.NewReader(submitBody())))
		if rec.Code != http.StatusAccepted {
			t.Fatalf("Submit %d failed: %d", i, rec.Code)
		}
		waitForRun(t, manager, decodeJSON(t, rec)["id"].(string))
	}

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/backtests", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if payload := decodeJSON(t, rec); payload["count"].(float64) != 2 {
		t.Errorf("Expected 2 runs: %v", payload["count"])
	}
}

func TestTradesEndpoint(t *testing.T) {
	server, manager := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec,
		httptest.NewRequest("POST", "/api/v1/backtests", bytes.NewReader(submitBody())))
	runID := decodeJSON(t, rec)["id"].(string)
	waitForRun(t, manager, runID)

	rec = httptest.NewRecorder()
	server.Router().ServeHTTP(rec,
		httptest.NewRequest("GET", fmt.Sprintf("/api/v1/backtests/%s/trades", runID), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	payload := decodeJSON(t, rec)
	if payload["count"].(float64) == 0 {
		t.Error("Completed run should have resolved trades")
	}
}

func TestTradesForUnknownRun(t *testing.T) {
	server, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/backtests/nope/trades", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestCancelFinishedRunFails(t *testing.T) {
	server, manager := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec,
		httptest.NewRequest("POST", "/api/v1/backtests", bytes.NewReader(submitBody())))
	runID := decodeJSON(t, rec)["id"].(string)
	waitForRun(t, manager, runID)

	rec = httptest.NewRecorder()
	server.Router().ServeHTTP(rec,
		httptest.NewRequest("POST", fmt.Sprintf("/api/v1/backtests/%s/cancel", runID), nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 cancelling a finished run, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("backtest_runs_started_total")) {
		t.Error("Run counters missing from metrics exposition")
	}
}
