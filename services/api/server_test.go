package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"liquidity-sweep-backtest/services/arrowpipeline"
	"liquidity-sweep-backtest/services/clickhouse"
	"liquidity-sweep-backtest/services/engine"
	"liquidity-sweep-backtest/services/marketdata"
)

const intradayCSV = `timestamp,open,high,low,close
2024-01-02 09:30:00,104,105,103,104.5
2024-01-02 09:45:00,104.5,107,99,106
2024-01-02 10:00:00,106,108,106,107
2024-01-02 10:15:00,106.5,107,106,106.8
2024-01-02 10:30:00,106.8,108,98.5,100
`

const dailyCSV = `timestamp,open,high,low,close
2024-01-01,100,110,100,105
2024-01-02,104,108,96,100
`

func setupTestServer(t *testing.T, loader BarLoader) (*Server, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s := NewServer(Options{Defaults: engine.DefaultConfig(), Loader: loader})
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return s, ts
}

type runResponse struct {
	JobView
	Error *APIError `json:"error"`
}

func postRun(t *testing.T, ts *httptest.Server, req RunRequest) (*http.Response, runResponse) {
	t.Helper()
	body, _ := json.Marshal(req)
	resp, err := http.Post(ts.URL+"/api/v1/backtests", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	defer resp.Body.Close()
	var out runResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp, out
}

func TestRunWait(t *testing.T) {
	_, ts := setupTestServer(t, nil)
	resp, out := postRun(t, ts, RunRequest{IntradayCSV: intradayCSV, DailyCSV: dailyCSV, Timezone: "UTC", Wait: true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d (%+v)", resp.StatusCode, out.Error)
	}
	if out.Status != StatusCompleted || out.Report == nil {
		t.Fatalf("unexpected job %+v", out.JobView)
	}
	if out.Report.TotalTrades != 1 || !out.Report.FinalBalance.Equal(decimal.NewFromInt(98994)) {
		t.Fatalf("trades %d balance %s", out.Report.TotalTrades, out.Report.FinalBalance)
	}
	if out.Report.Trades[0].Outcome != engine.OutcomeStop {
		t.Fatalf("outcome %s", out.Report.Trades[0].Outcome)
	}
}

func TestRunConfigOverride(t *testing.T) {
	_, ts := setupTestServer(t, nil)
	risk := decimal.NewFromInt(500)
	fee := decimal.Zero
	_, out := postRun(t, ts, RunRequest{
		IntradayCSV: intradayCSV, DailyCSV: dailyCSV, Timezone: "UTC", Wait: true,
		Config: ConfigRequest{RiskPerTrade: &risk, FeeRate: &fee},
	})
	if out.Report == nil || !out.Report.FinalBalance.Equal(decimal.NewFromInt(99500)) {
		t.Fatalf("unexpected report %+v", out.Report)
	}
}

func TestRunErrors(t *testing.T) {
	_, ts := setupTestServer(t, nil)
	badFee := decimal.NewFromInt(2)
	oneDay := strings.Join(strings.Split(intradayCSV, "\n")[:5], "\n")
	cases := []struct {
		name   string
		req    RunRequest
		status int
		code   string
	}{
		{"no data", RunRequest{}, http.StatusBadRequest, ErrInvalidParams.Code},
		{"bad fee", RunRequest{IntradayCSV: intradayCSV, Config: ConfigRequest{FeeRate: &badFee}}, http.StatusBadRequest, ErrInvalidParams.Code},
		{"bad csv", RunRequest{IntradayCSV: "timestamp,open,high,low,close\nyesterday,1,1,1,1\n"}, http.StatusBadRequest, ErrInvalidParams.Code},
		{"single day", RunRequest{IntradayCSV: oneDay, Timezone: "UTC", Wait: true}, http.StatusUnprocessableEntity, ErrInsufficientData.Code},
		{"symbol without store", RunRequest{Symbol: "ES"}, http.StatusNotFound, ErrDataNotFound.Code},
	}
	for _, tc := range cases {
		resp, out := postRun(t, ts, tc.req)
		if resp.StatusCode != tc.status || out.Error == nil || out.Error.Code != tc.code {
			t.Fatalf("%s: status %d error %+v", tc.name, resp.StatusCode, out.Error)
		}
	}
}

type fakeLoader struct {
	bars map[string][]engine.Bar
}

func (f fakeLoader) LoadBars(_ context.Context, q clickhouse.BarQuery, _ *time.Location) ([]engine.Bar, error) {
	bars, ok := f.bars[q.Symbol+"/"+q.Interval]
	if !ok {
		return nil, errors.New("no such series")
	}
	return bars, nil
}

func TestRunFromStore(t *testing.T) {
	intraday, _ := marketdata.ReadCSV(strings.NewReader(intradayCSV), time.UTC)
	daily, _ := marketdata.ReadCSV(strings.NewReader(dailyCSV), time.UTC)
	_, ts := setupTestServer(t, fakeLoader{bars: map[string][]engine.Bar{"ES/15m": intraday, "ES/1d": daily}})

	resp, out := postRun(t, ts, RunRequest{Symbol: "ES", Timezone: "UTC", Wait: true})
	if resp.StatusCode != http.StatusOK || out.Report.TotalTrades != 1 {
		t.Fatalf("status %d job %+v", resp.StatusCode, out.JobView)
	}
	resp, out = postRun(t, ts, RunRequest{Symbol: "NQ", Wait: true})
	if resp.StatusCode != http.StatusNotFound || out.Error.Code != ErrDataNotFound.Code {
		t.Fatalf("status %d error %+v", resp.StatusCode, out.Error)
	}
}

func TestAsyncRunAndExports(t *testing.T) {
	s, ts := setupTestServer(t, nil)
	resp, out := postRun(t, ts, RunRequest{IntradayCSV: intradayCSV, DailyCSV: dailyCSV, Timezone: "UTC"})
	if resp.StatusCode != http.StatusAccepted || out.JobID == "" {
		t.Fatalf("status %d job %+v", resp.StatusCode, out.JobView)
	}
	job, ok := s.jobs.Get(out.JobID)
	if !ok {
		t.Fatal("job not stored")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := job.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	get := func(path string) *http.Response {
		r, err := http.Get(ts.URL + "/api/v1/backtests/" + out.JobID + path)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { r.Body.Close() })
		return r
	}

	r := get("")
	var view struct {
		Job     JobView        `json:"job"`
		Summary map[string]any `json:"summary"`
	}
	if err := json.NewDecoder(r.Body).Decode(&view); err != nil {
		t.Fatal(err)
	}
	if view.Job.Status != StatusCompleted || view.Summary["total_trades"].(float64) != 1 {
		t.Fatalf("unexpected view %+v", view)
	}

	r = get("/summary")
	var buf bytes.Buffer
	buf.ReadFrom(r.Body)
	if !strings.Contains(buf.String(), "Total Trades Taken: 1") {
		t.Fatalf("summary %q", buf.String())
	}

	r = get("/trades.csv")
	buf.Reset()
	buf.ReadFrom(r.Body)
	if r.Header.Get("Content-Type") != "text/csv" || !strings.Contains(buf.String(), ",stop,") {
		t.Fatalf("csv %q", buf.String())
	}

	r = get("/trades.arrow")
	trades, err := arrowpipeline.NewPipeline(arrowpipeline.Config{}, nil).DecodeTrades(r.Body)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 1 || trades[0].Outcome != engine.OutcomeStop {
		t.Fatalf("arrow trades %+v", trades)
	}
}

func TestUnknownJob(t *testing.T) {
	_, ts := setupTestServer(t, nil)
	for _, path := range []string{"", "/summary", "/trades.csv", "/stream"} {
		resp, err := http.Get(ts.URL + "/api/v1/backtests/nope" + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, resp.StatusCode)
		}
	}
}

func TestHealth(t *testing.T) {
	_, ts := setupTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
}

func TestStreamReplaysEvents(t *testing.T) {
	_, ts := setupTestServer(t, nil)
	_, out := postRun(t, ts, RunRequest{IntradayCSV: intradayCSV, DailyCSV: dailyCSV, Timezone: "UTC", Wait: true})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/backtests/" + out.JobID + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var types []string
	for {
		var m StreamMessage
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("read: %v (got %v)", err, types)
		}
		if m.Type == "done" {
			if m.Job == nil || m.Job.Status != StatusCompleted {
				t.Fatalf("final frame %+v", m.Job)
			}
			break
		}
		types = append(types, m.Event.Type.String())
	}
	if strings.Join(types, ",") != "signal,stop_hit" {
		t.Fatalf("events %v", types)
	}
}

func TestJobFollowWaitsForEvents(t *testing.T) {
	j := newJob()
	got := make(chan engine.EventType, 4)
	done := make(chan error, 1)
	go func() {
		done <- j.Follow(context.Background(), 0, func(e engine.Event) error {
			got <- e.Type
			return nil
		})
	}()
	j.appendEvent(engine.Event{Type: engine.EventSignal})
	j.appendEvent(engine.Event{Type: engine.EventTargetHit})
	j.complete(&engine.BacktestReport{})
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	close(got)
	var n int
	for range got {
		n++
	}
	if n != 2 {
		t.Fatalf("expected 2 events, got %d", n)
	}
}
