package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxtimer/internal/detect"
	"github.com/MrWong99/voxtimer/internal/eventbus"
	"github.com/MrWong99/voxtimer/internal/journal"
	"github.com/MrWong99/voxtimer/internal/orchestrator"
	"github.com/MrWong99/voxtimer/internal/timer"
	"github.com/MrWong99/voxtimer/internal/transcript"
)

// ─── Fixture ─────────────────────────────────────────────────────────────────

type fixture struct {
	orch    *orchestrator.Orchestrator
	bus     *eventbus.Bus
	history *transcript.History
	ts      *httptest.Server
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	bus := eventbus.New()
	orch := orchestrator.New(timer.NewRegistry(), bus)
	coord := detect.NewCoordinator(detect.Defaults(nil), detect.WithStateView(orch))
	hist := transcript.NewHistory(10, time.Hour)
	in := transcript.NewIngestor(coord, orch, transcript.WithHistory(hist))

	opts = append([]Option{WithRecent(hist)}, opts...)
	srv := NewServer(orch, in, bus, opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		bus.Close()
		_ = orch.Close()
	})
	return &fixture{orch: orch, bus: bus, history: hist, ts: ts}
}

func (f *fixture) submit(t *testing.T, text string) (SubmitResponse, int) {
	t.Helper()
	body := strings.NewReader(`{"text":` + jsonString(text) + `}`)
	resp, err := http.Post(f.ts.URL+"/utterances", "application/json", body)
	if err != nil {
		t.Fatalf("POST /utterances: %v", err)
	}
	defer resp.Body.Close()
	var out SubmitResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return out, resp.StatusCode
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return resp.StatusCode
}

// ─── HTTP API ────────────────────────────────────────────────────────────────

func TestSubmitAndList(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	out, code := f.submit(t, "start a 5 minute timer called pasta")
	if code != http.StatusOK || out.Status != transcript.StatusApplied {
		t.Fatalf("submit = %d %q (%s)", code, out.Status, out.Error)
	}

	var views []TimerView
	if code := getJSON(t, f.ts.URL+"/timers", &views); code != http.StatusOK {
		t.Fatalf("GET /timers = %d", code)
	}
	if len(views) != 1 || views[0].Name != "pasta" || views[0].State != "running" || views[0].DurationMS != 300000 {
		t.Errorf("timers = %+v", views)
	}

	var recent []transcript.Outcome
	getJSON(t, f.ts.URL+"/utterances/recent?n=5", &recent)
	if len(recent) != 1 || recent[0].Status != transcript.StatusApplied {
		t.Errorf("recent = %+v", recent)
	}
}

func TestSubmit_AmbiguousTargetPrompts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.submit(t, "start a 5 minute timer called pasta")
	f.submit(t, "start a 3 minute timer called eggs")
	out, _ := f.submit(t, "pause the timer")
	if out.Status != transcript.StatusRejected || out.Message != "please specify which timer" {
		t.Errorf("response = %q %q", out.Status, out.Message)
	}
}

func TestSubmit_BadRequests(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"not json", "pause"},
		{"empty text", `{"text":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(f.ts.URL+"/utterances", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestSubmit_Unavailable(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_ = f.orch.Close()

	if _, code := f.submit(t, "start a timer"); code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.submit(t, "start a 5 minute timer")
	id := f.orch.List()[0].ID

	del := func(id string) int {
		req, _ := http.NewRequest(http.MethodDelete, f.ts.URL+"/timers/"+id, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	if code := del(id); code != http.StatusOK {
		t.Errorf("DELETE = %d", code)
	}
	if len(f.orch.List()) != 0 {
		t.Error("timer still listed")
	}
	if code := del(id); code != http.StatusNotFound {
		t.Errorf("second DELETE = %d, want 404", code)
	}
}

func TestRecent_BadParam(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if code := getJSON(t, f.ts.URL+"/utterances/recent?n=x", nil); code != http.StatusBadRequest {
		t.Errorf("status = %d", code)
	}
}

// ─── History ─────────────────────────────────────────────────────────────────

type historyFunc func(ctx context.Context, id string, limit int) ([]journal.Record, error)

func (f historyFunc) History(ctx context.Context, id string, limit int) ([]journal.Record, error) {
	return f(ctx, id, limit)
}

func TestHistory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		journal  HistoryReader
		wantCode int
		wantLen  int
	}{
		{"not configured", nil, http.StatusNotImplemented, 0},
		{"records", historyFunc(func(_ context.Context, id string, limit int) ([]journal.Record, error) {
			if id != "t1" || limit != 2 {
				return nil, errors.New("unexpected query")
			}
			return []journal.Record{{TimerID: "t1"}, {TimerID: "t1"}}, nil
		}), http.StatusOK, 2},
		{"unsupported", historyFunc(func(context.Context, string, int) ([]journal.Record, error) {
			return nil, journal.ErrUnsupported
		}), http.StatusNotImplemented, 0},
		{"failing", historyFunc(func(context.Context, string, int) ([]journal.Record, error) {
			return nil, errors.New("db down")
		}), http.StatusServiceUnavailable, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var opts []Option
			if tt.journal != nil {
				opts = append(opts, WithJournal(tt.journal))
			}
			f := newFixture(t, opts...)
			var recs []journal.Record
			code := getJSON(t, f.ts.URL+"/timers/t1/history?limit=2", &recs)
			if code != tt.wantCode || len(recs) != tt.wantLen {
				t.Errorf("history = %d %d records, want %d %d", code, len(recs), tt.wantCode, tt.wantLen)
			}
		})
	}
}

// ─── Websocket ───────────────────────────────────────────────────────────────

func dial(t *testing.T, f *fixture) (*websocket.Conn, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(f.ts.URL, "http")+"/events", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn, ctx
}

func TestEvents_SnapshotThenEvents(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.submit(t, "start a 5 minute timer called pasta")

	conn, ctx := dial(t, f)

	var msg Message
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if msg.Type != MessageSnapshot || len(msg.Timers) != 1 || msg.Timers[0].Name != "pasta" {
		t.Fatalf("snapshot = %+v", msg)
	}

	f.submit(t, "pause the timer")
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if msg.Type != MessageEvent || msg.Event == nil || msg.Event.Current != timer.StatePaused || msg.Event.Previous != timer.StateRunning {
		t.Errorf("event = %+v", msg)
	}
}

func TestEvents_ClosesWhenBusCloses(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	conn, ctx := dial(t, f)

	var msg Message
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	f.bus.Close()

	_, _, err := conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Errorf("close status = %v (%v), want going away", websocket.CloseStatus(err), err)
	}
}

func TestEvents_RejectsPlainGET(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	resp, err := http.Get(f.ts.URL + "/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode == http.StatusSwitchingProtocols || resp.StatusCode == http.StatusOK {
		t.Errorf("plain GET status = %d", resp.StatusCode)
	}
}

func TestViewOf_EstimatesRemaining(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v := ViewOf(timer.Snapshot{
		ID:         "t1",
		State:      timer.StateRunning,
		Duration:   time.Minute,
		Remaining:  30 * time.Second,
		LastTickAt: now.Add(-10 * time.Second),
	}, now)
	if v.RemainingMS != 20000 || v.State != "running" {
		t.Errorf("view = %+v", v)
	}
}
