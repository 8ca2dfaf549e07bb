package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	cp := domain.NewCheckpoint("wf-1", "flow")
	s := domain.NewSessionState("s1", "wf-2", true, time.Unix(0, 0))
	s.Status = domain.StatusConfirmed
	cp.Put(s)
	cp.Tombstones["old"] = domain.Tombstone{Counterparty: "wf-2", LastReceivedSequenceNumber: 3}
	require.NoError(t, store.Save(context.Background(), "wf-1", cp))
	return store
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestGetHealth(t *testing.T) {
	handler := NewHandler(memory.NewStore())
	rr := get(t, handler, "/health")

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestGetInfo(t *testing.T) {
	handler := NewHandler(memory.NewStore(), WithVersion("1.2.3"))
	rr := get(t, handler, "/info")

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "parley-http", resp["app"])
	assert.Equal(t, "1.2.3", resp["version"])
}

func TestListWorkflows(t *testing.T) {
	rr := get(t, NewHandler(seededStore(t)), "/workflows")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `["wf-1"]`, rr.Body.String())

	rr = get(t, NewHandler(memory.NewStore()), "/workflows")
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestGetWorkflow(t *testing.T) {
	handler := NewHandler(seededStore(t))

	rr := get(t, handler, "/workflows/wf-1")
	require.Equal(t, http.StatusOK, rr.Code)
	var cp domain.Checkpoint
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cp))
	assert.Equal(t, "wf-1", cp.WorkflowID)
	assert.Contains(t, cp.Sessions, "s1")

	rr = get(t, handler, "/workflows/missing")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetSession(t *testing.T) {
	handler := NewHandler(seededStore(t))

	rr := get(t, handler, "/workflows/wf-1/sessions/s1")
	require.Equal(t, http.StatusOK, rr.Code)
	var s domain.SessionState
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &s))
	assert.Equal(t, domain.StatusConfirmed, s.Status)
	assert.Equal(t, "wf-2", s.Counterparty)

	rr = get(t, handler, "/workflows/wf-1/sessions/old")
	assert.Equal(t, http.StatusGone, rr.Code)
	assert.Contains(t, rr.Body.String(), `"last_received_sequence_number":3`)

	rr = get(t, handler, "/workflows/wf-1/sessions/nope")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

type failingInspector struct{}

func (failingInspector) List(context.Context) ([]string, error) {
	return nil, errors.New("backend down")
}

func (failingInspector) Load(context.Context, string) (*domain.Checkpoint, error) {
	return nil, errors.New("backend down")
}

func TestInspectorErrors(t *testing.T) {
	handler := NewHandler(failingInspector{})
	assert.Equal(t, http.StatusInternalServerError, get(t, handler, "/workflows").Code)
	assert.Equal(t, http.StatusInternalServerError, get(t, handler, "/workflows/wf-1").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "parley_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	rr := get(t, NewHandler(memory.NewStore(), WithGatherer(reg)), "/metrics")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "parley_test_total 1")

	rr = get(t, NewHandler(memory.NewStore()), "/metrics")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSubscribeEvents(t *testing.T) {
	streams := NewStreamManager(nil)
	srv := httptest.NewServer(NewHandler(memory.NewStore(), WithStreams(streams)))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/events?workflow_id=wf-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	readData := func() string {
		for lines.Scan() {
			if data, ok := strings.CutPrefix(lines.Text(), "data: "); ok {
				return data
			}
		}
		return ""
	}

	// the subscription is registered before the ping is written
	require.Equal(t, "connected", readData())

	hooks := streams.Hooks()
	hooks.OnStatusChange(ctx, &domain.StatusEvent{WorkflowID: "other", SessionID: "x", From: domain.StatusCreated, To: domain.StatusError})
	hooks.OnStatusChange(ctx, &domain.StatusEvent{WorkflowID: "wf-1", SessionID: "s1", From: domain.StatusCreated, To: domain.StatusConfirmed})

	var msg statusMessage
	require.NoError(t, json.Unmarshal([]byte(readData()), &msg))
	assert.Equal(t, "s1", msg.SessionID)
	assert.Equal(t, domain.StatusConfirmed, msg.To)
}

func TestStreamManager_GlobalTopic(t *testing.T) {
	sm := NewStreamManager(nil)
	ch, cancel := sm.Subscribe(allTopics)
	defer cancel()

	sm.Broadcast("wf-9", "hello")
	select {
	case msg := <-ch:
		assert.Equal(t, "hello", msg)
	case <-time.After(time.Second):
		t.Fatal("global subscriber did not receive the message")
	}
}
