package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"conductor/extract"
	"conductor/internal/inspect"
	"conductor/internal/spec"
	"conductor/internal/store"
	"conductor/internal/supervisor"

	_ "conductor/sink/file"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

/*──────── fake extract driver ───────*/

type fakeClient struct {
	recs chan *extract.Record
}

func (f *fakeClient) Configure(extract.Config) error { return nil }

func (f *fakeClient) Run(ctx context.Context, emit extract.EmitFunc) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-f.recs:
			if err := emit(r); err != nil {
				return err
			}
		}
	}
}

func (f *fakeClient) Close() error { return nil }

type fakeHub struct {
	mu      sync.Mutex
	clients []*fakeClient
}

func (h *fakeHub) newClient() extract.Client {
	c := &fakeClient{recs: make(chan *extract.Record, 16)}
	h.mu.Lock()
	h.clients = append(h.clients, c)
	h.mu.Unlock()
	return c
}

func (h *fakeHub) latest() *fakeClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return nil
	}
	return h.clients[len(h.clients)-1]
}

var driverSeq atomic.Int64

func newTestServer(t *testing.T) (*httptest.Server, *fakeHub) {
	t.Helper()
	hub := &fakeHub{}
	name := fmt.Sprintf("fake-%d", driverSeq.Add(1))
	extract.Register(name, hub.newClient)

	sup, err := supervisor.New(store.NewMemory(), supervisor.Options{
		Driver:      name,
		StopTimeout: 2 * time.Second,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(New(sup, inspect.New([]string{"localhost:9092"}, time.Second)).Router())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sup.Shutdown(ctx)
	})
	return srv, hub
}

func do(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func draftBody(filePath string) map[string]any {
	return map[string]any{
		"broker_host": "h",
		"broker_port": 9092,
		"topic":       "t",
		"group_id":    "g",
		"auto_start":  false,
		"processors": []map[string]any{
			{"processor_type": "file_sink", "config": map[string]any{"file_path": filePath}},
		},
	}
}

/*──────── tests ───────*/

func TestCreate_InactiveRoundTrip(t *testing.T) {
	srv, hub := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/consumers/", draftBody("/tmp/x.log"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[spec.ConsumerSpec](t, resp)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, spec.StatusInactive, created.Status)
	assert.Nil(t, hub.latest(), "no Kafka connection may be attempted")

	resp = do(t, http.MethodGet, srv.URL+"/consumers/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[spec.ConsumerSpec](t, resp)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "t", got.Topic)
	assert.Equal(t, spec.StatusInactive, got.Status)
}

func TestStartStop_Roundtrip(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/consumers/", draftBody("/tmp/x.log"))
	created := decode[spec.ConsumerSpec](t, resp)

	resp = do(t, http.MethodPost, srv.URL+"/consumers/"+created.ID+"/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	started := decode[map[string]string](t, resp)
	assert.Equal(t, "ACTIVE", started["status"])

	resp = do(t, http.MethodPost, srv.URL+"/consumers/"+created.ID+"/stop", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stopped := decode[map[string]string](t, resp)
	assert.Equal(t, "INACTIVE", stopped["status"])
}

func TestCreate_UnknownTypeRejectedAtomically(t *testing.T) {
	srv, _ := newTestServer(t)

	body := draftBody("/tmp/x.log")
	body["processors"] = []map[string]any{{"processor_type": "nonexistent", "config": map[string]any{}}}
	resp := do(t, http.MethodPost, srv.URL+"/consumers/", body)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = do(t, http.MethodGet, srv.URL+"/consumers/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	all := decode[[]spec.ConsumerSpec](t, resp)
	assert.Empty(t, all, "no partial spec persisted")
}

func TestCreate_BadConfigRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	body := draftBody("/tmp/x.log")
	body["broker_port"] = 0
	resp := do(t, http.MethodPost, srv.URL+"/consumers/", body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestUpdate_SwapsProcessorsOnActive(t *testing.T) {
	srv, hub := newTestServer(t)
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "x.log")
	newPath := filepath.Join(dir, "y.log")

	body := draftBody(oldPath)
	body["auto_start"] = true
	resp := do(t, http.MethodPost, srv.URL+"/consumers/", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[spec.ConsumerSpec](t, resp)
	require.Equal(t, spec.StatusActive, created.Status)

	patch := map[string]any{
		"processors": []map[string]any{
			{"processor_type": "file_sink", "config": map[string]any{"file_path": newPath}},
		},
	}
	resp = do(t, http.MethodPut, srv.URL+"/consumers/"+created.ID, patch)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[spec.ConsumerSpec](t, resp)
	assert.Equal(t, spec.StatusActive, updated.Status)
	assert.Equal(t, newPath, updated.Processors[0].Config["file_path"])

	hub.latest().recs <- &extract.Record{Topic: "t", Offset: 1, Value: []byte("after-swap")}
	require.Eventually(t, func() bool {
		raw, err := os.ReadFile(newPath)
		return err == nil && bytes.Contains(raw, []byte("after-swap"))
	}, 2*time.Second, 10*time.Millisecond, "new file must receive subsequent records")
}

func TestDelete_ActiveConsumer(t *testing.T) {
	srv, _ := newTestServer(t)

	body := draftBody("/tmp/x.log")
	body["auto_start"] = true
	resp := do(t, http.MethodPost, srv.URL+"/consumers/", body)
	created := decode[spec.ConsumerSpec](t, resp)

	resp = do(t, http.MethodDelete, srv.URL+"/consumers/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = do(t, http.MethodGet, srv.URL+"/consumers/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestNotFoundMapping(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, probe := range []struct {
		method, path string
	}{
		{http.MethodGet, "/consumers/missing"},
		{http.MethodPost, "/consumers/missing/start"},
		{http.MethodPost, "/consumers/missing/stop"},
		{http.MethodDelete, "/consumers/missing"},
	} {
		resp := do(t, probe.method, srv.URL+probe.path, nil)
		assert.Equalf(t, http.StatusNotFound, resp.StatusCode, "%s %s", probe.method, probe.path)
		body := decode[map[string]string](t, resp)
		assert.NotEmpty(t, body["detail"])
	}
}

func TestUpdate_InvalidPatch(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/consumers/", draftBody("/tmp/x.log"))
	created := decode[spec.ConsumerSpec](t, resp)

	resp = do(t, http.MethodPut, srv.URL+"/consumers/"+created.ID, map[string]any{"broker_port": 0})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestListGroups_KnownScope(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/consumers/", draftBody("/tmp/x.log"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = do(t, http.MethodGet, srv.URL+"/consumergroups/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	groups := decode[map[string][]string](t, resp)
	assert.Equal(t, []string{"g"}, groups["consumer_groups"])
}

func TestList_ReflectsLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/consumers/", draftBody("/tmp/x.log"))
	created := decode[spec.ConsumerSpec](t, resp)

	resp = do(t, http.MethodPost, srv.URL+"/consumers/"+created.ID+"/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = do(t, http.MethodGet, srv.URL+"/consumers/", nil)
	all := decode[[]spec.ConsumerSpec](t, resp)
	require.Len(t, all, 1)
	assert.Equal(t, spec.StatusActive, all[0].Status)
}
