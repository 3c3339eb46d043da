package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/constellation-io/constellation/pkg/config"
	"github.com/constellation-io/constellation/pkg/controller"
	"github.com/constellation-io/constellation/pkg/frame"
	"github.com/constellation-io/constellation/pkg/registry"
	"github.com/constellation-io/constellation/pkg/types"
)

// echoSender plays a worker: every request frame pushed at it comes back
// through the correlator as a 200 response
type echoSender struct {
	ctrl *controller.Controller
	body string
}

func (s *echoSender) Send(f *frame.Frame) error {
	if f.Kind != frame.KindRequest {
		return nil
	}
	go func() {
		resp, _ := frame.NewResponse(200, "text/plain", nil, []byte(s.body))
		resp.GUID = f.GUID
		s.ctrl.Correlator().Deliver(resp)
	}()
	return nil
}

func (s *echoSender) Close() error       { return nil }
func (s *echoSender) RemoteAddr() string { return "127.0.0.1:50000" }

type failingSender struct{}

func (failingSender) Send(*frame.Frame) error { return fmt.Errorf("broken pipe") }
func (failingSender) Close() error            { return nil }
func (failingSender) RemoteAddr() string      { return "127.0.0.1:50001" }

type silentSender struct{}

func (silentSender) Send(*frame.Frame) error { return nil }
func (silentSender) Close() error            { return nil }
func (silentSender) RemoteAddr() string      { return "127.0.0.1:50002" }

func newTestServer(t *testing.T, timeoutMs int) (*Server, *controller.Controller) {
	t.Helper()
	settings := config.Default()
	settings.Admin.ApiKeys = []string{"test-key"}
	settings.Proxy.TimeoutMs = timeoutMs
	require.NoError(t, settings.Validate())

	ctrl := controller.New(settings)
	ctrl.Correlator().Start()
	t.Cleanup(ctrl.Correlator().Stop)
	return NewServer(ctrl), ctrl
}

func addEchoWorker(t *testing.T, ctrl *controller.Controller, body string) *registry.Worker {
	t.Helper()
	w := &registry.Worker{ID: uuid.New(), Sender: &echoSender{ctrl: ctrl, body: body}}
	require.NoError(t, ctrl.Registry().Add(w))
	return w
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestWelcomePage(t *testing.T) {
	s, _ := newTestServer(t, 30000)

	for _, method := range []string{http.MethodGet, http.MethodHead} {
		t.Run(method, func(t *testing.T) {
			rec := do(s, httptest.NewRequest(method, "/", nil))
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
			if method == http.MethodGet {
				assert.Contains(t, rec.Body.String(), "Constellation")
			}
		})
	}
}

func TestFavicon(t *testing.T) {
	s, _ := newTestServer(t, 30000)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/favicon.ico", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Body.Bytes())
}

func TestAdminWorkersWithValidKey(t *testing.T) {
	s, ctrl := newTestServer(t, 30000)
	addEchoWorker(t, ctrl, "a")
	addEchoWorker(t, ctrl, "b")

	req := httptest.NewRequest(http.MethodGet, "/workers", nil)
	req.Header.Set("x-api-key", "test-key")
	rec := do(s, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var workers []types.WorkerInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &workers))
	assert.Len(t, workers, 2)
	for _, w := range workers {
		assert.True(t, w.Healthy)
		assert.NotEmpty(t, w.ID)
	}
}

func TestAdminWrongKeyReturns401(t *testing.T) {
	s, _ := newTestServer(t, 30000)

	for _, path := range []string{"/workers", "/maps", "/health", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			req.Header.Set("x-api-key", "wrong")
			rec := do(s, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), "Authorization")
		})
	}
}

// TestAdminAbsentKeyFallsThroughToProxy pins the contract that a missing
// key makes /workers indistinguishable from a proxy request
func TestAdminAbsentKeyFallsThroughToProxy(t *testing.T) {
	s, _ := newTestServer(t, 30000)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/workers", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "No workers available")
}

func TestAdminMaps(t *testing.T) {
	s, ctrl := newTestServer(t, 30000)
	w := addEchoWorker(t, ctrl, "ok")
	ctrl.Bindings().Bind("/api/users", w.ID)

	req := httptest.NewRequest(http.MethodGet, "/maps", nil)
	req.Header.Set("x-api-key", "test-key")
	rec := do(s, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var maps map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &maps))
	assert.Equal(t, []string{"/api/users"}, maps[w.ID.String()])
}

func TestAdminHealth(t *testing.T) {
	s, ctrl := newTestServer(t, 30000)
	addEchoWorker(t, ctrl, "ok")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("x-api-key", "test-key")
	rec := do(s, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var health healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 1, health.Workers)
}

func TestProxyNoWorkersReturns502(t *testing.T) {
	s, _ := newTestServer(t, 30000)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/api/users", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var body types.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, types.ErrorKindBadGateway, body.Kind)
	assert.Equal(t, "No workers available for resource /api/users.", body.Message)
}

func TestProxyForwardsResponse(t *testing.T) {
	s, ctrl := newTestServer(t, 30000)
	w := addEchoWorker(t, ctrl, "hello from worker")

	req := httptest.NewRequest(http.MethodPost, "/api/users?page=2", strings.NewReader("payload"))
	rec := do(s, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello from worker", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, w.ID.String(), rec.Header().Get(types.HeaderWorkerID))

	requestID := rec.Header().Get(types.HeaderRequestID)
	require.NotEmpty(t, requestID)
	_, err := uuid.Parse(requestID)
	assert.NoError(t, err, "x-request carries a UUID")
}

func TestProxyPinsPathAcrossRequests(t *testing.T) {
	s, ctrl := newTestServer(t, 30000)
	addEchoWorker(t, ctrl, "one")
	addEchoWorker(t, ctrl, "two")
	addEchoWorker(t, ctrl, "three")

	var owner string
	for i := 0; i < 5; i++ {
		rec := do(s, httptest.NewRequest(http.MethodGet, "/api/users", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		if owner == "" {
			owner = rec.Header().Get(types.HeaderWorkerID)
		}
		assert.Equal(t, owner, rec.Header().Get(types.HeaderWorkerID))
	}
}

func TestProxyTransportFailureReturns502(t *testing.T) {
	s, ctrl := newTestServer(t, 30000)
	w := &registry.Worker{ID: uuid.New(), Sender: failingSender{}}
	require.NoError(t, ctrl.Registry().Add(w))

	rec := do(s, httptest.NewRequest(http.MethodGet, "/api/users", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var body types.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, types.ErrorKindBadGateway, body.Kind)
}

func TestProxyTimeoutReturns408(t *testing.T) {
	s, ctrl := newTestServer(t, 1000)
	w := &registry.Worker{ID: uuid.New(), Sender: silentSender{}}
	require.NoError(t, ctrl.Registry().Add(w))

	started := time.Now()
	rec := do(s, httptest.NewRequest(http.MethodPost, "/slow", nil))
	elapsed := time.Since(started)

	assert.Equal(t, http.StatusRequestTimeout, rec.Code)
	assert.Less(t, elapsed, 3*time.Second)

	var body types.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, types.ErrorKindTimeout, body.Kind)
}

func TestProxyZeroWorkersRootStillServed(t *testing.T) {
	s, _ := newTestServer(t, 30000)

	root := do(s, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, root.Code)

	other := do(s, httptest.NewRequest(http.MethodGet, "/anything", nil))
	assert.Equal(t, http.StatusBadGateway, other.Code)
}
