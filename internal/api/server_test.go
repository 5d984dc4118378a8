package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netman/internal/config"
	"github.com/anstrom/netman/internal/db"
	"github.com/anstrom/netman/internal/device"
	"github.com/anstrom/netman/internal/errors"
	"github.com/anstrom/netman/internal/logging"
	"github.com/anstrom/netman/internal/metrics"
	"github.com/anstrom/netman/internal/registry"
	"github.com/anstrom/netman/internal/services"
	"github.com/anstrom/netman/internal/workers"
)

// MockDB provides a mock database for testing
type MockDB struct {
	mock.Mock
}

func (m *MockDB) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// stubService serves a fixed set of devices.
type stubService struct {
	devices map[uuid.UUID]*device.Device
}

func (s *stubService) Discover(_ context.Context, req services.DiscoverRequest) (*device.Device, error) {
	return &device.Device{ID: uuid.New(), IP: req.IP}, nil
}

func (s *stubService) Scan(ctx context.Context, id uuid.UUID) (*device.Device, error) {
	return s.Get(ctx, id)
}

func (s *stubService) Get(_ context.Context, id uuid.UUID) (*device.Device, error) {
	if dev, ok := s.devices[id]; ok {
		return dev, nil
	}
	return nil, errors.NewDatabaseError(errors.CodeNotFound, "Device not found")
}

func (s *stubService) List(context.Context, db.DeviceFilter) ([]*device.Device, int64, error) {
	out := make([]*device.Device, 0, len(s.devices))
	for _, dev := range s.devices {
		out = append(out, dev)
	}
	return out, int64(len(out)), nil
}

func (s *stubService) Delete(context.Context, uuid.UUID) error { return nil }

func (s *stubService) Sweep(context.Context, string) ([]string, error) { return nil, nil }

func (s *stubService) DiscoverJob(req services.DiscoverRequest) *workers.DiscoverJob {
	return workers.NewDiscoverJob(req.IP, func(context.Context, string) error { return nil })
}

func (s *stubService) ScanJob(id uuid.UUID) *workers.ScanJob {
	return workers.NewScanJob(id, func(context.Context, uuid.UUID) error { return nil })
}

func (s *stubService) AddCredential(_ context.Context, cred *device.Credential) error {
	cred.ID = uuid.New()
	return nil
}

func (s *stubService) ListCredentials(context.Context) ([]device.Credential, error) { return nil, nil }

func (s *stubService) DeleteCredential(context.Context, uuid.UUID) error { return nil }

type stubQueue struct {
	mu   sync.Mutex
	jobs []workers.Job
}

func (q *stubQueue) Submit(job workers.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *stubQueue) QueueLength() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Test helper functions
func createTestConfig() *config.Config {
	cfg := config.Default()
	cfg.API.Host = "127.0.0.1"
	cfg.API.Port = 0
	cfg.API.AllowedOrigins = []string{"https://noc.example.com"}
	return cfg
}

func newTestServer(t *testing.T, deps Dependencies) *Server {
	t.Helper()
	reg, err := registry.Default()
	require.NoError(t, err)
	if deps.Service == nil {
		deps.Service = &stubService{devices: map[uuid.UUID]*device.Device{}}
	}
	if deps.Jobs == nil {
		deps.Jobs = &stubQueue{}
	}
	deps.Registry = reg

	server, err := New(createTestConfig(), deps, logging.NewDiscard())
	require.NoError(t, err)
	return server
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(createTestConfig(), Dependencies{}, logging.NewDiscard())
	assert.Error(t, err)
}

func TestServerAddress(t *testing.T) {
	s := newTestServer(t, Dependencies{})
	assert.Equal(t, "127.0.0.1:0", s.Address())
	assert.NotNil(t, s.Router())
}

func TestHealthRoutes(t *testing.T) {
	database := &MockDB{}
	database.On("Ping", mock.Anything).Return(nil)
	s := newTestServer(t, Dependencies{Database: database})

	rr := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/liveness", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	database.AssertExpectations(t)
}

func TestDeviceRoutes(t *testing.T) {
	id := uuid.New()
	service := &stubService{devices: map[uuid.UUID]*device.Device{
		id: {ID: id, IP: "10.0.0.1", Name: "edge-1", Type: "opengear"},
	}}
	queue := &stubQueue{}
	s := newTestServer(t, Dependencies{Service: service, Jobs: queue})

	rr := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "edge-1")

	rr = serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/devices/"+id.String(), nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/devices/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/discover", strings.NewReader(`{"ip":"10.0.0.5"}`))
	req.Header.Set("Content-Type", "application/json")
	rr = serve(s, req)
	assert.Equal(t, http.StatusAccepted, rr.Code)

	rr = serve(s, httptest.NewRequest(http.MethodPost, "/api/v1/devices/"+id.String()+"/scan", nil))
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, 2, queue.QueueLength())
}

func TestContentTypeEnforced(t *testing.T) {
	s := newTestServer(t, Dependencies{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/credentials", strings.NewReader("username=admin"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	assert.Equal(t, http.StatusUnsupportedMediaType, serve(s, req).Code)
}

func TestTypesRoute(t *testing.T) {
	s := newTestServer(t, Dependencies{})

	rr := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/types/cisco", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "cisco", resp["id"])
}

func TestSchedulesRouteRequiresScheduler(t *testing.T) {
	s := newTestServer(t, Dependencies{})
	rr := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/schedules", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, Dependencies{Metrics: metrics.New()})

	serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/liveness", nil))
	rr := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `netman_api_requests_total{method="GET",path="/api/v1/liveness",status="200"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, Dependencies{})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
	req.Header.Set("Origin", "https://noc.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := serve(s, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "https://noc.example.com", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	assert.Empty(t, serve(s, req).Header().Get("Access-Control-Allow-Origin"))
}

func TestStartStop(t *testing.T) {
	s := newTestServer(t, Dependencies{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
