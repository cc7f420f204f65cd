package restoreapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soqlrestore/internal/describe"
	"soqlrestore/internal/middleware"
	"soqlrestore/internal/restore"
)

const fixture = `
objects:
  - name: Account
    fields:
      - {name: Id, type: id}
      - {name: Name, type: string}
      - {name: OwnerId, type: reference, relationshipName: Owner, referenceTo: [User]}
  - name: User
    fields:
      - {name: Id, type: id}
      - {name: Name, type: string}
`

type failingTransport struct {
	err error
}

func (f failingTransport) DescribeGlobal(context.Context) ([]describe.ObjectSummary, error) {
	return nil, f.err
}

func (f failingTransport) DescribeObject(context.Context, string) (*describe.Object, error) {
	return nil, f.err
}

type recordingInvalidator struct {
	objects []string
	all     bool
	err     error
}

func (r *recordingInvalidator) Invalidate(_ context.Context, names ...string) error {
	r.objects = append(r.objects, names...)
	return r.err
}

func (r *recordingInvalidator) InvalidateAll(context.Context) error {
	r.all = true
	return r.err
}

func fixtureTransport(t *testing.T) describe.Transport {
	t.Helper()
	transport, err := describe.NewFileTransport(strings.NewReader(fixture))
	require.NoError(t, err)
	return transport
}

func newTestRouter(t *testing.T, mutate func(*Config)) http.Handler {
	t.Helper()
	transport := fixtureTransport(t)
	cfg := Config{
		Restorer:  restore.NewRestorer(transport),
		Transport: transport,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewRouter(cfg)
}

func postRestore(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, RestorePath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRestore_Success(t *testing.T) {
	handler := newTestRouter(t, nil)

	rec := postRestore(t, handler, `{"query":"SELECT Id, Name, Owner.Name, Bogus FROM Account"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		RootObject     string `json:"rootObject"`
		Composed       string `json:"composed"`
		SelectedFields []struct {
			Path string `json:"path"`
		} `json:"selectedFields"`
		Diagnostics struct {
			MissingFields []string `json:"missingFields"`
		} `json:"diagnostics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Account", body.RootObject)
	assert.Equal(t, "SELECT Id, Name, Owner.Name FROM Account", body.Composed)
	require.Len(t, body.SelectedFields, 3)
	assert.Equal(t, "Owner.Name", body.SelectedFields[2].Path)
	assert.Equal(t, []string{"Bogus"}, body.Diagnostics.MissingFields)
}

func TestRestore_UserErrors(t *testing.T) {
	handler := newTestRouter(t, nil)

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "malformed body", body: `{"query":`, want: "request body must be a JSON object with a query"},
		{name: "blank query", body: `{"query":"  "}`, want: "query is required"},
		{name: "unknown object", body: `{"query":"SELECT Id FROM Widget"}`, want: "object Widget was not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postRestore(t, handler, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var body errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "user", body.Kind)
			assert.Equal(t, tt.want, body.Error)
		})
	}

	rec := postRestore(t, handler, `{"query":"NOT A QUERY"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "query could not be parsed")
}

func TestRestore_InternalErrorIsOpaque(t *testing.T) {
	transport := failingTransport{err: errors.New("dial tcp: connection refused")}
	handler := NewRouter(Config{Restorer: restore.NewRestorer(transport), Transport: transport})

	rec := postRestore(t, handler, `{"query":"SELECT Id FROM Account"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"failed to restore query","kind":"internal"}`, rec.Body.String())
}

func TestRestore_BodyTooLarge(t *testing.T) {
	handler := newTestRouter(t, func(cfg *Config) { cfg.MaxBodyBytes = 16 })

	rec := postRestore(t, handler, `{"query":"SELECT Id, Name FROM Account"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRestore_MethodNotAllowed(t *testing.T) {
	handler := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, RestorePath, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.JSONEq(t, `{"error":"method not allowed"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(t, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, HealthPath, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","describe":"ok"}`, rec.Body.String())

	transport := failingTransport{err: errors.New("boom")}
	handler := NewRouter(Config{
		Restorer:           restore.NewRestorer(transport),
		Transport:          transport,
		HealthCheckTimeout: time.Second,
	})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, HealthPath, nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unhealthy","describe":"failed"}`, rec.Body.String())
}

func TestMetricsRoute(t *testing.T) {
	handler := newTestRouter(t, func(cfg *Config) {
		cfg.Metrics = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		})
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, MetricsPath, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics", rec.Body.String())
}

func TestRefresh_NotMountedWithoutStore(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(t, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, RefreshPath, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefresh(t *testing.T) {
	invalidator := &recordingInvalidator{}
	auth, err := middleware.AdminTokenAuthMiddleware(middleware.AdminTokenAuthConfig{Token: "secret"})
	require.NoError(t, err)
	handler := newTestRouter(t, func(cfg *Config) {
		cfg.Invalidator = invalidator
		cfg.AdminAuth = auth
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, RefreshPath, nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, invalidator.all)

	req := httptest.NewRequest(http.MethodPost, RefreshPath+"?object=Account,contact&object=account", nil)
	req.Header.Set(middleware.AdminTokenHeader, "secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","scope":"object","objects":["Account","contact"]}`, rec.Body.String())
	assert.Equal(t, []string{"Account", "contact"}, invalidator.objects)
	assert.False(t, invalidator.all)

	req = httptest.NewRequest(http.MethodPost, RefreshPath, nil)
	req.Header.Set(middleware.AdminTokenHeader, "secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","scope":"all"}`, rec.Body.String())
	assert.True(t, invalidator.all)
}

func TestRefresh_Failure(t *testing.T) {
	handler := newTestRouter(t, func(cfg *Config) {
		cfg.Invalidator = &recordingInvalidator{err: errors.New("redis down")}
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, RefreshPath, nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"describe refresh failed"}`, rec.Body.String())
}

func TestRefresh_AgainstStoreTransport(t *testing.T) {
	store := describe.NewMemoryStore()
	cached := describe.NewStoreTransport(fixtureTransport(t), store, describe.WithStorePrefix("test:"))
	_, err := cached.DescribeObject(context.Background(), "Account")
	require.NoError(t, err)
	_, ok, err := store.Get(context.Background(), "test:object:account")
	require.NoError(t, err)
	require.True(t, ok)

	handler := NewRouter(Config{
		Restorer:    restore.NewRestorer(cached),
		Transport:   cached,
		Invalidator: cached,
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, RefreshPath+"?object=Account", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	_, ok, err = store.Get(context.Background(), "test:object:account")
	require.NoError(t, err)
	assert.False(t, ok)
}
