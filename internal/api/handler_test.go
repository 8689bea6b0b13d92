package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/duckmesh/lakequery/internal/auth"
	"github.com/duckmesh/lakequery/internal/config"
)

func TestHealthEndpoint(t *testing.T) {
	cfg := loadTestConfig(t, map[string]string{})

	h := NewHandler(cfg, Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"service":"lakequery-api"`) {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	cfg := loadTestConfig(t, map[string]string{})

	h := NewHandler(cfg, Dependencies{
		Readiness: func(context.Context) error {
			return errors.New("dependency down")
		},
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	cfg := loadTestConfig(t, map[string]string{})

	h := NewHandler(cfg, Dependencies{})
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "lakequery_http_requests_total") {
		t.Fatal("expected http request metrics in exposition")
	}
}

func TestProtectedRouteRequiresAuth(t *testing.T) {
	cfg := loadTestConfig(t, map[string]string{"LAKEQUERY_AUTH_REQUIRED": "true"})
	validator, err := auth.NewStaticAPIKeyValidator("k1:ws:table_reader")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Tables:         &fakeTableLister{tables: []string{"orders"}},
	})

	unauthResp := httptest.NewRecorder()
	h.ServeHTTP(unauthResp, httptest.NewRequest(http.MethodGet, "/v1/tables?workspace=ws&lakehouse_layer=landing", nil))
	if unauthResp.Code != http.StatusUnauthorized {
		t.Fatalf("unauth status = %d", unauthResp.Code)
	}

	authReq := httptest.NewRequest(http.MethodGet, "/v1/tables?workspace=ws&lakehouse_layer=landing", nil)
	authReq.Header.Set("X-API-Key", "k1")
	authResp := httptest.NewRecorder()
	h.ServeHTTP(authResp, authReq)
	if authResp.Code != http.StatusOK {
		t.Fatalf("auth status = %d, body = %s", authResp.Code, authResp.Body.String())
	}

	otherReq := httptest.NewRequest(http.MethodGet, "/v1/tables?workspace=other&lakehouse_layer=landing", nil)
	otherReq.Header.Set("X-API-Key", "k1")
	otherResp := httptest.NewRecorder()
	h.ServeHTTP(otherResp, otherReq)
	if otherResp.Code != http.StatusForbidden {
		t.Fatalf("other workspace status = %d", otherResp.Code)
	}
}

func TestAuthRequiredWithoutMiddlewareFailsClosed(t *testing.T) {
	cfg := loadTestConfig(t, map[string]string{"LAKEQUERY_AUTH_REQUIRED": "true"})

	h := NewHandler(cfg, Dependencies{Tables: &fakeTableLister{}})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/tables?workspace=ws&lakehouse_layer=landing", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestListTablesReturnsPaths(t *testing.T) {
	cfg := loadTestConfig(t, map[string]string{})
	lister := &fakeTableLister{tables: []string{"customers", "orders"}}

	h := NewHandler(cfg, Dependencies{Tables: lister})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/tables?workspace=ws&lakehouse_layer=Landing", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var body struct {
		Layer  string `json:"lakehouse_layer"`
		Tables []struct {
			Name string `json:"name"`
			Path string `json:"path"`
		} `json:"tables"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if body.Layer != "landing" || lister.layer != "landing" {
		t.Fatalf("layer = %q, lister layer = %q", body.Layer, lister.layer)
	}
	if len(body.Tables) != 2 || body.Tables[1].Path != "abfss://ws@onelake.dfs.fabric.microsoft.com/landing.Lakehouse/Tables/orders" {
		t.Fatalf("tables = %+v", body.Tables)
	}
}

func TestListTablesValidation(t *testing.T) {
	cfg := loadTestConfig(t, map[string]string{})

	notConfigured := httptest.NewRecorder()
	NewHandler(cfg, Dependencies{}).ServeHTTP(notConfigured, httptest.NewRequest(http.MethodGet, "/v1/tables?workspace=ws&lakehouse_layer=l", nil))
	if notConfigured.Code != http.StatusNotImplemented {
		t.Fatalf("not configured status = %d", notConfigured.Code)
	}

	h := NewHandler(cfg, Dependencies{Tables: &fakeTableLister{err: errors.New("403")}})
	for target, want := range map[string]int{
		"/v1/tables?lakehouse_layer=l":              http.StatusBadRequest,
		"/v1/tables?workspace=ws":                   http.StatusBadRequest,
		"/v1/tables?workspace=ws&lakehouse_layer=l": http.StatusBadGateway,
	} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		if rr.Code != want {
			t.Fatalf("%s status = %d, want %d", target, rr.Code, want)
		}
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	order := make([]int, 0, 3)
	combined := CombineReadinessChecks(
		func(_ context.Context) error {
			order = append(order, 1)
			return nil
		},
		func(_ context.Context) error {
			order = append(order, 2)
			return errors.New("boom")
		},
		func(_ context.Context) error {
			order = append(order, 3)
			return nil
		},
	)

	err := combined(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %#v", order)
	}
}

func TestReadinessChecks(t *testing.T) {
	if err := CheckEngine(nil)(context.Background()); err == nil {
		t.Fatal("expected error for missing engine")
	}
	pingErr := errors.New("database closed")
	if err := CheckEngine(fakePinger{err: pingErr})(context.Background()); !errors.Is(err, pingErr) {
		t.Fatalf("CheckEngine() error = %v", err)
	}

	cfg := loadTestConfig(t, map[string]string{})
	if err := CheckExportConfig(cfg)(context.Background()); err != nil {
		t.Fatalf("CheckExportConfig() with export disabled error = %v", err)
	}
	cfg.Export.Enabled = true
	cfg.Export.Bucket = ""
	if err := CheckExportConfig(cfg)(context.Background()); err == nil {
		t.Fatal("expected error for missing export settings")
	}
}

func loadTestConfig(t *testing.T, env map[string]string) config.Config {
	t.Helper()
	cfg, err := config.Load("lakequery-api", mapLookup(env))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeTableLister struct {
	tables    []string
	err       error
	workspace string
	layer     string
}

func (f *fakeTableLister) ListTables(_ context.Context, workspace, layer string) ([]string, error) {
	f.workspace, f.layer = workspace, layer
	if f.err != nil {
		return nil, f.err
	}
	return f.tables, nil
}
