package routing

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testClassifier(t *testing.T) *Classifier {
	t.Helper()
	a := Allowlist{
		Version: 1,
		Entrypoints: map[string]Entrypoint{
			"server": {Routes: []Route{
				{Path: "/health", Methods: []string{"GET"}, RouteClass: "ops"},
				{Path: "/login", Methods: []string{"GET", "POST"}, RouteClass: "authn"},
				{Path: "/workspace/api/grants/{subject_id}", Methods: []string{"GET"}, RouteClass: "internal_api"},
			}},
		},
	}
	c, err := NewClassifier(a, "server")
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestClassifier_SegmentBoundary(t *testing.T) {
	t.Parallel()

	c := testClassifier(t)

	if got := c.Classify("/health"); got != RouteClassOps {
		t.Fatalf("got=%q", got)
	}
	if got := c.Classify("/workspace/api/grants"); got != RouteClassInternalAPI {
		t.Fatalf("got=%q", got)
	}
	if got := c.Classify("/workspace/apix"); got == RouteClassInternalAPI {
		t.Fatalf("unexpected internal api: %q", got)
	}
	if got := c.Classify("/realtime/ws"); got != RouteClassWebsocket {
		t.Fatalf("got=%q", got)
	}
	if got := c.Classify("/workspace/api/grants/abc"); got != RouteClassInternalAPI {
		t.Fatalf("pattern route got=%q", got)
	}
	if got := c.Classify("/"); got != RouteClassUI {
		t.Fatalf("got=%q", got)
	}
}

func TestParsePathPattern(t *testing.T) {
	t.Parallel()

	if _, ok := parsePathPattern("/plain/path"); ok {
		t.Fatal("plain path treated as pattern")
	}
	if _, ok := parsePathPattern("relative/{id}"); ok {
		t.Fatal("relative pattern accepted")
	}
	if _, ok := parsePathPattern("/bad/x{id}"); ok {
		t.Fatal("mid-segment braces accepted")
	}
	if _, ok := parsePathPattern("/bad/{}"); ok {
		t.Fatal("empty parameter accepted")
	}

	p, ok := parsePathPattern("/workspace/api/grants/{subject_id}")
	if !ok {
		t.Fatal("valid pattern rejected")
	}
	if !p.Match("/workspace/api/grants/abc") {
		t.Fatal("no match for parameter segment")
	}
	if p.Match("/workspace/api/grants/abc/extra") || p.Match("/workspace/api/grants/") {
		t.Fatal("parameter matched across segment boundary")
	}
}

func TestNewClassifier_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewClassifier(Allowlist{Version: 1, Entrypoints: map[string]Entrypoint{"server": {Routes: nil}}}, "server")
	if err == nil {
		t.Fatal("expected empty routes error")
	}
	_, err = NewClassifier(Allowlist{Version: 1, Entrypoints: map[string]Entrypoint{"server": {Routes: []Route{{}}}}}, "server")
	if err == nil {
		t.Fatal("expected invalid route error")
	}
	_, err = NewClassifier(Allowlist{Version: 1, Entrypoints: map[string]Entrypoint{}}, "server")
	if err == nil {
		t.Fatal("expected missing entrypoint error")
	}
}

func TestParseAllowlistYAML(t *testing.T) {
	t.Parallel()

	_, err := ParseAllowlistYAML([]byte("version: 2\nentrypoints: {}\n"))
	if err == nil {
		t.Fatal("expected version error")
	}

	a, err := ParseAllowlistYAML([]byte(`
version: 1
entrypoints:
  server:
    routes:
      - path: /health
        methods: [GET]
        route_class: ops
`))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(a.Entrypoints["server"].Routes) != 1 {
		t.Fatalf("routes=%d", len(a.Entrypoints["server"].Routes))
	}
}

func TestRouter_PanicBecomes500JSON(t *testing.T) {
	t.Parallel()

	r := NewRouter(testClassifier(t))
	r.Handle(RouteClassInternalAPI, http.MethodGet, "/workspace/api/boom", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/workspace/api/boom", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		t.Fatalf("content-type=%q", rec.Header().Get("Content-Type"))
	}
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	r := NewRouter(testClassifier(t))
	r.Handle(RouteClassInternalAPI, http.MethodGet, "/workspace/api/grants", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/workspace/api/grants", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestRouter_NotFound(t *testing.T) {
	t.Parallel()

	r := NewRouter(testClassifier(t))
	req := httptest.NewRequest(http.MethodGet, "/nope/api/x", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestTraceIDFromRequest(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := traceIDFromRequest(req); got != "" {
		t.Fatalf("got=%q", got)
	}
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	if got := traceIDFromRequest(req); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("got=%q", got)
	}
	req.Header.Set("traceparent", "00-zzz-abc-01")
	if got := traceIDFromRequest(req); got != "" {
		t.Fatalf("got=%q", got)
	}
}
