package mid

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/WessleyAI/graphbulk/pkg/metrics"
)

func TestServerAppliesMiddlewareOutermostFirst(t *testing.T) {
	var order []int
	mw := func(n int) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, n)
				next.ServeHTTP(w, r)
			})
		}
	}

	srv := metrics.New().Server(":0", mw(1), mw(2), mw(3))
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected [1,2,3], got %v", order)
	}
}

func TestLoggerCapturesStatus(t *testing.T) {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := Logger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
}

func TestRecoverCatchesPanic(t *testing.T) {
	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	h := Recover(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	called := false
	h := ReadOnly()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/metrics", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if called {
		t.Fatal("next handler should not run")
	}
	if rec.Header().Get("Allow") != "GET, HEAD" {
		t.Fatalf("unexpected Allow header %q", rec.Header().Get("Allow"))
	}
}

func TestReadOnlyPassesGet(t *testing.T) {
	h := ReadOnly()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	for _, m := range []string{"GET", "HEAD"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(m, "/metrics", nil))
		if rec.Code != http.StatusTeapot {
			t.Fatalf("%s: expected 418, got %d", m, rec.Code)
		}
	}
}

func TestCountRecordsScrapes(t *testing.T) {
	reg := metrics.New()
	srv := reg.Server(":0", Count(reg), ReadOnly())

	for _, m := range []string{"GET", "GET", "POST"} {
		srv.Handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(m, "/metrics", nil))
	}

	out := reg.Render()
	for _, want := range []string{
		`graphbulk_scrapes_total{code="200"} 2`,
		`graphbulk_scrapes_total{code="405"} 1`,
		"graphbulk_scrape_duration_seconds_count 3",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in\n%s", want, out)
		}
	}
}

func TestRecorderKeepsFirstStatus(t *testing.T) {
	rec := &recorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	rec.WriteHeader(http.StatusNotFound)
	rec.WriteHeader(http.StatusInternalServerError)
	if rec.status != http.StatusNotFound {
		t.Fatalf("status should not change, got %d", rec.status)
	}
}

func TestRecorderCountsBytes(t *testing.T) {
	rec := &recorder{ResponseWriter: httptest.NewRecorder()}
	if _, err := rec.Write([]byte("abc")); err != nil {
		t.Fatal(err)
	}
	if _, err := rec.Write([]byte("de")); err != nil {
		t.Fatal(err)
	}
	if rec.status != http.StatusOK || !rec.wrote || rec.bytes != 5 {
		t.Fatalf("unexpected recorder state %+v", rec)
	}
}

func TestRecordReusesRecorder(t *testing.T) {
	rec := &recorder{ResponseWriter: httptest.NewRecorder()}
	if record(rec) != rec {
		t.Fatal("expected the same recorder")
	}
}

func TestOTel(t *testing.T) {
	h := OTel("graphbulk-metrics")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
