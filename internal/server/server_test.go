package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/holdonravn/Privora-core/internal/coord"
	"github.com/holdonravn/Privora-core/internal/ledger"
	"github.com/holdonravn/Privora-core/internal/queue"
	"github.com/holdonravn/Privora-core/internal/server"
)

func setupRouter(t *testing.T) (*gin.Engine, *ledger.Ledger) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	l, err := ledger.Open(ledger.Config{Dir: t.TempDir(), SnapshotEvery: 1}, zap.NewNop())
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	// Fallback mode: enqueue appends inline, so handler tests are
	// deterministic without a drain loop.
	q := queue.New(queue.Config{Ledger: l, Logger: zap.NewNop()})
	q.Start()
	t.Cleanup(func() { q.Close(context.Background()) })

	router := server.NewRouter(server.Config{
		Ledger:   l,
		Queue:    q,
		Nonces:   coord.NewMemoryNonceStore(16),
		NonceTTL: time.Minute,
		Logger:   zap.NewNop(),
	})
	return router, l
}

func submit(t *testing.T, router *gin.Engine, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/ledger/records", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthz_200(t *testing.T) {
	router, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSubmitRecord_202(t *testing.T) {
	router, l := setupRouter(t)

	w := submit(t, router, `{"t":"pc","createdAt":"2026-08-30T12:00:00Z","proofId":"p-1"}`, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if id, _ := resp["eventId"].(string); id == "" {
		t.Error("expected a non-empty eventId in the response")
	}
	if n := l.LeafCount(); n != 1 {
		t.Errorf("expected 1 leaf after submit, got %d", n)
	}
}

func TestSubmitRecord_400_badKind(t *testing.T) {
	router, _ := setupRouter(t)

	w := submit(t, router, `{"t":"bogus"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSubmitRecord_repeatedEventID(t *testing.T) {
	router, l := setupRouter(t)

	hdr := map[string]string{"X-Event-Id": "evt-retry"}
	body := `{"t":"do","createdAt":"2026-08-30T12:00:00Z","disputeId":"d-1"}`
	for i := 0; i < 2; i++ {
		if w := submit(t, router, body, hdr); w.Code != http.StatusAccepted {
			t.Fatalf("submit %d: expected 202, got %d: %s", i, w.Code, w.Body.String())
		}
	}
	if n := l.LeafCount(); n != 1 {
		t.Errorf("expected 1 leaf after retried submit, got %d", n)
	}
}

func TestSubmitRecord_409_repeatedNonce(t *testing.T) {
	router, _ := setupRouter(t)

	hdr := map[string]string{"X-Privora-Nonce": "n-1"}
	body := `{"t":"pc","createdAt":"2026-08-30T12:00:00Z","proofId":"p-2"}`
	if w := submit(t, router, body, hdr); w.Code != http.StatusAccepted {
		t.Fatalf("first submit: expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if w := submit(t, router, body, hdr); w.Code != http.StatusConflict {
		t.Fatalf("second submit: expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRoot_200(t *testing.T) {
	router, _ := setupRouter(t)

	submit(t, router, `{"t":"pc","createdAt":"2026-08-30T12:00:00Z","proofId":"p-3"}`, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/ledger/root", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if int(resp["leafCount"].(float64)) != 1 {
		t.Errorf("expected leafCount 1, got %v", resp["leafCount"])
	}
	root, _ := resp["merkleRoot"].(string)
	if !strings.HasPrefix(root, "0x") || len(root) != 66 {
		t.Errorf("unexpected merkleRoot %q", root)
	}
}

func TestProof_200(t *testing.T) {
	router, l := setupRouter(t)

	for _, body := range []string{
		`{"t":"pc","createdAt":"2026-08-30T12:00:00Z","proofId":"a"}`,
		`{"t":"pc","createdAt":"2026-08-30T12:00:00Z","proofId":"b"}`,
		`{"t":"px","createdAt":"2026-08-30T12:00:00Z","supersedes":"a"}`,
	} {
		if w := submit(t, router, body, nil); w.Code != http.StatusAccepted {
			t.Fatalf("submit: expected 202, got %d: %s", w.Code, w.Body.String())
		}
	}

	day := l.CurrentRoot().Day
	req := httptest.NewRequest(http.MethodGet, "/v1/ledger/proof/"+day+"/1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var proof struct {
		Branch []struct {
			Hash string `json:"hash"`
			Side string `json:"side"`
		} `json:"branch"`
		Root string `json:"root"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &proof); err != nil {
		t.Fatalf("decode proof: %v", err)
	}
	if len(proof.Branch) == 0 {
		t.Error("expected a non-empty branch")
	}
	if !strings.HasPrefix(proof.Root, "0x") {
		t.Errorf("unexpected root %q", proof.Root)
	}
}

func TestProof_404_unknownDay(t *testing.T) {
	router, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/ledger/proof/19700101/0", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestProof_400_invalidIndex(t *testing.T) {
	router, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/ledger/proof/20260830/abc", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
