package redisstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openlews/openlews/internal/observability"
)

func newMini(t *testing.T) *Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := New(ctx, "telemetry", mr.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc
}

func TestSetMGetDel_HappyPath_AndMGetFiltersMissing(t *testing.T) {
	rc := newMini(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := rc.Set(ctx, "k1", []byte("v1"), 5*time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := rc.Set(ctx, "k2", []byte("v2"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := rc.MGet(ctx, []string{"k1", "k2", "missing"})
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("MGet size=%d want 2", len(got))
	}
	if string(got["k1"]) != "v1" || string(got["k2"]) != "v2" {
		t.Fatalf("unexpected values: %+v", got)
	}

	if err := rc.Del(ctx, "k1", "k2"); err != nil {
		t.Fatalf("Del: %v", err)
	}
}

func TestCanceledContext_IsRespected(t *testing.T) {
	rc := newMini(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := rc.Set(ctx, "k", []byte("v"), time.Second); err == nil {
		t.Fatalf("expected error on Set with canceled context")
	}
	if _, err := rc.MGet(ctx, []string{"k"}); err == nil {
		t.Fatalf("expected error on MGet with canceled context")
	}
	if err := rc.Del(ctx, "k"); err == nil {
		t.Fatalf("expected error on Del with canceled context")
	}
}

func TestTransact_AppliesWhenProceedTrue(t *testing.T) {
	rc := newMini(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	applied, err := rc.Transact(ctx, "tx1", time.Minute, func(cur []byte) ([]byte, bool) {
		if cur != nil {
			t.Fatalf("expected absent key, got %q", cur)
		}
		return []byte("v1"), true
	})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
	if !applied {
		t.Fatalf("expected applied=true")
	}

	got, err := rc.MGet(ctx, []string{"tx1"})
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	if string(got["tx1"]) != "v1" {
		t.Fatalf("unexpected stored value: %+v", got)
	}
}

func TestTransact_SkipsWriteWhenProceedFalse(t *testing.T) {
	rc := newMini(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := rc.Set(ctx, "tx2", []byte("original"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	applied, err := rc.Transact(ctx, "tx2", time.Minute, func(cur []byte) ([]byte, bool) {
		return nil, false
	})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
	if applied {
		t.Fatalf("expected applied=false")
	}

	got, err := rc.MGet(ctx, []string{"tx2"})
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	if string(got["tx2"]) != "original" {
		t.Fatalf("expected original value preserved, got %+v", got)
	}
}

func TestMetrics_Incremented(t *testing.T) {
	reg := prometheus.NewRegistry()
	observability.Init(reg, true)

	rc := newMini(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_ = rc.Set(ctx, "m1", []byte("x"), time.Minute)
	_, _ = rc.MGet(ctx, []string{"m1"})
	_ = rc.Del(ctx, "m1")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", rr.Code)
	}
	body := rr.Body.String()
	for _, op := range []string{"set", "mget", "del"} {
		if !strings.Contains(body, `store_op_total{op="`+op+`",store="telemetry"`) {
			t.Fatalf("missing store_op_total for op=%s; got:\n%s", op, body)
		}
	}
	if !strings.Contains(body, `store_op_duration_seconds_bucket{op="set",store="telemetry"`) {
		t.Fatalf("missing store_op_duration_seconds histogram; got:\n%s", body)
	}
}
