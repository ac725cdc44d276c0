package alertstore

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/openlews/openlews/internal/model"
	"github.com/openlews/openlews/internal/store/redisstore"
)

func newStore(t *testing.T) AlertStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	cli, err := redisstore.New(ctx, "alert", mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })
	return NewRedisStore(cli)
}

func baseAlert(id string, level model.RiskLevel) model.Alert {
	now := time.Now()
	return model.Alert{
		AlertID:   id,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    model.AlertActive,
		RiskLevel: level,
		Expiry:    now.Add(time.Hour).Unix(),
	}
}

func TestPut_FirstWriteForNewAlertAlwaysApplies(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a := baseAlert("a1", model.RiskYellow)
	if err := s.Put(ctx, a, time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Get(ctx, "a1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.RiskLevel != model.RiskYellow {
		t.Fatalf("RiskLevel = %v, want Yellow", got.RiskLevel)
	}
}

func TestPut_EscalationOverOrdinalSucceeds(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a := baseAlert("a2", model.RiskYellow)
	if err := s.Put(ctx, a, time.Hour); err != nil {
		t.Fatalf("Put initial: %v", err)
	}

	a.RiskLevel = model.RiskRed
	if err := s.Put(ctx, a, time.Hour); err != nil {
		t.Fatalf("Put escalation: %v", err)
	}

	got, ok, err := s.Get(ctx, "a2")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.RiskLevel != model.RiskRed {
		t.Fatalf("RiskLevel = %v, want Red", got.RiskLevel)
	}
}

func TestPut_RegressionBelowStoredOrdinalIsRejected(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a := baseAlert("a3", model.RiskRed)
	if err := s.Put(ctx, a, time.Hour); err != nil {
		t.Fatalf("Put initial: %v", err)
	}

	regressed := a
	regressed.RiskLevel = model.RiskYellow
	err := s.Put(ctx, regressed, time.Hour)
	if !errors.Is(err, ErrRiskRegression) {
		t.Fatalf("Put regression: got err=%v, want ErrRiskRegression", err)
	}

	got, ok, gerr := s.Get(ctx, "a3")
	if gerr != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, gerr)
	}
	if got.RiskLevel != model.RiskRed {
		t.Fatalf("RiskLevel = %v, want unchanged Red after rejected regression", got.RiskLevel)
	}
}

func TestPut_SameOrdinalOverwriteSucceeds(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a := baseAlert("a4", model.RiskOrange)
	if err := s.Put(ctx, a, time.Hour); err != nil {
		t.Fatalf("Put initial: %v", err)
	}

	a.Confidence = 0.9
	if err := s.Put(ctx, a, time.Hour); err != nil {
		t.Fatalf("Put same-ordinal update: %v", err)
	}

	got, ok, err := s.Get(ctx, "a4")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Confidence != 0.9 {
		t.Fatalf("Confidence = %v, want 0.9", got.Confidence)
	}
}
