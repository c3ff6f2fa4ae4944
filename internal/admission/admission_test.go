package admission

import (
	"context"
	"testing"
	"time"
)

func TestBackupAdmissionCeiling(t *testing.T) {
	b := NewBackupAdmission(2)
	if !b.TryAcquire() {
		t.Fatalf("expected first acquire to succeed")
	}
	if !b.TryAcquire() {
		t.Fatalf("expected second acquire to succeed")
	}
	if b.TryAcquire() {
		t.Fatalf("expected third acquire to fail at ceiling 2")
	}
	b.Release()
	if !b.TryAcquire() {
		t.Fatalf("expected acquire to succeed after release")
	}
}

func TestConnectLimiterAllowsBurst(t *testing.T) {
	l := NewConnectLimiter(100, 4)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 4; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
}
