package cache

import (
	"testing"
	"time"

	"github.com/zen-systems/routegate/pkg/task"
)

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint("code", task.RiskLow, "write a parser")
	b := Fingerprint("code", task.RiskLow, "write a parser")
	if a != b {
		t.Errorf("identical requests produced different fingerprints: %s vs %s", a, b)
	}
}

func TestFingerprintDistinct(t *testing.T) {
	base := Fingerprint("code", task.RiskLow, "write a parser")
	tests := []struct {
		name     string
		category string
		risk     task.Risk
		prompt   string
	}{
		{"different category", "json", task.RiskLow, "write a parser"},
		{"different risk", "code", task.RiskHigh, "write a parser"},
		{"different prompt", "code", task.RiskLow, "write a lexer"},
		{"field boundary shift", "codew", task.RiskLow, "rite a parser"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Fingerprint(tt.category, tt.risk, tt.prompt); got == base {
				t.Errorf("fingerprint collision with base for %s", tt.name)
			}
		})
	}
}

func TestStoreGetPut(t *testing.T) {
	now := time.Unix(1000, 0)
	s := NewWithClock(func() time.Time { return now })

	fp := Fingerprint("status", task.RiskLow, "ping")
	if _, ok := s.Get(fp); ok {
		t.Fatal("empty store returned a hit")
	}

	s.Put(fp, task.Response{Text: "pong", Confidence: 0.9}, time.Minute)
	got, ok := s.Get(fp)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.Text != "pong" {
		t.Errorf("Text = %q, want %q", got.Text, "pong")
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestStoreExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	s := NewWithClock(func() time.Time { return now })

	fp := Fingerprint("status", task.RiskLow, "ping")
	s.Put(fp, task.Response{Text: "pong"}, time.Minute)

	now = now.Add(59 * time.Second)
	if _, ok := s.Get(fp); !ok {
		t.Fatal("entry expired before its TTL")
	}

	now = now.Add(time.Second)
	if _, ok := s.Get(fp); ok {
		t.Fatal("entry survived past its TTL")
	}
	if s.Len() != 0 {
		t.Errorf("expired entry was not evicted, Len() = %d", s.Len())
	}
}

func TestStorePutOverwrites(t *testing.T) {
	s := New()
	fp := Fingerprint("status", task.RiskLow, "ping")

	s.Put(fp, task.Response{Text: "first"}, time.Minute)
	s.Put(fp, task.Response{Text: "second"}, time.Minute)

	got, ok := s.Get(fp)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.Text != "second" {
		t.Errorf("Text = %q, want overwritten value %q", got.Text, "second")
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestStoreClear(t *testing.T) {
	s := New()
	s.Put(Fingerprint("a", task.RiskLow, "x"), task.Response{Text: "1"}, time.Minute)
	s.Put(Fingerprint("b", task.RiskLow, "y"), task.Response{Text: "2"}, time.Minute)

	s.Clear()
	if s.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", s.Len())
	}
}
