package cache

import (
	"testing"
	"time"
)

func TestRecord_Expired(t *testing.T) {
	now := time.Now()
	past := now.Add(-1 * time.Minute)
	future := now.Add(1 * time.Minute)

	tests := []struct {
		name      string
		expiresAt *time.Time
		want      bool
	}{
		{"never expires", nil, false},
		{"future expiry", &future, false},
		{"past expiry", &past, true},
		{"exactly now", &now, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &Record{ExpiresAt: tt.expiresAt}
			if got := rec.Expired(now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecord_TTL(t *testing.T) {
	now := time.Now()

	t.Run("never expires", func(t *testing.T) {
		rec := &Record{}
		if _, ok := rec.TTL(now); ok {
			t.Error("Expected ok=false for never-expiring record")
		}
	})

	t.Run("remaining lifetime", func(t *testing.T) {
		exp := now.Add(90 * time.Second)
		rec := &Record{ExpiresAt: &exp}
		ttl, ok := rec.TTL(now)
		if !ok {
			t.Fatal("Expected ok=true")
		}
		if ttl != 90*time.Second {
			t.Errorf("TTL = %v, want 90s", ttl)
		}
	})

	t.Run("already expired clamps to zero", func(t *testing.T) {
		exp := now.Add(-10 * time.Second)
		rec := &Record{ExpiresAt: &exp}
		ttl, ok := rec.TTL(now)
		if !ok {
			t.Fatal("Expected ok=true")
		}
		if ttl != 0 {
			t.Errorf("TTL = %v, want 0", ttl)
		}
	})
}
