package revocation

import (
	"context"
	"testing"
	"time"
)

func TestMemoryRevocation(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	list := NewMemory(func() time.Time { return now })
	ctx := context.Background()

	if err := list.Revoke(ctx, "live", now.Add(time.Hour)); err != nil {
		t.Fatalf("Revoke returned error: %v", err)
	}
	if err := list.Revoke(ctx, "stale", now.Add(-time.Minute)); err != nil {
		t.Fatalf("Revoke returned error: %v", err)
	}

	tests := []struct {
		id   string
		want bool
	}{
		{id: "live", want: true},
		{id: "stale", want: false},
		{id: "unknown", want: false},
	}
	for _, tt := range tests {
		got, err := list.IsRevoked(ctx, tt.id)
		if err != nil {
			t.Fatalf("IsRevoked(%q) returned error: %v", tt.id, err)
		}
		if got != tt.want {
			t.Fatalf("IsRevoked(%q) = %t, want %t", tt.id, got, tt.want)
		}
	}

	now = now.Add(2 * time.Hour)
	if revoked, _ := list.IsRevoked(ctx, "live"); revoked {
		t.Fatalf("expected revocation to lapse with the token")
	}
	if err := list.Revoke(ctx, "other", now.Add(time.Minute)); err != nil {
		t.Fatalf("Revoke returned error: %v", err)
	}
	if len(list.revoked) != 1 {
		t.Fatalf("expected lapsed entries to be pruned, have %d", len(list.revoked))
	}
}
