package extraction

import (
	"context"
	"testing"

	"golang.org/x/time/rate"

	"github.com/ternarybob/quaestor/internal/models"
)

func TestPortalLimiterSharedAcrossNameCasing(t *testing.T) {
	limits := NewPortalLimiter(60)

	a := limits.limiterFor(&models.Portal{Name: "Haryana"})
	b := limits.limiterFor(&models.Portal{Name: "  HARYANA "})
	if a != b {
		t.Error("same portal under different casing must share one bucket")
	}

	c := limits.limiterFor(&models.Portal{Name: "Punjab"})
	if a == c {
		t.Error("distinct portals must not share a bucket")
	}
}

func TestPortalLimiterDefaultRPM(t *testing.T) {
	limits := NewPortalLimiter(60)

	lim := limits.limiterFor(&models.Portal{Name: "NoOverride"})
	if got := lim.Limit(); got != rate.Limit(1.0) {
		t.Errorf("Limit = %v, want 1 req/s from the 60 rpm default", got)
	}
	if got := lim.Burst(); got != 5 {
		t.Errorf("Burst = %d, want 5", got)
	}
}

func TestPortalLimiterPortalOverride(t *testing.T) {
	limits := NewPortalLimiter(60)

	lim := limits.limiterFor(&models.Portal{Name: "Slow", RateLimitRPM: 12})
	if got := lim.Limit(); got != rate.Limit(0.2) {
		t.Errorf("Limit = %v, want 0.2 req/s from the 12 rpm override", got)
	}
	if got := lim.Burst(); got != 1 {
		t.Errorf("Burst = %d, want 1", got)
	}
}

func TestBurstFor(t *testing.T) {
	tests := []struct {
		rpm  int
		want int
	}{
		{1, 1},
		{11, 1},
		{12, 1},
		{60, 5},
		{120, 10},
	}
	for _, tt := range tests {
		if got := burstFor(tt.rpm); got != tt.want {
			t.Errorf("burstFor(%d) = %d, want %d", tt.rpm, got, tt.want)
		}
	}
}

func TestPortalLimiterWaitHonorsContext(t *testing.T) {
	limits := NewPortalLimiter(1) // one request a minute, burst 1
	portal := &models.Portal{Name: "Slow"}

	if err := limits.Wait(context.Background(), portal); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := limits.Wait(ctx, portal); err == nil {
		t.Error("drained bucket with cancelled context must not grant a token")
	}
}
