package extraction

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/ternarybob/quaestor/internal/common"
	"github.com/ternarybob/quaestor/internal/models"
)

// PortalLimiter paces detail-page fetches per portal. All workers scraping
// the same portal share one token bucket, so adding workers never raises
// the portal's request rate.
type PortalLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	defaultRPM int
}

// NewPortalLimiter returns a limiter manager with the given default
// requests-per-minute for portals that set no override.
func NewPortalLimiter(defaultRPM int) *PortalLimiter {
	return &PortalLimiter{
		limiters:   make(map[string]*rate.Limiter),
		defaultRPM: defaultRPM,
	}
}

// Wait blocks until the portal's bucket yields a token or ctx is done
func (l *PortalLimiter) Wait(ctx context.Context, portal *models.Portal) error {
	return l.limiterFor(portal).Wait(ctx)
}

func (l *PortalLimiter) limiterFor(portal *models.Portal) *rate.Limiter {
	key := common.NormalizePortalName(portal.Name)

	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok := l.limiters[key]; ok {
		return lim
	}

	rpm := portal.RateLimitRPM
	if rpm <= 0 {
		rpm = l.defaultRPM
	}
	lim := rate.NewLimiter(rate.Limit(float64(rpm))/60.0, burstFor(rpm))
	l.limiters[key] = lim
	return lim
}

// burstFor allows roughly five seconds of headroom so page-load pauses do
// not strand unused capacity, while staying well under the per-minute cap.
func burstFor(rpm int) int {
	burst := rpm / 12
	if burst < 1 {
		burst = 1
	}
	return burst
}
