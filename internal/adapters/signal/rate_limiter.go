package signal

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/dkeye/meshcall/internal/domain"
)

// JoinLimiter is a token bucket per connection for join-room requests.
type JoinLimiter struct {
	mu       sync.Mutex
	limiters map[domain.ConnectionID]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func NewJoinLimiter(perSecond float64, burst int) *JoinLimiter {
	return &JoinLimiter{
		limiters: make(map[domain.ConnectionID]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (jl *JoinLimiter) Allow(cid domain.ConnectionID) bool {
	jl.mu.Lock()
	l, ok := jl.limiters[cid]
	if !ok {
		l = rate.NewLimiter(jl.limit, jl.burst)
		jl.limiters[cid] = l
	}
	jl.mu.Unlock()
	return l.Allow()
}

func (jl *JoinLimiter) Forget(cid domain.ConnectionID) {
	jl.mu.Lock()
	delete(jl.limiters, cid)
	jl.mu.Unlock()
}

func (jl *JoinLimiter) Len() int {
	jl.mu.Lock()
	defer jl.mu.Unlock()
	return len(jl.limiters)
}
