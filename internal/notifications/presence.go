package notifications

import (
	"context"
	"strconv"
	"sync"
	"time"

	"intouch/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	presenceOnlineSetKey  = "ws:online_users"
	presenceLastSeenKeyNS = "ws:last_seen:"
	presenceTTL           = 90 * time.Second
	offlineGrace          = 5 * time.Second
	reaperInterval        = 60 * time.Second
)

// Presence counts local connections per user, mirrors them into Redis so other
// instances can answer IsOnline, and reports online/offline transitions. A
// user going offline is held back for a grace window so quick reconnects do
// not flap.
type Presence struct {
	rdb *redis.Client

	mu        sync.RWMutex
	local     map[string]int
	timers    map[string]*time.Timer
	notified  map[string]bool
	grace     time.Duration
	onOnline  func(userID string)
	onOffline func(userID string)
	stopOnce  sync.Once
	stopCh    chan struct{}
}

// NewPresence returns a tracker. With a Redis client a reaper goroutine drops
// users whose last-seen key expired; call Stop to end it.
func NewPresence(rdb *redis.Client) *Presence {
	p := &Presence{
		rdb:      rdb,
		local:    make(map[string]int),
		timers:   make(map[string]*time.Timer),
		notified: make(map[string]bool),
		grace:    offlineGrace,
		stopCh:   make(chan struct{}),
	}
	if rdb != nil {
		go p.reaperLoop(reaperInterval)
	}
	return p
}

// SetCallbacks installs the transition callbacks. Either may be nil.
func (p *Presence) SetCallbacks(onOnline, onOffline func(userID string)) {
	p.mu.Lock()
	p.onOnline = onOnline
	p.onOffline = onOffline
	p.mu.Unlock()
}

func (p *Presence) SetOfflineGracePeriod(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	p.grace = d
	p.mu.Unlock()
}

func (p *Presence) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.mu.Lock()
		for userID, t := range p.timers {
			t.Stop()
			delete(p.timers, userID)
		}
		p.mu.Unlock()
	})
}

// Connect records one more connection of userID.
func (p *Presence) Connect(ctx context.Context, userID string) {
	wasOnline := p.IsOnline(ctx, userID)

	p.mu.Lock()
	if t, ok := p.timers[userID]; ok {
		t.Stop()
		delete(p.timers, userID)
	}
	p.local[userID]++
	p.notified[userID] = false
	p.mu.Unlock()

	p.Touch(ctx, userID)
	if !wasOnline {
		p.emit(userID, true)
	}
}

// Touch refreshes the Redis last-seen key of userID.
func (p *Presence) Touch(ctx context.Context, userID string) {
	if p.rdb == nil {
		return
	}
	if err := p.rdb.SAdd(ctx, presenceOnlineSetKey, userID).Err(); err != nil {
		observability.RedisErrorRate.WithLabelValues("presence_sadd").Inc()
		return
	}
	now := strconv.FormatInt(time.Now().Unix(), 10)
	if err := p.rdb.SetEx(ctx, presenceLastSeenKeyNS+userID, now, presenceTTL).Err(); err != nil {
		observability.RedisErrorRate.WithLabelValues("presence_setex").Inc()
	}
}

// Disconnect records a closed connection. The last one starts the offline
// grace timer.
func (p *Presence) Disconnect(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := p.local[userID]; n > 1 {
		p.local[userID] = n - 1
		return
	}
	delete(p.local, userID)
	if t, ok := p.timers[userID]; ok {
		t.Stop()
	}
	p.timers[userID] = time.AfterFunc(p.grace, func() {
		p.finalizeOffline(context.Background(), userID)
	})
}

// IsOnline reports a local connection or a live last-seen key in Redis.
func (p *Presence) IsOnline(ctx context.Context, userID string) bool {
	p.mu.RLock()
	local := p.local[userID] > 0
	p.mu.RUnlock()
	if local {
		return true
	}
	if p.rdb == nil {
		return false
	}
	n, err := p.rdb.Exists(ctx, presenceLastSeenKeyNS+userID).Result()
	return err == nil && n > 0
}

func (p *Presence) reaperLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapOnce(context.Background())
		}
	}
}

// reapOnce removes users from the online set whose last-seen key is gone.
func (p *Presence) reapOnce(ctx context.Context) {
	members, err := p.rdb.SMembers(ctx, presenceOnlineSetKey).Result()
	if err != nil {
		observability.RedisErrorRate.WithLabelValues("presence_smembers").Inc()
		return
	}
	for _, userID := range members {
		n, err := p.rdb.Exists(ctx, presenceLastSeenKeyNS+userID).Result()
		if err != nil || n > 0 {
			continue
		}
		_ = p.rdb.SRem(ctx, presenceOnlineSetKey, userID).Err()

		p.mu.RLock()
		hasLocal := p.local[userID] > 0
		p.mu.RUnlock()
		if !hasLocal {
			p.emit(userID, false)
		}
	}
}

func (p *Presence) finalizeOffline(ctx context.Context, userID string) {
	p.mu.Lock()
	delete(p.timers, userID)
	if p.local[userID] > 0 {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if p.rdb != nil {
		// Another instance may still hold a connection for this user.
		if n, err := p.rdb.Exists(ctx, presenceLastSeenKeyNS+userID).Result(); err == nil && n > 0 {
			return
		}
		_ = p.rdb.SRem(ctx, presenceOnlineSetKey, userID).Err()
	}
	p.emit(userID, false)
}

func (p *Presence) emit(userID string, online bool) {
	p.mu.Lock()
	if !online && p.notified[userID] {
		p.mu.Unlock()
		return
	}
	p.notified[userID] = !online
	cb := p.onOffline
	if online {
		cb = p.onOnline
	}
	p.mu.Unlock()
	if cb != nil {
		cb(userID)
	}
}
