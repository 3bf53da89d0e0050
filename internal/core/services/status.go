package services

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
	"github.com/custodia-labs/ledgersync/internal/logger"
)

// subscriberBuffer is the per-subscriber channel capacity. Slow
// subscribers miss intermediate snapshots rather than blocking checks.
const subscriberBuffer = 8

// StatusResolver is the single source of truth for whether a user is
// connected. It caches verdicts for a freshness window, collapses
// concurrent checks for the same user into one store read, and honours
// the post-authorisation grace flag.
//
// Only verdicts from a direct store read are cached. Grace-derived and
// error verdicts are recomputed on every check.
type StatusResolver struct {
	store       driven.ConnectionStore
	grace       driven.GraceStore
	freshness   time.Duration
	graceWindow time.Duration
	now         func() time.Time

	group singleflight.Group

	mu    sync.Mutex
	cache map[string]domain.StatusSnapshot
	// gen is bumped whenever a user's cached verdict is invalidated so that
	// checks started before the bump neither cache nor return stale truth.
	gen     map[string]uint64
	subs    map[string]map[int]chan domain.StatusSnapshot
	nextSub int
}

// NewStatusResolver creates a resolver using the configured windows.
func NewStatusResolver(store driven.ConnectionStore, grace driven.GraceStore, windows domain.WindowSettings) *StatusResolver {
	return &StatusResolver{
		store:       store,
		grace:       grace,
		freshness:   windows.StatusFreshness,
		graceWindow: windows.GraceWindow,
		now:         time.Now,
		cache:       make(map[string]domain.StatusSnapshot),
		gen:         make(map[string]uint64),
		subs:        make(map[string]map[int]chan domain.StatusSnapshot),
	}
}

// CheckStatus returns the user's connection verdict. A fresh cached verdict
// is returned without I/O unless force is set.
func (r *StatusResolver) CheckStatus(ctx context.Context, userID string, force bool) domain.StatusSnapshot {
	if userID == "" {
		return domain.StatusSnapshot{
			Status:        domain.StatusError,
			LastCheckedAt: r.now(),
			Error:         domain.UserMessage(domain.ErrNotAuthenticated),
		}
	}

	r.mu.Lock()
	if snap, ok := r.cache[userID]; ok && !force && snap.FreshAt(r.now(), r.freshness) {
		r.mu.Unlock()
		return snap
	}
	gen := r.gen[userID]
	r.mu.Unlock()

	key := userID + "#" + strconv.FormatUint(gen, 10)
	v, _, _ := r.group.Do(key, func() (any, error) {
		return r.resolve(ctx, userID, gen), nil
	})
	return v.(domain.StatusSnapshot)
}

// resolve performs one check against the store.
func (r *StatusResolver) resolve(ctx context.Context, userID string, gen uint64) domain.StatusSnapshot {
	r.publish(domain.StatusSnapshot{UserID: userID, Status: domain.StatusChecking, LastCheckedAt: r.now()})

	snap := domain.StatusSnapshot{UserID: userID}
	cacheable := false

	conn, err := r.store.Get(ctx, userID)
	snap.LastCheckedAt = r.now()

	switch {
	case err == nil:
		snap.Status = domain.StatusConnected
		snap.CompanyName = conn.CompanyName
		cacheable = true
		// Direct confirmation consumes the grace flag.
		if cerr := r.grace.Clear(ctx, userID); cerr != nil {
			logger.L().Warn("grace flag clear failed", zap.String("user_id", userID), zap.Error(cerr))
		}

	case errors.Is(err, domain.ErrNotFound):
		active, gerr := r.grace.Active(ctx, userID)
		switch {
		case gerr != nil:
			snap.Status = domain.StatusError
			snap.Error = gerr.Error()
		case active:
			snap.Status = domain.StatusConnected
			snap.FromGrace = true
		default:
			snap.Status = domain.StatusDisconnected
			cacheable = true
		}

	default:
		snap.Status = domain.StatusError
		snap.Error = domain.UserMessage(domain.NewSyncError(domain.ErrPersistenceFailed, "", err))
		logger.L().Warn("connection status check failed", zap.String("user_id", userID), zap.Error(err))
	}

	r.mu.Lock()
	if r.gen[userID] != gen {
		// Invalidated while in flight. Prefer the verdict set by the invalidation.
		if current, ok := r.cache[userID]; ok {
			r.mu.Unlock()
			return current
		}
		r.mu.Unlock()
		r.publish(snap)
		return snap
	}
	if cacheable {
		r.cache[userID] = snap
	} else {
		delete(r.cache, userID)
	}
	r.mu.Unlock()

	r.publish(snap)
	return snap
}

// Invalidate drops the cached verdict so the next check re-reads the store.
func (r *StatusResolver) Invalidate(userID string) {
	r.mu.Lock()
	r.gen[userID]++
	delete(r.cache, userID)
	r.mu.Unlock()
}

// MarkConnected records a successful authorisation. The user reports as
// connected for the grace window even if the store read lags behind.
func (r *StatusResolver) MarkConnected(ctx context.Context, userID, companyName string) error {
	r.Invalidate(userID)

	err := r.grace.Mark(ctx, userID, r.graceWindow)
	r.publish(domain.StatusSnapshot{
		UserID:        userID,
		Status:        domain.StatusConnected,
		LastCheckedAt: r.now(),
		CompanyName:   companyName,
		FromGrace:     true,
	})
	return err
}

// MarkDisconnected synchronously records an explicit disconnect, replacing
// any cached verdict and clearing the grace flag.
func (r *StatusResolver) MarkDisconnected(ctx context.Context, userID string) {
	snap := domain.StatusSnapshot{
		UserID:        userID,
		Status:        domain.StatusDisconnected,
		LastCheckedAt: r.now(),
	}

	r.mu.Lock()
	r.gen[userID]++
	r.cache[userID] = snap
	r.mu.Unlock()

	if err := r.grace.Clear(ctx, userID); err != nil {
		logger.L().Warn("grace flag clear failed", zap.String("user_id", userID), zap.Error(err))
	}
	r.publish(snap)
}

// Subscribe streams snapshots for a user until cancel is called.
func (r *StatusResolver) Subscribe(userID string) (<-chan domain.StatusSnapshot, func()) {
	ch := make(chan domain.StatusSnapshot, subscriberBuffer)

	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	if r.subs[userID] == nil {
		r.subs[userID] = make(map[int]chan domain.StatusSnapshot)
	}
	r.subs[userID][id] = ch
	r.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs[userID], id)
			if len(r.subs[userID]) == 0 {
				delete(r.subs, userID)
			}
			close(ch)
			r.mu.Unlock()
		})
	}
	return ch, cancel
}

func (r *StatusResolver) publish(snap domain.StatusSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subs[snap.UserID] {
		select {
		case ch <- snap:
		default:
		}
	}
}
