package services

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ledgersync/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// --- clock ---

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// --- connection store ---

// laggyStore wraps the memory store. hidden users read as not found, which
// models a committed write that is not yet visible to this reader.
type laggyStore struct {
	*memory.ConnectionStore

	mu        sync.Mutex
	hidden    map[string]bool
	getErr    error
	upsertErr error
	deleteErr error
	gets      atomic.Int32
	// gate, if set, blocks Get until closed.
	gate chan struct{}
}

func newLaggyStore() *laggyStore {
	return &laggyStore{ConnectionStore: memory.NewConnectionStore(), hidden: make(map[string]bool)}
}

func (s *laggyStore) Get(ctx context.Context, userID string) (*domain.Connection, error) {
	s.gets.Add(1)
	s.mu.Lock()
	gate, hidden, err := s.gate, s.hidden[userID], s.getErr
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	if hidden {
		return nil, domain.ErrNotFound
	}
	return s.ConnectionStore.Get(ctx, userID)
}

func (s *laggyStore) Upsert(ctx context.Context, conn domain.Connection) error {
	s.mu.Lock()
	err := s.upsertErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.ConnectionStore.Upsert(ctx, conn)
}

func (s *laggyStore) Delete(ctx context.Context, userID string) error {
	s.mu.Lock()
	err := s.deleteErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.ConnectionStore.Delete(ctx, userID)
}

func (s *laggyStore) hide(userID string) {
	s.mu.Lock()
	s.hidden[userID] = true
	s.mu.Unlock()
}

func (s *laggyStore) setGetErr(err error) {
	s.mu.Lock()
	s.getErr = err
	s.mu.Unlock()
}

// --- oauth ---

type fakeOAuth struct {
	clock *fakeClock

	mu          sync.Mutex
	exchangeErr error
	refreshErr  error
	revokeErr   error
	onRefresh   func()
	issued      int
	revoked     []string

	exchangeCalls atomic.Int32
	refreshCalls  atomic.Int32
}

func (o *fakeOAuth) AuthCodeURL(state, redirectURI string) string {
	return "https://auth.example.com/connect?state=" + state + "&redirect_uri=" + redirectURI
}

func (o *fakeOAuth) nextToken() *domain.OAuthToken {
	o.mu.Lock()
	o.issued++
	n := strconv.Itoa(o.issued)
	o.mu.Unlock()
	return &domain.OAuthToken{
		AccessToken:  "access-" + n,
		RefreshToken: "refresh-" + n,
		TokenType:    "bearer",
		Expiry:       o.clock.Now().Add(time.Hour),
	}
}

func (o *fakeOAuth) Exchange(_ context.Context, code, _ string) (*domain.OAuthToken, error) {
	o.exchangeCalls.Add(1)
	o.mu.Lock()
	err := o.exchangeErr
	o.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if code == "used" {
		return nil, domain.NewSyncError(domain.ErrExchangeFailed, "invalid_grant", nil)
	}
	return o.nextToken(), nil
}

func (o *fakeOAuth) Refresh(_ context.Context, _ string) (*domain.OAuthToken, error) {
	o.refreshCalls.Add(1)
	o.mu.Lock()
	err, hook := o.refreshErr, o.onRefresh
	o.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return o.nextToken(), nil
}

func (o *fakeOAuth) Revoke(_ context.Context, token string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.revoked = append(o.revoked, token)
	return o.revokeErr
}

// --- accounting API ---

type fakeAPI struct {
	mu          sync.Mutex
	records     map[string]map[string]domain.Record
	nextID      int
	companyName string
	companyErr  error
	queryErr    error
	failUpdate  map[string]error
	// dropFields are silently ignored on update, like an upstream that
	// does not support a field for a type.
	dropFields map[string]bool
	queries    []domain.Query
	sessions   []driven.Session
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		records:     make(map[string]map[string]domain.Record),
		companyName: "Craig's Design and Landscaping",
		failUpdate:  make(map[string]error),
		dropFields:  make(map[string]bool),
		nextID:      100,
	}
}

func (a *fakeAPI) seed(entity string, recs ...domain.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.records[entity] == nil {
		a.records[entity] = make(map[string]domain.Record)
	}
	for _, r := range recs {
		if r.SyncToken() == "" {
			r["SyncToken"] = "0"
		}
		a.records[entity][r.ID()] = r.Clone()
	}
}

func (a *fakeAPI) get(entity, id string) domain.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.records[entity][id].Clone()
}

func (a *fakeAPI) queryCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queries)
}

func (a *fakeAPI) Query(_ context.Context, s driven.Session, q domain.Query) (domain.QueryResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queries = append(a.queries, q)
	a.sessions = append(a.sessions, s)
	if a.queryErr != nil {
		return nil, a.queryErr
	}
	var out []domain.Record
	for _, r := range a.records[q.Entity] {
		if q.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	return domain.QueryResponse{q.Entity: out}, nil
}

func (a *fakeAPI) Read(_ context.Context, _ driven.Session, entity, id string) (domain.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.records[entity][id]
	if !ok {
		return nil, &domain.SyncError{Kind: domain.ErrDependencyConflict, Cause: domain.CauseAlreadyDeleted}
	}
	return r.Clone(), nil
}

func (a *fakeAPI) Create(_ context.Context, _ driven.Session, entity string, payload domain.Record) (domain.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	r := payload.Clone()
	r["Id"] = strconv.Itoa(a.nextID)
	r["SyncToken"] = "0"
	if a.records[entity] == nil {
		a.records[entity] = make(map[string]domain.Record)
	}
	a.records[entity][r.ID()] = r
	return r.Clone(), nil
}

func (a *fakeAPI) Update(_ context.Context, _ driven.Session, entity string, payload domain.Record) (domain.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := payload.ID()
	if err := a.failUpdate[id]; err != nil {
		return nil, err
	}
	current, ok := a.records[entity][id]
	if !ok {
		return nil, &domain.SyncError{Kind: domain.ErrDependencyConflict, Cause: domain.CauseAlreadyDeleted}
	}
	if current.SyncToken() != payload.SyncToken() {
		return nil, domain.NewSyncError(domain.ErrStaleSyncToken, "Stale Object Error", nil)
	}
	for k, v := range payload {
		if k == "Id" || k == "SyncToken" || a.dropFields[k] {
			continue
		}
		current[k] = v
	}
	n, _ := strconv.Atoi(current.SyncToken())
	current["SyncToken"] = strconv.Itoa(n + 1)
	return current.Clone(), nil
}

func (a *fakeAPI) CompanyName(_ context.Context, _ driven.Session) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.companyName, a.companyErr
}

// --- harness ---

type harness struct {
	clock    *fakeClock
	store    *laggyStore
	logs     *memory.OperationLogStore
	grace    *memory.GraceStore
	oauth    *fakeOAuth
	api      *fakeAPI
	settings domain.Settings

	status   *StatusResolver
	audit    *OperationLogger
	guard    *TokenGuard
	flow     *AuthorizationFlow
	engine   *EntitySync
	bulk     *BulkDeleter
	conns    *ConnectionService
	entities *EntityService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		clock:    newFakeClock(),
		store:    newLaggyStore(),
		logs:     memory.NewOperationLogStore(),
		api:      newFakeAPI(),
		settings: domain.DefaultSettings(),
	}
	h.grace = memory.NewGraceStore(h.clock.Now)
	h.oauth = &fakeOAuth{clock: h.clock}

	h.status = NewStatusResolver(h.store, h.grace, h.settings.Windows)
	h.status.now = h.clock.Now
	h.audit = NewOperationLogger(h.logs)
	h.audit.now = h.clock.Now
	h.guard = NewTokenGuard(h.store, h.oauth, h.status, h.audit, h.settings.Windows.RefreshThreshold)
	h.guard.now = h.clock.Now
	h.flow = NewAuthorizationFlow(h.oauth, h.api, h.store, h.status, h.audit, "http://localhost:8420/callback")
	h.flow.now = h.clock.Now
	h.engine = NewEntitySync(domain.DefaultCatalog(), h.api, h.guard, h.audit, h.settings.API)
	h.engine.now = h.clock.Now
	h.bulk = NewBulkDeleter(h.engine)
	h.conns = NewConnectionService(h.flow, h.status, h.store, h.oauth, h.audit)
	h.entities = NewEntityService(h.engine, h.bulk)
	return h
}

// connect stores a connection whose token expires after ttl.
func (h *harness) connect(t *testing.T, userID string, ttl time.Duration) domain.Connection {
	t.Helper()
	conn := domain.Connection{
		UserID:       userID,
		TenantID:     "realm-" + userID,
		AccessToken:  "stored-access",
		RefreshToken: "stored-refresh",
		TokenType:    "bearer",
		ExpiresAt:    h.clock.Now().Add(ttl),
		CompanyName:  "Acme Ltd",
		CreatedAt:    h.clock.Now(),
		UpdatedAt:    h.clock.Now(),
	}
	require.NoError(t, h.store.ConnectionStore.Upsert(context.Background(), conn))
	return conn
}

func (h *harness) logCount() int {
	return len(h.logs.All())
}

func (h *harness) lastLog(t *testing.T) domain.OperationLogEntry {
	t.Helper()
	all := h.logs.All()
	require.NotEmpty(t, all)
	return all[len(all)-1]
}

var errBoom = errors.New("boom")
