package api

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
)

const testSecret = "test-secret"

type fakeConnections struct {
	mu          sync.Mutex
	connectUser string
	redirect    string
	callback    []string
	result      driving.Result
	status      driving.StatusResult
	connectErr  error

	// updates are delivered to a subscriber, then its channel closes.
	updates      []domain.StatusSnapshot
	subscribed   string
	unsubscribed atomic.Bool
}

func (f *fakeConnections) Connect(_ context.Context, userID, redirectURI string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectUser, f.redirect = userID, redirectURI
	if f.connectErr != nil {
		return "", f.connectErr
	}
	return "https://auth.example.com/?state=" + userID, nil
}

func (f *fakeConnections) CompleteConnection(_ context.Context, code, state, tenantID string) driving.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callback = []string{code, state, tenantID}
	return f.result
}

func (f *fakeConnections) GetStatus(_ context.Context, _ string) driving.StatusResult {
	return f.status
}

func (f *fakeConnections) Disconnect(_ context.Context, _ string) driving.Result {
	return f.result
}

func (f *fakeConnections) Subscribe(userID string) (<-chan domain.StatusSnapshot, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = userID
	ch := make(chan domain.StatusSnapshot, len(f.updates))
	for _, snap := range f.updates {
		ch <- snap
	}
	close(ch)
	return ch, func() { f.unsubscribed.Store(true) }
}

type fakeEntities struct {
	mu        sync.Mutex
	user      string
	filter    map[string]string
	syncToken string
	records   []domain.Record
	err       error
	batch     *fakeBatch

	deleteType string
	deleteIDs  []string
}

func (f *fakeEntities) ListEntityTypes() []domain.EntityDescriptor {
	return domain.DefaultCatalog().List()
}

func (f *fakeEntities) FetchRecords(_ context.Context, userID, _ string, filter map[string]string) ([]domain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.user, f.filter = userID, filter
	return f.records, f.err
}

func (f *fakeEntities) CreateRecord(_ context.Context, _, _ string, payload domain.Record) (domain.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	rec := payload.Clone()
	rec["Id"] = "42"
	rec["SyncToken"] = "0"
	return rec, nil
}

func (f *fakeEntities) UpdateRecord(_ context.Context, _, _, id string, payload domain.Record, syncToken string) (domain.Record, error) {
	f.mu.Lock()
	f.syncToken = syncToken
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	rec := payload.Clone()
	rec["Id"] = id
	return rec, nil
}

func (f *fakeEntities) DeleteRecord(_ context.Context, _, _, id string) (domain.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	return domain.Record{"Id": id, "Active": false}, nil
}

func (f *fakeEntities) DeleteMany(_ context.Context, _, entityType string, ids []string) (driving.DeleteBatch, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.deleteType, f.deleteIDs = entityType, ids
	f.mu.Unlock()
	f.batch = newFakeBatch(entityType, ids)
	return f.batch, nil
}

// fakeBatch succeeds on every id except "bad".
type fakeBatch struct {
	updates chan domain.DeleteBatchProgress
	done    chan struct{}
	final   domain.DeleteBatchProgress
}

func newFakeBatch(entityType string, ids []string) *fakeBatch {
	b := &fakeBatch{
		updates: make(chan domain.DeleteBatchProgress, len(ids)+1),
		done:    make(chan struct{}),
	}
	p := domain.DeleteBatchProgress{BatchID: "batch-1", EntityType: entityType, Total: len(ids), State: domain.BatchRunning}
	for _, id := range ids {
		r := domain.ItemResult{ID: id, Status: domain.ItemSuccess}
		if id == "bad" {
			r = domain.ItemResult{ID: id, Status: domain.ItemFailed, Error: "has linked payments", Kind: domain.KindDependencyConflict}
		}
		p.Record(r)
		b.updates <- p.Clone()
	}
	p.State = domain.BatchCompleted
	b.final = p.Clone()
	b.updates <- b.final
	close(b.updates)
	close(b.done)
	return b
}

func (b *fakeBatch) ID() string { return "batch-1" }
func (b *fakeBatch) Updates() <-chan domain.DeleteBatchProgress { return b.updates }
func (b *fakeBatch) Done() <-chan struct{} { return b.done }
func (b *fakeBatch) Wait() domain.DeleteBatchProgress { return b.final }
func (b *fakeBatch) Snapshot() domain.DeleteBatchProgress { return b.final }
func (b *fakeBatch) Records() []domain.Record { return []domain.Record{{"Id": "9"}} }

type fakeTransfer struct {
	imported []byte
	summary  *driving.ImportSummary
	err      error
}

func (f *fakeTransfer) Export(_ context.Context, _, _ string, w io.Writer) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	_, err := w.Write([]byte("PK-fake-workbook"))
	return 3, err
}

func (f *fakeTransfer) Import(_ context.Context, _, entityType string, r io.Reader) (*driving.ImportSummary, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.imported = b
	if f.summary != nil {
		return f.summary, nil
	}
	return &driving.ImportSummary{EntityType: entityType, Total: 1, Created: 1, Status: domain.OpStatusSuccess}, nil
}

type fakeAudit struct {
	limit   int
	entries []domain.OperationLogEntry
}

func (f *fakeAudit) Recent(_ context.Context, userID string, limit int) ([]domain.OperationLogEntry, error) {
	f.limit = limit
	if userID == "" {
		return nil, domain.NewSyncError(domain.ErrNotAuthenticated, "", nil)
	}
	return f.entries, nil
}

type testServer struct {
	*Server
	conns    *fakeConnections
	entities *fakeEntities
	transfer *fakeTransfer
	audit    *fakeAudit
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = testSecret
	}
	ts := &testServer{
		conns:    &fakeConnections{},
		entities: &fakeEntities{},
		transfer: &fakeTransfer{},
		audit:    &fakeAudit{},
	}
	srv, err := NewServer(cfg, Services{
		Connections: ts.conns,
		Entities:    ts.entities,
		Transfer:    ts.transfer,
		Audit:       ts.audit,
	})
	require.NoError(t, err)
	ts.Server = srv
	return ts
}

func (ts *testServer) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := ts.App().Test(req, -1)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) bearer(t *testing.T, userID string) string {
	t.Helper()
	tok, err := ts.Authenticator().IssueToken(userID, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}
