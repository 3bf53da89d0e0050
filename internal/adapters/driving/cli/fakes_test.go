package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
)

type fakeSettings struct {
	values map[string]string
}

func newFakeSettings() *fakeSettings {
	return &fakeSettings{values: map[string]string{}}
}

func (f *fakeSettings) Get() (domain.Settings, error) {
	s := domain.DefaultSettings()
	s.Storage.Driver = domain.StorageMemory
	s.Server.JWTSecret = f.values["server.jwt_secret"]
	if u := f.values["user_id"]; u != "" {
		s.UserID = u
	}
	return s, nil
}

func (f *fakeSettings) Value(key string) (string, error) {
	for _, k := range f.Keys() {
		if k.Key == key {
			if k.Secret && f.values[key] != "" {
				return "********", nil
			}
			return f.values[key], nil
		}
	}
	return "", fmt.Errorf("%w: unknown setting %q", domain.ErrInvalidInput, key)
}

func (f *fakeSettings) Set(key, value string) error {
	if _, err := f.Value(key); err != nil {
		return err
	}
	f.values[key] = value
	return nil
}

func (f *fakeSettings) Keys() []driving.SettingKey {
	return []driving.SettingKey{
		{Key: "user_id", Kind: "string", Description: "local user"},
		{Key: "oauth.client_id", Kind: "string", Description: "OAuth client ID"},
		{Key: "server.jwt_secret", Kind: "string", Description: "token key", Secret: true},
	}
}

func (f *fakeSettings) GetDefaults() domain.Settings { return domain.DefaultSettings() }

type fakeConnections struct {
	status     driving.StatusResult
	disconnect driving.Result
	complete   driving.Result

	gotUser     string
	gotRedirect string
	gotCode     string
	gotState    string
	gotRealm    string
}

func (f *fakeConnections) Connect(_ context.Context, userID, redirectURI string) (string, error) {
	f.gotUser, f.gotRedirect = userID, redirectURI
	return redirectURI + "?code=auth-code&state=" + userID + "&realmId=9130", nil
}

func (f *fakeConnections) CompleteConnection(_ context.Context, code, state, tenantID string) driving.Result {
	f.gotCode, f.gotState, f.gotRealm = code, state, tenantID
	return f.complete
}

func (f *fakeConnections) GetStatus(_ context.Context, userID string) driving.StatusResult {
	f.gotUser = userID
	return f.status
}

func (f *fakeConnections) Disconnect(_ context.Context, userID string) driving.Result {
	f.gotUser = userID
	return f.disconnect
}

func (f *fakeConnections) Subscribe(string) (<-chan domain.StatusSnapshot, func()) {
	ch := make(chan domain.StatusSnapshot)
	return ch, func() {}
}

type fakeEntities struct {
	records   []domain.Record
	fetchErr  error
	gotFilter map[string]string
	gotIDs    []string
}

func (f *fakeEntities) ListEntityTypes() []domain.EntityDescriptor {
	return domain.DefaultCatalog().List()
}

func (f *fakeEntities) FetchRecords(_ context.Context, _, _ string, filter map[string]string) ([]domain.Record, error) {
	f.gotFilter = filter
	return f.records, f.fetchErr
}

func (f *fakeEntities) CreateRecord(_ context.Context, _, _ string, payload domain.Record) (domain.Record, error) {
	return payload, nil
}

func (f *fakeEntities) UpdateRecord(_ context.Context, _, _, _ string, payload domain.Record, _ string) (domain.Record, error) {
	return payload, nil
}

func (f *fakeEntities) DeleteRecord(_ context.Context, _, _, id string) (domain.Record, error) {
	return domain.Record{"Id": id}, nil
}

// DeleteMany returns an already finished batch. Ids starting with "bad"
// fail with a dependency conflict.
func (f *fakeEntities) DeleteMany(_ context.Context, _, entityType string, ids []string) (driving.DeleteBatch, error) {
	f.gotIDs = ids
	b := &fakeBatch{
		updates: make(chan domain.DeleteBatchProgress, len(ids)+1),
		done:    make(chan struct{}),
	}
	p := domain.DeleteBatchProgress{BatchID: "batch-1", EntityType: entityType, Total: len(ids), State: domain.BatchRunning}
	for _, id := range ids {
		r := domain.ItemResult{ID: id, Status: domain.ItemSuccess}
		if len(id) >= 3 && id[:3] == "bad" {
			r = domain.ItemResult{ID: id, Status: domain.ItemFailed, Error: "linked to a payment", Kind: domain.KindDependencyConflict}
		}
		p.Record(r)
		if p.Current < p.Total {
			b.updates <- p.Clone()
		}
	}
	p.State = domain.BatchCompleted
	b.updates <- p.Clone()
	b.final = p
	close(b.updates)
	close(b.done)
	return b, nil
}

type fakeBatch struct {
	updates chan domain.DeleteBatchProgress
	done    chan struct{}
	final   domain.DeleteBatchProgress
}

func (b *fakeBatch) ID() string                                  { return "batch-1" }
func (b *fakeBatch) Updates() <-chan domain.DeleteBatchProgress { return b.updates }
func (b *fakeBatch) Done() <-chan struct{}                      { return b.done }
func (b *fakeBatch) Wait() domain.DeleteBatchProgress           { return b.final }
func (b *fakeBatch) Snapshot() domain.DeleteBatchProgress       { return b.final }
func (b *fakeBatch) Records() []domain.Record                   { return nil }

type fakeTransfer struct {
	imported  []byte
	summary   driving.ImportSummary
	exportErr error
}

func (f *fakeTransfer) Export(_ context.Context, _, _ string, w io.Writer) (int, error) {
	if f.exportErr != nil {
		return 0, f.exportErr
	}
	_, err := io.WriteString(w, "PK-fake-workbook")
	return 2, err
}

func (f *fakeTransfer) Import(_ context.Context, _, entityType string, r io.Reader) (*driving.ImportSummary, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.imported = data
	sum := f.summary
	sum.EntityType = entityType
	return &sum, nil
}

type fakeAudit struct {
	entries  []domain.OperationLogEntry
	gotLimit int
}

func (f *fakeAudit) Recent(_ context.Context, _ string, limit int) ([]domain.OperationLogEntry, error) {
	f.gotLimit = limit
	return f.entries, nil
}

type fakeScheduler struct {
	tasks  []driving.TaskStatus
	runErr error
	ran    []string
}

func (f *fakeScheduler) Start(context.Context) error { return nil }

func (f *fakeScheduler) Stop() error { return nil }

func (f *fakeScheduler) RunTask(_ context.Context, taskID string) (*domain.TaskResult, error) {
	f.ran = append(f.ran, taskID)
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r := &domain.TaskResult{TaskID: taskID, StartedAt: start, EndedAt: start.Add(250 * time.Millisecond), ItemsProcessed: 2}
	if f.runErr != nil {
		r.Error = f.runErr.Error()
		return r, f.runErr
	}
	r.Success = true
	return r, nil
}

func (f *fakeScheduler) Tasks(context.Context) ([]driving.TaskStatus, error) {
	return f.tasks, nil
}

type harness struct {
	settings  *fakeSettings
	conns     *fakeConnections
	entities  *fakeEntities
	transfer  *fakeTransfer
	audit     *fakeAudit
	scheduler *fakeScheduler
	closed    int
	bootErr   error
}

// newHarness configures the package with fakes and resets flag state
// between runs of the shared root command.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		settings:  newFakeSettings(),
		conns:     &fakeConnections{},
		entities:  &fakeEntities{},
		transfer:  &fakeTransfer{},
		audit:     &fakeAudit{},
		scheduler: &fakeScheduler{},
	}

	oldSettings, oldBoot, oldOpen, oldTerm := settingsService, boot, openBrowser, isTerminal
	Configure(h.settings, func(_ context.Context, s domain.Settings) (*Runtime, error) {
		if h.bootErr != nil {
			return nil, h.bootErr
		}
		return &Runtime{
			Settings:    s,
			Connections: h.conns,
			Entities:    h.entities,
			Transfer:    h.transfer,
			Audit:       h.audit,
			Scheduler:   h.scheduler,
			Close: func() error {
				h.closed++
				return nil
			},
		}, nil
	})
	isTerminal = func() bool { return false }

	t.Cleanup(func() {
		settingsService, boot, openBrowser, isTerminal = oldSettings, oldBoot, oldOpen, oldTerm
		flagUser, flagVerbose, flagJSONLogs = "", false, false
		fetchFilters, fetchJSON, deletePlain = nil, false, false
		exportOutput = ""
		logsLimit, logsJSON = 20, false
		connectPort, connectNoBrowser, connectTimeout = 8421, false, 5*time.Minute
		tokenTTL = 72 * time.Hour
		rootCmd.SetArgs(nil)
	})
	return h
}

// run executes the root command and returns stdout and stderr.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), errOut.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, errOut, err := run(t, args...)
	require.NoError(t, err, errOut)
	return out
}

var errBoom = errors.New("boom")
