package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
)

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func authed(t *testing.T, ts *testServer, method, target string, body io.Reader) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Authorization", ts.bearer(t, "u1"))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func TestNewServer_Validates(t *testing.T) {
	_, err := NewServer(Config{}, Services{})
	assert.Error(t, err)

	_, err = NewServer(Config{JWTSecret: "s"}, Services{})
	assert.Error(t, err)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, Config{})
	resp := ts.do(t, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, 200, resp.StatusCode)
}

func TestConnect(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp := ts.do(t, authed(t, ts, "POST", "/api/connection/connect",
		strings.NewReader(`{"redirect_uri":"http://localhost:3000/cb"}`)))
	require.Equal(t, 200, resp.StatusCode)

	body := decode(t, resp)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "https://auth.example.com/?state=u1", body["auth_url"])
	assert.Equal(t, "u1", ts.conns.connectUser)
	assert.Equal(t, "http://localhost:3000/cb", ts.conns.redirect)
}

func TestConnect_EmptyBody(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp := ts.do(t, authed(t, ts, "POST", "/api/connection/connect", nil))
	require.Equal(t, 200, resp.StatusCode)
	assert.Empty(t, ts.conns.redirect)
}

func TestCallback_PassesParameters(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.conns.result = driving.Result{Success: true, CompanyName: "Acme Ltd"}

	// No bearer: the state parameter identifies the user.
	resp := ts.do(t, httptest.NewRequest("GET", "/api/connection/callback?code=abc&state=u1&realmId=123", nil))
	require.Equal(t, 200, resp.StatusCode)

	body := decode(t, resp)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Acme Ltd", body["company_name"])
	assert.Equal(t, []string{"abc", "u1", "123"}, ts.conns.callback)
}

func TestCallback_Failure(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.conns.result = driving.FailureResult(domain.NewSyncError(domain.ErrExchangeFailed, "invalid_grant", nil))

	resp := ts.do(t, httptest.NewRequest("GET", "/api/connection/callback?code=used&state=u1&realmId=123", nil))
	assert.Equal(t, 400, resp.StatusCode)

	body := decode(t, resp)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "invalid_grant", body["error"])
	assert.Equal(t, "exchange_failed", body["kind"])
}

func TestCallback_UserDenied(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp := ts.do(t, httptest.NewRequest("GET", "/api/connection/callback?error=access_denied&state=u1", nil))
	assert.Equal(t, 400, resp.StatusCode)
	assert.Nil(t, ts.conns.callback)

	body := decode(t, resp)
	assert.Equal(t, "access_denied", body["error"])
}

func TestCallback_Redirects(t *testing.T) {
	ts := newTestServer(t, Config{CallbackRedirect: "http://localhost:3000/settings"})
	ts.conns.result = driving.Result{Success: true}

	resp := ts.do(t, httptest.NewRequest("GET", "/api/connection/callback?code=abc&state=u1&realmId=123", nil))
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000/settings?connected=true", resp.Header.Get("Location"))
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.conns.status = driving.StatusResult{Connected: true, Status: domain.StatusConnected, CompanyName: "Acme Ltd"}

	resp := ts.do(t, authed(t, ts, "GET", "/api/connection/status", nil))
	require.Equal(t, 200, resp.StatusCode)

	body := decode(t, resp)
	assert.Equal(t, true, body["connected"])
	assert.Equal(t, "connected", body["status"])
	assert.Equal(t, "Acme Ltd", body["company_name"])
}

func TestStatusStream(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.conns.status = driving.StatusResult{Status: domain.StatusDisconnected}
	ts.conns.updates = []domain.StatusSnapshot{
		{UserID: "u1", Status: domain.StatusChecking},
		{UserID: "u1", Status: domain.StatusConnected, CompanyName: "Acme Ltd"},
	}

	resp := ts.do(t, authed(t, ts, "GET", "/api/connection/status/stream", nil))
	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []driving.StatusResult
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		var ev driving.StatusResult
		require.NoError(t, json.Unmarshal([]byte(data), &ev))
		events = append(events, ev)
	}
	require.NoError(t, sc.Err())
	require.Len(t, events, 3)

	assert.Equal(t, domain.StatusDisconnected, events[0].Status)
	assert.Equal(t, domain.StatusChecking, events[1].Status)
	assert.True(t, events[2].Connected)
	assert.Equal(t, "Acme Ltd", events[2].CompanyName)

	assert.Equal(t, "u1", ts.conns.subscribed)
	assert.Eventually(t, ts.conns.unsubscribed.Load, time.Second, 10*time.Millisecond)
}

func TestStatusStream_RequiresToken(t *testing.T) {
	ts := newTestServer(t, Config{})
	resp := ts.do(t, httptest.NewRequest("GET", "/api/connection/status/stream", nil))
	assert.Equal(t, 401, resp.StatusCode)
	assert.Empty(t, ts.conns.subscribed)
}

func TestDisconnect_Failure(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.conns.result = driving.FailureResult(domain.NewSyncError(domain.ErrPersistenceFailed, "delete connection", errors.New("disk full")))

	resp := ts.do(t, authed(t, ts, "DELETE", "/api/connection", nil))
	assert.Equal(t, 500, resp.StatusCode)
	assert.Equal(t, "persistence_failed", decode(t, resp)["kind"])
}

func TestListEntityTypes(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp := ts.do(t, authed(t, ts, "GET", "/api/entities", nil))
	require.Equal(t, 200, resp.StatusCode)

	types := decode(t, resp)["entity_types"].([]any)
	assert.Len(t, types, len(domain.DefaultCatalog().List()))
	assert.Equal(t, "Customer", types[0].(map[string]any)["name"])
}

func TestFetchRecords_PassesFilter(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.entities.records = []domain.Record{{"Id": "1"}, {"Id": "2"}}

	resp := ts.do(t, authed(t, ts, "GET", "/api/entities/Check/records?VendorRef.value=56", nil))
	require.Equal(t, 200, resp.StatusCode)

	body := decode(t, resp)
	assert.Equal(t, float64(2), body["count"])
	assert.Equal(t, "u1", ts.entities.user)
	assert.Equal(t, map[string]string{"VendorRef.value": "56"}, ts.entities.filter)
}

func TestFetchRecords_EmptyIsArray(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp := ts.do(t, authed(t, ts, "GET", "/api/entities/Invoice/records", nil))
	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, []any{}, decode(t, resp)["records"])
}

func TestFetchRecords_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		kind string
	}{
		{"unsupported", domain.NewSyncError(domain.ErrUnsupportedType, "Widget", nil), 400, "invalid_input"},
		{"no connection", domain.NewSyncError(domain.ErrNoConnection, "", nil), 409, "no_connection"},
		{"reconnect", &domain.SyncError{Kind: domain.ErrRefreshFailed, Reconnect: true}, 401, "refresh_failed"},
		{"transient refresh", domain.NewSyncError(domain.ErrRefreshFailed, "timeout", nil), 502, "refresh_failed"},
		{"rate limited", domain.NewSyncError(domain.ErrRateLimited, "", nil), 429, "upstream_rejected"},
		{"upstream", domain.NewSyncError(domain.ErrUpstreamRejected, "Business Validation Error", nil), 502, "upstream_rejected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, Config{})
			ts.entities.err = tt.err

			resp := ts.do(t, authed(t, ts, "GET", "/api/entities/Invoice/records", nil))
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Equal(t, tt.kind, decode(t, resp)["kind"])
		})
	}
}

func TestCreateRecord(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp := ts.do(t, authed(t, ts, "POST", "/api/entities/Customer/records",
		strings.NewReader(`{"DisplayName":"Bob"}`)))
	require.Equal(t, 201, resp.StatusCode)

	rec := decode(t, resp)["record"].(map[string]any)
	assert.Equal(t, "42", rec["Id"])
	assert.Equal(t, "Bob", rec["DisplayName"])
}

func TestCreateRecord_BadJSON(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp := ts.do(t, authed(t, ts, "POST", "/api/entities/Customer/records", strings.NewReader(`[1,2]`)))
	assert.Equal(t, 400, resp.StatusCode)
}

func TestUpdateRecord_EchoesSyncToken(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp := ts.do(t, authed(t, ts, "PUT", "/api/entities/Customer/records/7",
		strings.NewReader(`{"SyncToken":"3","DisplayName":"Bob"}`)))
	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "3", ts.entities.syncToken)
}

func TestUpdateRecord_Stale(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.entities.err = domain.NewSyncError(domain.ErrStaleSyncToken, "Stale Object Error", nil)

	resp := ts.do(t, authed(t, ts, "PUT", "/api/entities/Customer/records/7",
		strings.NewReader(`{"SyncToken":"1"}`)))
	assert.Equal(t, 409, resp.StatusCode)
	assert.Equal(t, "stale_sync_token", decode(t, resp)["kind"])
}

func TestDeleteRecord(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp := ts.do(t, authed(t, ts, "DELETE", "/api/entities/Customer/records/7", nil))
	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, false, decode(t, resp)["record"].(map[string]any)["Active"])
}

func TestDeleteRecord_Conflict(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.entities.err = &domain.SyncError{Kind: domain.ErrDependencyConflict, Cause: domain.CauseLinkedPayments}

	resp := ts.do(t, authed(t, ts, "DELETE", "/api/entities/Invoice/records/7", nil))
	assert.Equal(t, 409, resp.StatusCode)
	assert.Equal(t, "has linked payments", decode(t, resp)["error"])
}

func TestDeleteMany_StreamsProgress(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp := ts.do(t, authed(t, ts, "POST", "/api/entities/Invoice/delete",
		strings.NewReader(`{"ids":["1","bad","3"]}`)))
	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))
	assert.Equal(t, "batch-1", resp.Header.Get("X-Batch-Id"))

	var events []streamEvent
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var ev streamEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		events = append(events, ev)
	}
	require.NoError(t, sc.Err())
	require.Len(t, events, 4)

	for i, ev := range events[:3] {
		assert.Equal(t, "progress", ev.Type)
		assert.Equal(t, i+1, ev.Progress.Current)
	}
	last := events[3]
	assert.Equal(t, "complete", last.Type)
	assert.Equal(t, 2, last.Progress.SuccessCount)
	assert.Equal(t, 1, last.Progress.FailedCount)
	assert.Equal(t, "has linked payments", last.Progress.Results[1].Error)
	assert.Len(t, last.Records, 1)
}

func TestDeleteMany_Rejected(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.entities.err = domain.NewSyncError(domain.ErrUnsupportedType, "Widget", nil)

	resp := ts.do(t, authed(t, ts, "POST", "/api/entities/Widget/delete", strings.NewReader(`{"ids":["1"]}`)))
	assert.Equal(t, 400, resp.StatusCode)
}

func TestExport(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp := ts.do(t, authed(t, ts, "GET", "/api/entities/Customer/export", nil))
	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, xlsxContentType, resp.Header.Get("Content-Type"))
	assert.Equal(t, "3", resp.Header.Get("X-Record-Count"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), `filename="Customer.xlsx"`)

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "PK-fake-workbook", string(b))
}

func TestExport_Failure(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.transfer.err = domain.NewSyncError(domain.ErrNoConnection, "", nil)

	resp := ts.do(t, authed(t, ts, "GET", "/api/entities/Customer/export", nil))
	assert.Equal(t, 409, resp.StatusCode)
}

func multipartBody(t *testing.T, field, name string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestImport(t *testing.T) {
	ts := newTestServer(t, Config{})
	body, contentType := multipartBody(t, "file", "customers.xlsx", []byte("workbook-bytes"))

	req := authed(t, ts, "POST", "/api/entities/Customer/import", body)
	req.Header.Set("Content-Type", contentType)

	resp := ts.do(t, req)
	require.Equal(t, 200, resp.StatusCode)

	out := decode(t, resp)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "workbook-bytes", string(ts.transfer.imported))
	assert.Equal(t, float64(1), out["summary"].(map[string]any)["created"])
}

func TestImport_AllRowsFailed(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.transfer.summary = &driving.ImportSummary{Total: 2, Failed: 2, Status: domain.OpStatusError}
	body, contentType := multipartBody(t, "file", "customers.xlsx", []byte("x"))

	req := authed(t, ts, "POST", "/api/entities/Customer/import", body)
	req.Header.Set("Content-Type", contentType)

	resp := ts.do(t, req)
	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, false, decode(t, resp)["success"])
}

func TestImport_MissingFile(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp := ts.do(t, authed(t, ts, "POST", "/api/entities/Customer/import", strings.NewReader(`{}`)))
	assert.Equal(t, 400, resp.StatusCode)
}

func TestLogs(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.audit.entries = []domain.OperationLogEntry{{ID: "e1", Kind: domain.OpDelete, Status: domain.OpStatusSuccess}}

	resp := ts.do(t, authed(t, ts, "GET", "/api/logs?limit=5", nil))
	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 5, ts.audit.limit)

	entries := decode(t, resp)["entries"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "delete", entries[0].(map[string]any)["operation_kind"])
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp := ts.do(t, authed(t, ts, "GET", "/api/nope", nil))
	assert.Equal(t, 404, resp.StatusCode)
}

func TestRequestValuesSurviveLaterRequests(t *testing.T) {
	ts := newTestServer(t, Config{})
	assert.True(t, ts.App().Config().Immutable)

	resp := ts.do(t, authed(t, ts, "POST", "/api/entities/Invoice/delete", strings.NewReader(`{"ids":["145"]}`)))
	require.Equal(t, 200, resp.StatusCode)
	_, _ = io.Copy(io.Discard, resp.Body)

	resp = ts.do(t, authed(t, ts, "GET", "/api/entities/Customer/records?DisplayName=Alice", nil))
	require.Equal(t, 200, resp.StatusCode)
	firstFilter := ts.entities.filter

	for i := 0; i < 20; i++ {
		resp := ts.do(t, authed(t, ts, "GET", "/api/entities/Customer/records?DisplayName=Zzzzz", nil))
		require.Equal(t, 200, resp.StatusCode)
		resp = ts.do(t, authed(t, ts, "DELETE", "/api/entities/Vendor/records/999", nil))
		require.Equal(t, 200, resp.StatusCode)
	}

	assert.Equal(t, "Invoice", ts.entities.deleteType)
	assert.Equal(t, []string{"145"}, ts.entities.deleteIDs)
	assert.Equal(t, map[string]string{"DisplayName": "Alice"}, firstFilter)
}
