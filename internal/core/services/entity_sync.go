package services

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

const (
	// DefaultOperationTimeout bounds each entity operation, token refresh included.
	DefaultOperationTimeout = 30 * time.Second

	// maxDocNumber is the upstream limit on DocNumber length.
	maxDocNumber = 21

	// maxPrivateNote is the upstream limit on PrivateNote length.
	maxPrivateNote = 4000
)

// softDelete builds the update payload that cancels current.
type softDelete func(current domain.Record, now time.Time) (domain.Record, error)

// deletionStrategies maps each strategy to its payload builder.
var deletionStrategies = map[domain.DeletionStrategy]softDelete{
	domain.DeleteDeactivate:   deactivate,
	domain.DeleteVoidAnnotate: voidAnnotate,
	domain.DeleteAnnotate:     annotate,
}

// EntitySync performs record operations against the accounting API.
// Every public operation writes exactly one audit entry once it resolves.
type EntitySync struct {
	catalog    *domain.Catalog
	api        driven.AccountingAPI
	guard      *TokenGuard
	audit      *OperationLogger
	maxResults int
	timeout    time.Duration
	now        func() time.Time
}

// NewEntitySync creates the engine.
func NewEntitySync(
	catalog *domain.Catalog,
	api driven.AccountingAPI,
	guard *TokenGuard,
	audit *OperationLogger,
	settings domain.APISettings,
) *EntitySync {
	timeout := settings.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultOperationTimeout
	}
	return &EntitySync{
		catalog:    catalog,
		api:        api,
		guard:      guard,
		audit:      audit,
		maxResults: settings.MaxResults,
		timeout:    timeout,
		now:        time.Now,
	}
}

// Catalog returns the entity catalog.
func (e *EntitySync) Catalog() *domain.Catalog {
	return e.catalog
}

// Fetch returns active records of a logical entity type.
func (e *EntitySync) Fetch(
	ctx context.Context, userID, entityType string, filter map[string]string,
) ([]domain.Record, error) {
	resp, err := e.FetchResponse(ctx, userID, entityType, filter)
	if err != nil {
		return nil, err
	}
	return resp[entityType], nil
}

// FetchResponse queries the physical type behind entityType and returns the
// records keyed by the logical name. Cancelled records are left out.
func (e *EntitySync) FetchResponse(
	ctx context.Context, userID, entityType string, filter map[string]string,
) (domain.QueryResponse, error) {
	resp, err := e.fetch(ctx, userID, entityType, filter)
	details := map[string]any{}
	if err == nil {
		details["count"] = len(resp[entityType])
	}
	if len(filter) > 0 {
		details["filter"] = filter
	}
	e.audit.RecordResult(ctx, userID, "fetch", entityType, "", details, err)
	return resp, err
}

func (e *EntitySync) fetch(
	ctx context.Context, userID, entityType string, filter map[string]string,
) (domain.QueryResponse, error) {
	desc, err := e.lookup(entityType)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	session, err := e.guard.Session(ctx, userID)
	if err != nil {
		return nil, err
	}

	query := domain.Query{
		Entity:     desc.PhysicalType,
		Where:      append(append([]domain.Condition(nil), desc.Filter...), conditions(filter)...),
		MaxResults: e.maxResults,
	}
	resp, err := e.api.Query(ctx, session, query)
	if err != nil {
		return nil, err
	}

	records := desc.Apply(resp[desc.PhysicalType])
	active := make([]domain.Record, 0, len(records))
	for _, r := range records {
		if !desc.IsCancelled(r) {
			active = append(active, r)
		}
	}

	out := domain.QueryResponse{desc.PhysicalType: active}
	out.Rekey(desc.PhysicalType, desc.Name)
	return out, nil
}

// Read returns one record with its current sync token.
func (e *EntitySync) Read(ctx context.Context, userID, entityType, id string) (domain.Record, error) {
	rec, err := e.read(ctx, userID, entityType, id)
	e.audit.RecordResult(ctx, userID, "read", entityType, id, nil, err)
	return rec, err
}

func (e *EntitySync) read(ctx context.Context, userID, entityType, id string) (domain.Record, error) {
	desc, err := e.lookup(entityType)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, domain.NewSyncError(domain.ErrInvalidInput, "record id is required", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	session, err := e.guard.Session(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.readAs(ctx, session, desc, id)
}

// readAs reads id and checks it belongs to the logical type.
func (e *EntitySync) readAs(
	ctx context.Context, session driven.Session, desc domain.EntityDescriptor, id string,
) (domain.Record, error) {
	rec, err := e.api.Read(ctx, session, desc.PhysicalType, id)
	if err != nil {
		return nil, err
	}
	if len(desc.Apply([]domain.Record{rec})) == 0 {
		return nil, domain.NewSyncError(domain.ErrInvalidInput, "record "+id+" is not a "+desc.Name, nil)
	}
	return rec, nil
}

// Create creates a record. Alias filter fields are filled in when absent.
func (e *EntitySync) Create(
	ctx context.Context, userID, entityType string, payload domain.Record,
) (domain.Record, error) {
	rec, err := e.create(ctx, userID, entityType, payload)
	e.audit.RecordResult(ctx, userID, "create", entityType, rec.ID(), echo(rec), err)
	return rec, err
}

func (e *EntitySync) create(
	ctx context.Context, userID, entityType string, payload domain.Record,
) (domain.Record, error) {
	desc, err := e.lookup(entityType)
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, domain.NewSyncError(domain.ErrInvalidInput, "payload is empty", nil)
	}

	body := payload.Clone()
	delete(body, "Id")
	delete(body, "SyncToken")
	for _, c := range desc.Filter {
		if _, ok := body.Get(c.Field); !ok {
			body.Set(c.Field, c.Value)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	session, err := e.guard.Session(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.api.Create(ctx, session, desc.PhysicalType, body)
}

// Update writes payload over record id. syncToken must be the token last
// observed for the record; the upstream rejects stale tokens.
func (e *EntitySync) Update(
	ctx context.Context, userID, entityType, id string, payload domain.Record, syncToken string,
) (domain.Record, error) {
	rec, err := e.update(ctx, userID, entityType, id, payload, syncToken)
	e.audit.RecordResult(ctx, userID, "update", entityType, id, echo(rec), err)
	return rec, err
}

func (e *EntitySync) update(
	ctx context.Context, userID, entityType, id string, payload domain.Record, syncToken string,
) (domain.Record, error) {
	desc, err := e.lookup(entityType)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, domain.NewSyncError(domain.ErrInvalidInput, "record id is required", nil)
	}
	if syncToken == "" {
		return nil, domain.NewSyncError(domain.ErrInvalidInput, "sync token is required", nil)
	}

	body := payload.Clone()
	if body == nil {
		body = domain.Record{}
	}
	body["Id"] = id
	body["SyncToken"] = syncToken

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	session, err := e.guard.Session(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.api.Update(ctx, session, desc.PhysicalType, body)
}

// Delete soft-deletes record id using the type's deletion strategy. On
// success the record no longer appears in Fetch results.
func (e *EntitySync) Delete(ctx context.Context, userID, entityType, id string) (domain.Record, error) {
	rec, err := e.remove(ctx, userID, entityType, id)
	e.audit.RecordResult(ctx, userID, "delete", entityType, id, echo(rec), err)
	return rec, err
}

func (e *EntitySync) remove(ctx context.Context, userID, entityType, id string) (domain.Record, error) {
	desc, err := e.lookup(entityType)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, domain.NewSyncError(domain.ErrInvalidInput, "record id is required", nil)
	}
	strategy, ok := deletionStrategies[desc.Deletion]
	if !ok {
		return nil, domain.NewSyncError(domain.ErrUnsupportedType, "no deletion strategy for "+entityType, nil)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	session, err := e.guard.Session(ctx, userID)
	if err != nil {
		return nil, err
	}

	// The sync token is read immediately before the write and never reused.
	current, err := e.readAs(ctx, session, desc, id)
	if err != nil {
		return nil, err
	}
	payload, err := strategy(current, e.now())
	if err != nil {
		return nil, err
	}

	updated, err := e.api.Update(ctx, session, desc.PhysicalType, payload)
	if err != nil {
		return nil, err
	}
	if !desc.IsCancelled(updated) {
		return nil, domain.NewSyncError(domain.ErrUpstreamRejected, "the cancellation was not applied to "+id, nil)
	}
	return updated, nil
}

func (e *EntitySync) lookup(entityType string) (domain.EntityDescriptor, error) {
	desc, ok := e.catalog.Lookup(entityType)
	if !ok {
		return domain.EntityDescriptor{}, domain.NewSyncError(domain.ErrUnsupportedType, entityType, nil)
	}
	return desc, nil
}

func deactivate(current domain.Record, _ time.Time) (domain.Record, error) {
	if current.String("Active") == "false" {
		return nil, alreadyDeleted(current)
	}
	payload := domain.Record{
		"Id":        current.ID(),
		"SyncToken": current.SyncToken(),
		"Active":    false,
	}
	// Some master types reject sparse updates without their name.
	for _, key := range []string{"Name", "DisplayName"} {
		if v, ok := current[key]; ok {
			payload[key] = v
		}
	}
	return payload, nil
}

func voidAnnotate(current domain.Record, now time.Time) (domain.Record, error) {
	docNumber := current.String("DocNumber")
	if strings.HasPrefix(docNumber, domain.VoidPrefix) {
		return nil, alreadyDeleted(current)
	}

	note := cancellationNote(now)
	if existing := current.String("PrivateNote"); existing != "" {
		note = existing + " | " + note
	}

	return domain.Record{
		"Id":          current.ID(),
		"SyncToken":   current.SyncToken(),
		"DocNumber":   truncate(domain.VoidPrefix+docNumber, maxDocNumber),
		"PrivateNote": truncate(note, maxPrivateNote),
	}, nil
}

// annotate marks the note itself, so the prefix must lead it.
func annotate(current domain.Record, now time.Time) (domain.Record, error) {
	existing := current.String("PrivateNote")
	if strings.HasPrefix(existing, domain.VoidPrefix) {
		return nil, alreadyDeleted(current)
	}

	note := domain.VoidPrefix + cancellationNote(now)
	if existing != "" {
		note += " | " + existing
	}

	return domain.Record{
		"Id":          current.ID(),
		"SyncToken":   current.SyncToken(),
		"PrivateNote": truncate(note, maxPrivateNote),
	}, nil
}

func cancellationNote(now time.Time) string {
	return "Cancelled by ledgersync on " + now.UTC().Format("2006-01-02")
}

func alreadyDeleted(r domain.Record) error {
	return &domain.SyncError{
		Kind:    domain.ErrDependencyConflict,
		Cause:   domain.CauseAlreadyDeleted,
		Message: "record " + r.ID(),
	}
}

// conditions turns a caller filter into query conditions in key order.
// "true" and "false" become booleans.
func conditions(filter map[string]string) []domain.Condition {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]domain.Condition, 0, len(keys))
	for _, k := range keys {
		var v any = filter[k]
		switch filter[k] {
		case "true":
			v = true
		case "false":
			v = false
		}
		out = append(out, domain.Condition{Field: k, Value: v})
	}
	return out
}

func echo(rec domain.Record) map[string]any {
	if rec == nil {
		return nil
	}
	return map[string]any{"record": rec}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
