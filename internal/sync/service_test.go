package sync

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peteski22/crmsync/internal/identity"
	"github.com/peteski22/crmsync/internal/salesforce"
	"github.com/peteski22/crmsync/internal/storage"
)

const (
	accA1 = "001Dn00000AccAAAA1"
	accA2 = "001Dn00000AccAAAA2"
	accA3 = "001Dn00000AccAAAA3"
	conC1 = "003Dn00000ConAAAA1"
	docD1 = "069Dn00000DocAAAA1"
	oppO1 = "006Dn00000OppAAAA1"
	usrU1 = "005Dn00000UsrAAAA1"
)

var (
	remoteModified = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	runStart       = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
)

// fakeUpdate is a recorded Update call.
type fakeUpdate struct {
	fields map[string]any
	id     string
	object string
}

// fakeClient implements SalesforceClient over in-memory records.
type fakeClient struct {
	onUpdate  func(id string)
	queries   []salesforce.QueryRequest
	queryErr  map[string]error
	records   map[string][]salesforce.Record
	updateErr map[string]error
	updates   []fakeUpdate
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		queryErr:  map[string]error{},
		records:   map[string][]salesforce.Record{},
		updateErr: map[string]error{},
	}
}

// Query yields the stored records of req.Object that match its filters.
func (f *fakeClient) Query(_ context.Context, req salesforce.QueryRequest) iter.Seq2[salesforce.Record, error] {
	f.queries = append(f.queries, req)

	return func(yield func(salesforce.Record, error) bool) {
		if _, err := req.SOQL(); err != nil {
			yield(nil, err)
			return
		}
		if err := f.queryErr[req.Object]; err != nil {
			yield(nil, err)
			return
		}

		var selected []salesforce.Record
		for _, rec := range f.records[req.Object] {
			if req.Since != nil {
				if modified, ok := rec.LastModifiedDate(); ok && !modified.After(*req.Since) {
					continue
				}
			}
			if matches(rec, req.Where) {
				selected = append(selected, rec)
			}
		}

		if strings.HasPrefix(req.OrderBy, salesforce.FieldLastModifiedDate) {
			slices.SortStableFunc(selected, func(a, b salesforce.Record) int {
				am, _ := a.LastModifiedDate()
				bm, _ := b.LastModifiedDate()
				if c := am.Compare(bm); c != 0 {
					return c
				}
				return strings.Compare(a.ID(), b.ID())
			})
		}

		for i, rec := range selected {
			if req.Limit > 0 && i >= req.Limit {
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// QueryIn adds an IN condition and runs the query.
func (f *fakeClient) QueryIn(
	ctx context.Context,
	req salesforce.QueryRequest,
	field string,
	values []string,
) iter.Seq2[salesforce.Record, error] {
	req.Where = append(slices.Clone(req.Where), salesforce.In(field, values))
	return f.Query(ctx, req)
}

// Update records the call.
func (f *fakeClient) Update(_ context.Context, object string, id string, fields map[string]any) error {
	if f.onUpdate != nil {
		f.onUpdate(id)
	}
	if err := f.updateErr[id]; err != nil {
		return err
	}
	f.updates = append(f.updates, fakeUpdate{fields: fields, id: id, object: object})
	return nil
}

// matches applies IN conditions. Literal conditions are assumed to hold.
func matches(rec salesforce.Record, where []salesforce.Condition) bool {
	for _, c := range where {
		if c.Op == salesforce.OpIn && !slices.Contains(c.Values, rec.String(c.Field)) {
			return false
		}
	}
	return true
}

// testEnv is a service over a real SQLite store.
type testEnv struct {
	client     *fakeClient
	now        time.Time
	service    *Service
	store      *storage.Store
	watermarks *storage.SQLWatermarkStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := storage.Open(context.Background(), storage.DriverSQLite, filepath.Join(t.TempDir(), "crmsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	watermarks, err := storage.NewSQLWatermarkStore(store)
	require.NoError(t, err)

	env := &testEnv{
		client:     newFakeClient(),
		now:        runStart,
		store:      store,
		watermarks: watermarks,
	}

	env.service, err = New(Config{
		Client:     env.client,
		Logger:     slog.New(slog.DiscardHandler),
		Now:        func() time.Time { return env.now },
		Store:      store,
		Watermarks: watermarks,
	})
	require.NoError(t, err)

	return env
}

func (e *testEnv) count(t *testing.T, table string) int {
	t.Helper()

	n, err := e.store.Count(context.Background(), table)
	require.NoError(t, err)
	return n
}

func (e *testEnv) watermark(t *testing.T, entity identity.EntityType, dir storage.Direction) (time.Time, bool) {
	t.Helper()

	wm, ok, err := e.watermarks.Watermark(context.Background(), string(entity), dir)
	require.NoError(t, err)
	return wm, ok
}

func account(id string, name string) salesforce.Record {
	return salesforce.Record{
		"Id":               id,
		"Name":             name,
		"Type":             "Residential",
		"CreatedDate":      "2024-01-01T00:00:00.000+0000",
		"LastModifiedDate": remoteModified.Format("2006-01-02T15:04:05.000-0700"),
	}
}

func accountAt(id string, name string, modified time.Time) salesforce.Record {
	rec := account(id, name)
	rec["LastModifiedDate"] = modified.Format("2006-01-02T15:04:05.000-0700")
	return rec
}

func TestNew(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	store := &storage.Store{}
	watermarks := storage.NewNoopWatermarkStore(time.Time{})

	tests := map[string]struct {
		config  Config
		errMsg  string
		wantErr bool
	}{
		"valid config": {
			config: Config{Client: client, Store: store, Watermarks: watermarks},
		},
		"missing client": {
			config:  Config{Store: store, Watermarks: watermarks},
			wantErr: true,
			errMsg:  "salesforce client is required",
		},
		"missing store": {
			config:  Config{Client: client, Watermarks: watermarks},
			wantErr: true,
			errMsg:  "store is required",
		},
		"missing watermarks": {
			config:  Config{Client: client, Store: store},
			wantErr: true,
			errMsg:  "watermark store is required",
		},
		"negative error sample": {
			config:  Config{Client: client, Store: store, Watermarks: watermarks, ErrorSampleSize: -1},
			wantErr: true,
			errMsg:  "error sample size must not be negative",
		},
		"duplicate entity": {
			config: Config{
				Client:     client,
				Store:      store,
				Watermarks: watermarks,
				Entities:   append(DefaultEntities(), DefaultEntities()[0]),
			},
			wantErr: true,
			errMsg:  `duplicate entity "user"`,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			svc, err := New(tc.config)
			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, svc)
		})
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		in      string
		want    Mode
		wantErr bool
	}{
		"empty is pull":  {in: "", want: ModePull},
		"pull":           {in: "pull", want: ModePull},
		"push":           {in: "push", want: ModePush},
		"bidirectional":  {in: "bidirectional", want: ModeBidirectional},
		"unknown":        {in: "sideways", wantErr: true},
		"case sensitive": {in: "PULL", wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseMode(tc.in)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidMode)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestService_Sync_Scenario(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.store.Upsert(ctx, storage.TableAccounts, []storage.Row{{
		CreatedAt:  remoteModified.Add(-time.Hour),
		ExternalID: accA1,
		Fields:     map[string]any{"name": "Old name", "account_type": "RESIDENTIAL", "total_sales": 0.0},
		UpdatedAt:  remoteModified.Add(-time.Hour),
	}}, storage.UpsertOptions{})
	require.NoError(t, err)

	env.client.records["Account"] = []salesforce.Record{
		account(accA1, "Acme Roofing"),
		account(accA2, "Birch Homes"),
		account(accA3, "Cedar HOA"),
	}

	res, err := env.service.Sync(ctx, identity.Account, Options{})
	require.NoError(t, err)
	require.Len(t, res.Passes, 1)

	pass := res.Passes[0]
	require.Equal(t, StateDone, pass.State)
	require.Equal(t, 3, pass.Fetched)
	require.Equal(t, 2, pass.Inserted)
	require.Equal(t, 1, pass.Updated)
	require.Nil(t, pass.Since)
	require.Equal(t, 3, res.SyncedCount)
	require.Zero(t, res.ErrorCount)
	require.Equal(t, 3, env.count(t, storage.TableAccounts))

	wm, ok := env.watermark(t, identity.Account, storage.Pull)
	require.True(t, ok)
	require.True(t, runStart.Equal(wm))
	require.True(t, runStart.Equal(pass.Watermark))

	env.now = runStart.Add(time.Hour)
	res, err = env.service.Sync(ctx, identity.Account, Options{})
	require.NoError(t, err)

	pass = res.Passes[0]
	require.NotNil(t, pass.Since)
	require.True(t, runStart.Equal(*pass.Since))
	require.Zero(t, pass.Fetched)
	require.Zero(t, pass.Inserted)
	require.Zero(t, pass.Updated)
	require.Equal(t, 3, env.count(t, storage.TableAccounts))
}

func TestService_Sync_Idempotent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.client.records["Account"] = []salesforce.Record{account(accA1, "Acme"), account(accA2, "Birch")}

	_, err := env.service.Sync(ctx, identity.Account, Options{})
	require.NoError(t, err)

	res, err := env.service.Sync(ctx, identity.Account, Options{Force: true})
	require.NoError(t, err)

	pass := res.Passes[0]
	require.Equal(t, 2, pass.Fetched)
	require.Equal(t, 2, pass.Unchanged)
	require.Zero(t, pass.Inserted+pass.Updated)
	require.Equal(t, 2, env.count(t, storage.TableAccounts))
}

func TestService_Sync_SinceResolution(t *testing.T) {
	t.Parallel()

	stored := runStart.Add(-24 * time.Hour)
	explicit := runStart.Add(-48 * time.Hour)

	tests := map[string]struct {
		opts      Options
		seed      bool
		wantSince *time.Time
	}{
		"no watermark is full": {
			wantSince: nil,
		},
		"stored watermark": {
			seed:      true,
			wantSince: &stored,
		},
		"explicit since wins over stored": {
			opts:      Options{Since: &explicit},
			seed:      true,
			wantSince: &explicit,
		},
		"force ignores everything": {
			opts:      Options{Force: true, Since: &explicit},
			seed:      true,
			wantSince: nil,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t)
			ctx := context.Background()
			if tc.seed {
				require.NoError(t, env.watermarks.SetWatermark(ctx, string(identity.User), storage.Pull, stored))
			}

			res, err := env.service.Sync(ctx, identity.User, tc.opts)
			require.NoError(t, err)
			require.Len(t, env.client.queries, 1)

			got := env.client.queries[0].Since
			if tc.wantSince == nil {
				require.Nil(t, got)
				require.Nil(t, res.Passes[0].Since)
				return
			}
			require.NotNil(t, got)
			require.True(t, tc.wantSince.Equal(*got))
		})
	}
}

func TestService_Sync_FatalErrorKeepsWatermark(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	previous := runStart.Add(-time.Hour)
	require.NoError(t, env.watermarks.SetWatermark(ctx, string(identity.Account), storage.Pull, previous))

	env.client.queryErr["Account"] = &salesforce.APIError{Status: 401, Code: "INVALID_SESSION_ID", Message: "expired"}

	res, err := env.service.Sync(ctx, identity.Account, Options{})
	require.Error(t, err)
	require.ErrorIs(t, err, salesforce.ErrUnauthorized)
	require.Contains(t, err.Error(), "failed in QUERYING")

	require.Len(t, res.Passes, 1)
	require.Equal(t, StateFailed, res.Passes[0].State)
	require.True(t, res.Passes[0].Watermark.IsZero())

	wm, ok := env.watermark(t, identity.Account, storage.Pull)
	require.True(t, ok)
	require.True(t, previous.Equal(wm))
}

func TestService_Sync_Cancelled(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.client.records["Account"] = []salesforce.Record{account(accA1, "Acme")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := env.service.Sync(ctx, identity.Account, Options{})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StateFailed, res.Passes[0].State)

	_, ok := env.watermark(t, identity.Account, storage.Pull)
	require.False(t, ok)
	require.Zero(t, env.count(t, storage.TableAccounts))
}

func TestService_Sync_DryRun(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.client.records["Account"] = []salesforce.Record{
		account(accA1, "Acme"),
		account(accA2, "Birch"),
		account(accA3, "Cedar"),
	}

	before := env.count(t, storage.TableAccounts)

	res, err := env.service.Sync(ctx, identity.Account, Options{DryRun: true})
	require.NoError(t, err)
	require.True(t, res.DryRun)
	require.Len(t, res.Sample, 3)
	require.Equal(t, accA1, res.Sample[0].ExternalID)
	require.Equal(t, "Acme", res.Sample[0].Fields["name"])

	pass := res.Passes[0]
	require.Equal(t, StateDone, pass.State)
	require.Equal(t, 3, pass.Fetched)
	require.Zero(t, pass.Inserted+pass.Updated+pass.Unchanged)
	require.True(t, pass.Watermark.IsZero())

	require.Equal(t, before, env.count(t, storage.TableAccounts))
	_, ok := env.watermark(t, identity.Account, storage.Pull)
	require.False(t, ok)
}

func TestService_Sync_Limit(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.client.records["Account"] = []salesforce.Record{
		account(accA1, "Acme"),
		account(accA2, "Birch"),
		account(accA3, "Cedar"),
	}

	res, err := env.service.Sync(context.Background(), identity.Account, Options{Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 2, res.Passes[0].Fetched)
	require.Equal(t, 3, env.client.queries[0].Limit)
	require.Equal(t, pullOrder, env.client.queries[0].OrderBy)
	require.Equal(t, 2, env.count(t, storage.TableAccounts))
}

func TestService_Sync_LimitResumes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.client.records["Account"] = []salesforce.Record{
		accountAt(accA3, "Cedar", remoteModified.Add(2*time.Hour)),
		accountAt(accA1, "Acme", remoteModified),
		accountAt(accA2, "Birch", remoteModified.Add(time.Hour)),
	}

	res, err := env.service.Sync(ctx, identity.Account, Options{Limit: 1})
	require.NoError(t, err)
	pass := res.Passes[0]
	require.Equal(t, StateDone, pass.State)
	require.Equal(t, 1, pass.Fetched)
	require.True(t, remoteModified.Equal(pass.Watermark))
	require.Equal(t, 1, env.count(t, storage.TableAccounts))

	wm, ok := env.watermark(t, identity.Account, storage.Pull)
	require.True(t, ok)
	require.True(t, remoteModified.Equal(wm))

	res, err = env.service.Sync(ctx, identity.Account, Options{Limit: 1})
	require.NoError(t, err)
	require.Equal(t, 1, res.Passes[0].Fetched)
	require.Equal(t, 1, res.Passes[0].Inserted)
	require.True(t, remoteModified.Add(time.Hour).Equal(res.Passes[0].Watermark))

	res, err = env.service.Sync(ctx, identity.Account, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Passes[0].Fetched)
	require.Equal(t, 1, res.Passes[0].Inserted)
	require.Equal(t, 3, env.count(t, storage.TableAccounts))

	wm, ok = env.watermark(t, identity.Account, storage.Pull)
	require.True(t, ok)
	require.True(t, runStart.Equal(wm))
}

func TestService_Sync_LimitSharedModifiedTime(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.client.records["Account"] = []salesforce.Record{
		account(accA1, "Acme"),
		account(accA2, "Birch"),
		account(accA3, "Cedar"),
	}
	beforeTie := remoteModified.Add(-time.Second)

	res, err := env.service.Sync(ctx, identity.Account, Options{Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 2, res.Passes[0].Fetched)
	require.True(t, beforeTie.Equal(res.Passes[0].Watermark))

	// A limit smaller than the tied group cannot move past it.
	res, err = env.service.Sync(ctx, identity.Account, Options{Limit: 1})
	require.NoError(t, err)
	require.Equal(t, StateDone, res.Passes[0].State)
	require.True(t, res.Passes[0].Watermark.IsZero())

	wm, ok := env.watermark(t, identity.Account, storage.Pull)
	require.True(t, ok)
	require.True(t, beforeTie.Equal(wm))

	res, err = env.service.Sync(ctx, identity.Account, Options{})
	require.NoError(t, err)
	pass := res.Passes[0]
	require.Equal(t, 3, pass.Fetched)
	require.Equal(t, 1, pass.Inserted)
	require.Equal(t, 2, pass.Unchanged)
	require.Equal(t, 3, env.count(t, storage.TableAccounts))
	require.True(t, runStart.Equal(pass.Watermark))
}

func TestService_Sync_LimitHoldsWatermarkForUnqueriedFamilies(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.client.records["ContentVersion"] = []salesforce.Record{{
		"Id":                "068Dn00000VerAAAA1",
		"ContentDocumentId": docD1,
		"Title":             "Roof photos",
		"LastModifiedDate":  remoteModified.Format("2006-01-02T15:04:05.000-0700"),
	}}
	env.client.records["Attachment"] = []salesforce.Record{{
		"Id":               "00PDn00000AttAAAA1",
		"Name":             "quote.pdf",
		"LastModifiedDate": remoteModified.Format("2006-01-02T15:04:05.000-0700"),
	}}

	res, err := env.service.Sync(ctx, identity.Document, Options{Limit: 1})
	require.NoError(t, err)
	pass := res.Passes[0]
	require.Equal(t, StateDone, pass.State)
	require.Equal(t, 1, pass.Fetched)
	require.True(t, pass.Watermark.IsZero())

	_, ok := env.watermark(t, identity.Document, storage.Pull)
	require.False(t, ok)

	res, err = env.service.Sync(ctx, identity.Document, Options{})
	require.NoError(t, err)
	require.Equal(t, 2, res.Passes[0].Fetched)
	require.Equal(t, 2, env.count(t, storage.TableDocuments))
}

func TestService_Sync_ErrorSample(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	svc, err := New(Config{
		Client:          env.client,
		ErrorSampleSize: 2,
		Logger:          slog.New(slog.DiscardHandler),
		Store:           env.store,
		Watermarks:      env.watermarks,
	})
	require.NoError(t, err)

	env.client.records["Account"] = []salesforce.Record{
		{"Name": "no id 1"},
		account(accA1, "Acme"),
		{"Name": "no id 2"},
		{"Name": "no id 3"},
	}

	res, err := svc.Sync(context.Background(), identity.Account, Options{})
	require.NoError(t, err)
	require.Equal(t, StateDone, res.Passes[0].State)
	require.Equal(t, 1, res.SyncedCount)
	require.Equal(t, 3, res.ErrorCount)
	require.Len(t, res.Errors, 2)
	require.Equal(t, 0, res.Errors[0].Index)
	require.Equal(t, 2, res.Errors[1].Index)
	require.Equal(t, storage.StageTransform, res.Errors[0].Stage)
	require.Equal(t, 1, env.count(t, storage.TableAccounts))
}

func TestService_Sync_UnresolvedReferenceHeals(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	env.client.records["Contact"] = []salesforce.Record{{
		"Id":               conC1,
		"LastName":         "Hopper",
		"AccountId":        accA1,
		"LastModifiedDate": remoteModified.Format(time.RFC3339),
	}}

	_, err := env.service.Sync(ctx, identity.Contact, Options{})
	require.NoError(t, err)
	require.Nil(t, contactAccountID(t, env))

	env.client.records["Account"] = []salesforce.Record{account(accA1, "Acme")}
	_, err = env.service.Sync(ctx, identity.Account, Options{})
	require.NoError(t, err)

	res, err := env.service.Sync(ctx, identity.Contact, Options{Force: true})
	require.NoError(t, err)
	require.Equal(t, 1, res.Passes[0].Updated)

	got := contactAccountID(t, env)
	require.NotNil(t, got)

	pairs, err := env.store.LoadIdentities(ctx, storage.TableAccounts)
	require.NoError(t, err)
	require.Equal(t, pairs[0].InternalID, *got)
}

func contactAccountID(t *testing.T, env *testEnv) *string {
	t.Helper()

	var id *string
	require.NoError(t, env.store.DB().QueryRowContext(context.Background(),
		"SELECT account_id FROM contacts WHERE external_id = ?", conC1).Scan(&id))
	return id
}

func TestService_Sync_Documents(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	env.client.records["Account"] = []salesforce.Record{account(accA1, "Acme")}
	_, err := env.service.Sync(ctx, identity.Account, Options{})
	require.NoError(t, err)

	env.client.records["ContentVersion"] = []salesforce.Record{{
		"Id":                "068Dn00000VerAAAA1",
		"ContentDocumentId": docD1,
		"Title":             "Roof photos",
		"FileType":          "ZIP",
	}}
	env.client.records["ContentDocumentLink"] = []salesforce.Record{
		{"Id": "06ADn00000LnkAAAA1", "ContentDocumentId": docD1, "LinkedEntityId": accA1},
		{"Id": "06ADn00000LnkAAAA1", "ContentDocumentId": docD1, "LinkedEntityId": accA1},
		{"Id": "06ADn00000LnkBBBB1", "ContentDocumentId": docD1, "LinkedEntityId": usrU1},
		{"Id": "06ADn00000LnkCCCC1", "ContentDocumentId": "069Dn00000DocOTHR1", "LinkedEntityId": accA1},
	}
	env.client.records["echosign_dev1__SIGN_Agreement__c"] = []salesforce.Record{{
		"Id":                            "a0BDn00000AgrAAAA1",
		"Name":                          "Roof contract",
		"echosign_dev1__Status__c":      "Out for Signature",
		"echosign_dev1__Opportunity__c": oppO1,
	}}
	env.client.records["Attachment"] = []salesforce.Record{{
		"Id":       "00PDn00000AttAAAA1",
		"Name":     "quote.pdf",
		"ParentId": accA1,
	}}

	res, err := env.service.Sync(ctx, identity.Document, Options{})
	require.NoError(t, err)

	pass := res.Passes[0]
	require.Equal(t, StateDone, pass.State)
	require.Equal(t, 3, pass.Fetched)
	require.Equal(t, 3, pass.Inserted)
	require.Equal(t, 4, pass.Links)
	require.Equal(t, 1, pass.LinkDuplicates)
	require.Equal(t, 2, pass.LinksUnresolved)
	require.Empty(t, pass.Errors)

	require.Equal(t, 3, env.count(t, storage.TableDocuments))
	require.Equal(t, 4, env.count(t, storage.TableDocumentLinks))

	var withDocument, withAccount, unresolved int
	db := env.store.DB()
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM document_links WHERE document_id IS NOT NULL").Scan(&withDocument))
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM document_links WHERE account_id IS NOT NULL").Scan(&withAccount))
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM document_links WHERE linked_entity_type = 'UNRESOLVED'").Scan(&unresolved))
	require.Equal(t, 4, withDocument)
	require.Equal(t, 2, withAccount)
	require.Equal(t, 1, unresolved)

	var sourceType string
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT source_type FROM documents WHERE external_id = ?", "a0BDn00000AgrAAAA1").Scan(&sourceType))
	require.Equal(t, "E_SIGNATURE", sourceType)

	linkQuery := env.client.queries[len(env.client.queries)-1]
	require.Equal(t, "ContentDocumentLink", linkQuery.Object)
	require.Equal(t, []string{docD1}, linkQuery.Where[len(linkQuery.Where)-1].Values)
}

func TestService_Sync_Push(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.client.records["Account"] = []salesforce.Record{account(accA1, "Acme"), account(accA2, "Birch")}

	_, err := env.service.Sync(ctx, identity.Account, Options{})
	require.NoError(t, err)

	edited := runStart.Add(10 * time.Minute)
	_, err = env.store.DB().ExecContext(ctx,
		"UPDATE accounts SET name = ?, account_type = ?, updated_at = ? WHERE external_id = ?",
		"Acme Edited", "COMMERCIAL", edited, accA1)
	require.NoError(t, err)

	env.now = runStart.Add(time.Hour)
	res, err := env.service.Sync(ctx, identity.Account, Options{Mode: ModePush})
	require.NoError(t, err)

	pass := res.Passes[0]
	require.Equal(t, storage.Push, pass.Direction)
	require.Equal(t, StateDone, pass.State)
	require.Equal(t, 1, pass.Fetched)
	require.Equal(t, 1, pass.Pushed)

	require.Len(t, env.client.updates, 1)
	require.Equal(t, "Account", env.client.updates[0].object)
	require.Equal(t, accA1, env.client.updates[0].id)
	require.Equal(t, "Acme Edited", env.client.updates[0].fields["Name"])
	require.Equal(t, "Commercial", env.client.updates[0].fields["Type"])

	wm, ok := env.watermark(t, identity.Account, storage.Push)
	require.True(t, ok)
	require.True(t, env.now.Equal(wm))

	env.now = runStart.Add(2 * time.Hour)
	res, err = env.service.Sync(ctx, identity.Account, Options{Mode: ModePush})
	require.NoError(t, err)
	require.Zero(t, res.Passes[0].Fetched)
	require.Len(t, env.client.updates, 1)
}

func TestService_Sync_PushRecordErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.client.records["Account"] = []salesforce.Record{account(accA1, "Acme"), account(accA2, "Birch")}

	_, err := env.service.Sync(ctx, identity.Account, Options{})
	require.NoError(t, err)

	_, err = env.store.DB().ExecContext(ctx, "UPDATE accounts SET updated_at = ?", runStart.Add(time.Minute))
	require.NoError(t, err)

	env.client.updateErr[accA1] = errors.New("FIELD_CUSTOM_VALIDATION_EXCEPTION")
	env.now = runStart.Add(time.Hour)

	res, err := env.service.Sync(ctx, identity.Account, Options{Mode: ModePush})
	require.NoError(t, err)

	pass := res.Passes[0]
	require.Equal(t, StateDone, pass.State)
	require.Equal(t, 2, pass.Fetched)
	require.Equal(t, 1, pass.Pushed)
	require.Len(t, pass.Errors, 1)
	require.Equal(t, accA1, pass.Errors[0].ExternalID)
	require.Equal(t, storage.StagePush, pass.Errors[0].Stage)
	require.Equal(t, 1, res.ErrorCount)

	// The rejected edit stays behind the watermark so it is retried.
	wm, ok := env.watermark(t, identity.Account, storage.Push)
	require.True(t, ok)
	require.True(t, runStart.Add(time.Minute-time.Second).Equal(wm))

	delete(env.client.updateErr, accA1)
	env.now = runStart.Add(2 * time.Hour)
	res, err = env.service.Sync(ctx, identity.Account, Options{Mode: ModePush})
	require.NoError(t, err)
	require.Equal(t, 1, res.Passes[0].Fetched)
	require.Equal(t, 1, res.Passes[0].Pushed)
	require.Len(t, env.client.updates, 2)
	require.Equal(t, accA1, env.client.updates[1].id)
}

func TestService_Sync_PushUnavailable(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		err error
	}{
		"connection refused": {
			err: &url.Error{Op: "Patch", URL: "https://example.my.salesforce.com", Err: errors.New("dial tcp: connection refused")},
		},
		"client reports unavailable": {
			err: fmt.Errorf("%w: executing request: EOF", salesforce.ErrUnavailable),
		},
		"server error": {
			err: &salesforce.APIError{Status: http.StatusServiceUnavailable, Message: "maintenance"},
		},
		"rate limited": {
			err: &salesforce.APIError{Status: http.StatusTooManyRequests, Code: "REQUEST_LIMIT_EXCEEDED"},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t)
			ctx := context.Background()
			env.client.records["Account"] = []salesforce.Record{account(accA1, "Acme"), account(accA2, "Birch")}

			_, err := env.service.Sync(ctx, identity.Account, Options{})
			require.NoError(t, err)

			for id, edited := range map[string]time.Time{accA1: runStart.Add(time.Minute), accA2: runStart.Add(2 * time.Minute)} {
				_, err = env.store.DB().ExecContext(ctx, "UPDATE accounts SET updated_at = ? WHERE external_id = ?", edited, id)
				require.NoError(t, err)
			}

			env.client.updateErr[accA2] = tc.err
			env.now = runStart.Add(time.Hour)

			res, err := env.service.Sync(ctx, identity.Account, Options{Mode: ModePush})
			require.Error(t, err)
			pass := res.Passes[0]
			require.Equal(t, StateFailed, pass.State)
			require.Equal(t, 1, pass.Pushed)
			require.Empty(t, pass.Errors)

			_, ok := env.watermark(t, identity.Account, storage.Push)
			require.False(t, ok)

			delete(env.client.updateErr, accA2)
			env.now = runStart.Add(2 * time.Hour)
			res, err = env.service.Sync(ctx, identity.Account, Options{Mode: ModePush})
			require.NoError(t, err)
			require.Equal(t, 1, res.Passes[0].Pushed)
			require.Len(t, env.client.updates, 2)
			require.Equal(t, accA2, env.client.updates[1].id)
		})
	}
}

func TestService_Sync_PushLimit(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.client.records["Account"] = []salesforce.Record{account(accA1, "Acme"), account(accA2, "Birch")}

	_, err := env.service.Sync(ctx, identity.Account, Options{})
	require.NoError(t, err)

	for id, edited := range map[string]time.Time{accA1: runStart.Add(time.Minute), accA2: runStart.Add(2 * time.Minute)} {
		_, err = env.store.DB().ExecContext(ctx, "UPDATE accounts SET updated_at = ? WHERE external_id = ?", edited, id)
		require.NoError(t, err)
	}

	env.now = runStart.Add(time.Hour)
	res, err := env.service.Sync(ctx, identity.Account, Options{Mode: ModePush, Limit: 1})
	require.NoError(t, err)
	require.Equal(t, 1, res.Passes[0].Pushed)
	require.True(t, runStart.Add(2*time.Minute-time.Second).Equal(res.Passes[0].Watermark))

	env.now = runStart.Add(2 * time.Hour)
	res, err = env.service.Sync(ctx, identity.Account, Options{Mode: ModePush})
	require.NoError(t, err)
	require.Equal(t, 1, res.Passes[0].Fetched)
	require.Len(t, env.client.updates, 2)
	require.Equal(t, accA1, env.client.updates[0].id)
	require.Equal(t, accA2, env.client.updates[1].id)
	require.True(t, env.now.Equal(res.Passes[0].Watermark))
}

func TestService_Sync_PushKeepsEditsMadeWhilePushing(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.client.records["Account"] = []salesforce.Record{account(accA1, "Acme")}

	_, err := env.service.Sync(ctx, identity.Account, Options{})
	require.NoError(t, err)

	_, err = env.store.DB().ExecContext(ctx, "UPDATE accounts SET updated_at = ? WHERE external_id = ?",
		runStart.Add(10*time.Minute), accA1)
	require.NoError(t, err)

	pushStart := runStart.Add(time.Hour)
	env.now = pushStart
	env.client.onUpdate = func(id string) {
		env.client.onUpdate = nil
		_, err := env.store.DB().ExecContext(ctx, "UPDATE accounts SET name = ?, updated_at = ? WHERE external_id = ?",
			"Acme Again", pushStart.Add(30*time.Second), id)
		require.NoError(t, err)
		env.now = pushStart.Add(time.Minute)
	}

	res, err := env.service.Sync(ctx, identity.Account, Options{Mode: ModePush})
	require.NoError(t, err)
	require.Equal(t, 1, res.Passes[0].Pushed)

	env.now = runStart.Add(2 * time.Hour)
	res, err = env.service.Sync(ctx, identity.Account, Options{Mode: ModePush})
	require.NoError(t, err)
	require.Equal(t, 1, res.Passes[0].Pushed)
	require.Len(t, env.client.updates, 2)
	require.Equal(t, "Acme Again", env.client.updates[1].fields["Name"])
}

func TestService_Sync_Bidirectional(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		chain      bool
		wantPasses int
	}{
		"failed pull does not block push": {chain: false, wantPasses: 2},
		"chained passes stop after pull":  {chain: true, wantPasses: 1},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t)
			env.client.queryErr["Account"] = errors.New("connection reset")

			res, err := env.service.Sync(context.Background(), identity.Account, Options{
				ChainPasses: tc.chain,
				Mode:        ModeBidirectional,
			})
			require.Error(t, err)
			require.Len(t, res.Passes, tc.wantPasses)
			require.Equal(t, storage.Pull, res.Passes[0].Direction)
			require.Equal(t, StateFailed, res.Passes[0].State)

			if tc.wantPasses == 2 {
				require.Equal(t, storage.Push, res.Passes[1].Direction)
				require.Equal(t, StateDone, res.Passes[1].State)

				_, ok := env.watermark(t, identity.Account, storage.Push)
				require.True(t, ok)
			}

			_, ok := env.watermark(t, identity.Account, storage.Pull)
			require.False(t, ok)
		})
	}
}

func TestService_Sync_InvalidRequests(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.Sync(ctx, "invoice", Options{})
	require.ErrorIs(t, err, ErrUnknownEntity)

	_, err = env.service.Sync(ctx, identity.Contract, Options{Mode: ModePush})
	require.ErrorIs(t, err, ErrPushUnsupported)

	_, err = env.service.Sync(ctx, identity.Account, Options{Mode: "sideways"})
	require.ErrorIs(t, err, ErrInvalidMode)

	_, err = env.service.Sync(ctx, identity.Account, Options{Limit: -1})
	require.Error(t, err)
}

func TestService_SyncAll(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.client.records["User"] = []salesforce.Record{{"Id": usrU1, "Name": "Ada"}}
	env.client.records["Account"] = []salesforce.Record{{"Id": accA1, "Name": "Acme", "OwnerId": usrU1}}

	results, err := env.service.SyncAll(ctx, Options{})
	require.NoError(t, err)

	var names []identity.EntityType
	for _, r := range results {
		names = append(names, r.Entity)
	}
	require.Equal(t, identity.EntityTypes(), names)
	require.Equal(t, env.service.Entities(), names)

	var ownerID *string
	require.NoError(t, env.store.DB().QueryRowContext(ctx,
		"SELECT owner_id FROM accounts WHERE external_id = ?", accA1).Scan(&ownerID))
	require.NotNil(t, ownerID)

	results, err = env.service.SyncAll(ctx, Options{}, identity.Opportunity, identity.User)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, identity.User, results[0].Entity)
	require.Equal(t, identity.Opportunity, results[1].Entity)

	_, err = env.service.SyncAll(ctx, Options{}, "invoice")
	require.ErrorIs(t, err, ErrUnknownEntity)

	results, err = env.service.SyncAll(ctx, Options{Mode: ModePush})
	require.NoError(t, err)
	require.Len(t, results, 3)
}
