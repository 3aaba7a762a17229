package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"unison-context/internal/codec"
	"unison-context/internal/domain"
	"unison-context/internal/kvtable"
	"unison-context/internal/policy"
)

// recordingTable wraps a memory table and counts every data call.
type recordingTable struct {
	inner   *kvtable.MemoryTable
	gets    int
	puts    int
	deletes int
	err     error
}

func newRecordingTable() *recordingTable {
	return &recordingTable{inner: kvtable.NewMemoryTable()}
}

func (r *recordingTable) Get(ctx context.Context, key kvtable.Key) ([]byte, error) {
	r.gets++
	if r.err != nil {
		return nil, r.err
	}
	return r.inner.Get(ctx, key)
}

func (r *recordingTable) Put(ctx context.Context, key kvtable.Key, value []byte) error {
	r.puts++
	if r.err != nil {
		return r.err
	}
	return r.inner.Put(ctx, key, value)
}

func (r *recordingTable) Delete(ctx context.Context, key kvtable.Key) error {
	r.deletes++
	if r.err != nil {
		return r.err
	}
	return r.inner.Delete(ctx, key)
}

func (r *recordingTable) Ping(ctx context.Context) error {
	if r.err != nil {
		return r.err
	}
	return nil
}

func (r *recordingTable) calls() int { return r.gets + r.puts + r.deletes }

var (
	testKey = bytes.Repeat([]byte{7}, codec.KeySize)

	admin = policy.Caller{
		PersonID: "ops-1",
		Roles:    []string{policy.RoleAdmin},
		Scopes:   []policy.Scope{{Admin: true, Person: "*"}},
	}
	guest = policy.Caller{
		PersonID: "guest-1",
		Roles:    []string{"guest"},
		Scopes:   []policy.Scope{{Kind: domain.KindProfile, Access: policy.AccessWrite, Person: "person-123"}},
	}
)

func newStore(t *testing.T, table Table, enforce bool, key []byte, opts ...Option) *RecordStore {
	t.Helper()
	c, err := codec.New(codec.Options{Key: key})
	require.NoError(t, err)
	opts = append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMeterProvider(noop.NewMeterProvider()),
	}, opts...)
	s, err := NewRecordStore(table, c, policy.NewEvaluator(enforce), opts...)
	require.NoError(t, err)
	return s
}

func requireCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	require.Error(t, err)
	var ue *Error
	require.True(t, errors.As(err, &ue), "expected *usecase.Error, got %T: %v", err, err)
	require.Equal(t, code, ue.Code, ue.Error())
}

func TestNewRecordStore_Validation(t *testing.T) {
	c, err := codec.New(codec.Options{})
	require.NoError(t, err)
	auth := policy.NewEvaluator(false)

	_, err = NewRecordStore(nil, c, auth)
	require.Error(t, err)
	_, err = NewRecordStore(newRecordingTable(), nil, auth)
	require.Error(t, err)
	_, err = NewRecordStore(newRecordingTable(), c, nil)
	require.Error(t, err)
	_, err = NewRecordStore(newRecordingTable(), c, auth, WithMaxDashboardCards(0))
	require.Error(t, err)
}

func TestProfile_WriteThenRead(t *testing.T) {
	s := newStore(t, newRecordingTable(), false, nil)
	ctx := context.Background()

	ts, err := s.WriteProfile(ctx, admin, "person-123", domain.Profile{Locale: "en-US"})
	require.NoError(t, err)

	got, err := s.ReadProfile(ctx, admin, "person-123")
	require.NoError(t, err)
	require.Equal(t, "en-US", got.Locale)
	require.Equal(t, "person-123", got.PersonID)
	require.False(t, got.UpdatedAt.Before(ts))
}

func TestProfile_ReadMissing(t *testing.T) {
	s := newStore(t, newRecordingTable(), false, nil)
	_, err := s.ReadProfile(context.Background(), admin, "ghost-999")
	requireCode(t, err, ErrorNotFound)
}

func TestProfile_GuestDenied(t *testing.T) {
	table := newRecordingTable()
	s := newStore(t, table, true, nil)
	ctx := context.Background()

	_, err := s.WriteProfile(ctx, guest, "person-123", domain.Profile{Locale: "en-US"})
	requireCode(t, err, ErrorForbidden)
	require.Zero(t, table.calls())

	_, err = s.ReadProfile(ctx, admin, "person-123")
	requireCode(t, err, ErrorNotFound)
}

func TestDashboard_EncryptedAtRest(t *testing.T) {
	table := newRecordingTable()
	s := newStore(t, table, false, testKey)
	ctx := context.Background()

	_, err := s.WriteDashboard(ctx, admin, "person-1", domain.Dashboard{Cards: []domain.Card{{ID: "c1"}}})
	require.NoError(t, err)

	raw, err := table.inner.Get(ctx, kvtable.DashboardKey("person-1"))
	require.NoError(t, err)
	require.NotContains(t, string(raw), `"c1"`)

	got, err := s.ReadDashboard(ctx, admin, "person-1")
	require.NoError(t, err)
	require.Equal(t, []domain.Card{{ID: "c1"}}, got.Cards)
}

func TestSession_DeleteMissing(t *testing.T) {
	s := newStore(t, newRecordingTable(), false, nil)
	err := s.DeleteSession(context.Background(), admin, "person-1", "session-1")
	requireCode(t, err, ErrorNotFound)
}

func TestSession_Lifecycle(t *testing.T) {
	s := newStore(t, newRecordingTable(), false, nil)
	ctx := context.Background()

	sess := domain.Session{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
		Response: map[string]any{"result": "hello"},
		Summary:  "hello",
	}
	_, err := s.WriteSession(ctx, admin, "p1", "s1", sess)
	require.NoError(t, err)

	got, err := s.ReadSession(ctx, admin, "p1", "s1")
	require.NoError(t, err)
	require.Equal(t, sess.Messages, got.Messages)
	require.Equal(t, sess.Response, got.Response)
	require.Equal(t, "s1", got.SessionID)

	require.NoError(t, s.DeleteSession(ctx, admin, "p1", "s1"))
	_, err = s.ReadSession(ctx, admin, "p1", "s1")
	requireCode(t, err, ErrorNotFound)
}

func TestAuthorizationShortCircuits(t *testing.T) {
	table := newRecordingTable()
	s := newStore(t, table, true, nil)
	ctx := context.Background()
	nobody := policy.Caller{}

	_, err := s.ReadProfile(ctx, nobody, "p1")
	requireCode(t, err, ErrorForbidden)
	_, err = s.WriteDashboard(ctx, nobody, "p1", domain.Dashboard{})
	requireCode(t, err, ErrorForbidden)
	_, err = s.ReadSession(ctx, guest, "p1", "s1")
	requireCode(t, err, ErrorForbidden)
	err = s.DeleteSession(ctx, guest, "p1", "s1")
	requireCode(t, err, ErrorForbidden)
	_, err = s.PutKV(ctx, guest, "ns", "k", json.RawMessage(`1`))
	requireCode(t, err, ErrorForbidden)
	err = s.DeleteKV(ctx, nobody, "ns", "k")
	requireCode(t, err, ErrorForbidden)

	require.Zero(t, table.calls())
}

func TestForbiddenHidesExistence(t *testing.T) {
	table := newRecordingTable()
	s := newStore(t, table, true, nil)
	ctx := context.Background()

	_, err := s.WriteProfile(ctx, admin, "exists", domain.Profile{})
	require.NoError(t, err)

	_, errExisting := s.ReadProfile(ctx, guest, "exists")
	_, errMissing := s.ReadProfile(ctx, guest, "missing")
	requireCode(t, errExisting, ErrorForbidden)
	requireCode(t, errMissing, ErrorForbidden)
	require.Equal(t, errExisting.Error(), errMissing.Error())
}

func TestUpsertIdempotence(t *testing.T) {
	s := newStore(t, newRecordingTable(), false, testKey)
	ctx := context.Background()
	profile := domain.Profile{Locale: "fr-FR", Preferences: map[string]any{"theme": "dark"}}

	t1, err := s.WriteProfile(ctx, admin, "p1", profile)
	require.NoError(t, err)
	first, err := s.ReadProfile(ctx, admin, "p1")
	require.NoError(t, err)

	t2, err := s.WriteProfile(ctx, admin, "p1", profile)
	require.NoError(t, err)
	second, err := s.ReadProfile(ctx, admin, "p1")
	require.NoError(t, err)

	require.True(t, t2.After(t1))
	require.Equal(t, t2, second.UpdatedAt)
	first.UpdatedAt, second.UpdatedAt = time.Time{}, time.Time{}
	require.Equal(t, first, second)
}

func TestTimestampsMonotonicAcrossKinds(t *testing.T) {
	frozen := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	s := newStore(t, newRecordingTable(), false, nil, WithClock(NewClockFunc(func() time.Time { return frozen })))
	ctx := context.Background()

	var last time.Time
	for i := 0; i < 5; i++ {
		ts, err := s.WriteProfile(ctx, admin, "p1", domain.Profile{})
		require.NoError(t, err)
		require.True(t, ts.After(last))
		last = ts

		ts, err = s.PutKV(ctx, admin, "ns", "k", json.RawMessage(strconv.Itoa(i)))
		require.NoError(t, err)
		require.True(t, ts.After(last))
		last = ts
	}
}

func TestDashboard_CardCap(t *testing.T) {
	s := newStore(t, newRecordingTable(), false, nil, WithMaxDashboardCards(2))
	ctx := context.Background()

	cards := []domain.Card{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	_, err := s.WriteDashboard(ctx, admin, "p1", domain.Dashboard{Cards: cards})
	require.NoError(t, err)

	got, err := s.ReadDashboard(ctx, admin, "p1")
	require.NoError(t, err)
	require.Equal(t, []domain.Card{{ID: "a"}, {ID: "b"}}, got.Cards)
}

func TestDashboard_EmptyCards(t *testing.T) {
	s := newStore(t, newRecordingTable(), false, nil)
	ctx := context.Background()

	_, err := s.WriteDashboard(ctx, admin, "p1", domain.Dashboard{Preferences: map[string]any{"layout": "grid"}})
	require.NoError(t, err)
	got, err := s.ReadDashboard(ctx, admin, "p1")
	require.NoError(t, err)
	require.NotNil(t, got.Cards)
	require.Empty(t, got.Cards)
	require.Equal(t, "grid", got.Preferences["layout"])
}

func TestDashboard_InvalidCard(t *testing.T) {
	table := newRecordingTable()
	s := newStore(t, table, false, nil)
	_, err := s.WriteDashboard(context.Background(), admin, "p1", domain.Dashboard{
		Cards: []domain.Card{{ID: "a", Fields: map[string]any{"title": "shadow"}}},
	})
	requireCode(t, err, ErrorInvalidInput)
	require.Zero(t, table.puts)
}

func TestSession_MessageCap(t *testing.T) {
	s := newStore(t, newRecordingTable(), false, nil, WithMaxSessionMessages(2))
	ctx := context.Background()

	msgs := []domain.Message{
		{Role: domain.RoleUser, Content: "one"},
		{Role: domain.RoleAssistant, Content: "two"},
		{Role: domain.RoleUser, Content: "three"},
	}
	_, err := s.WriteSession(ctx, admin, "p1", "s1", domain.Session{Messages: msgs})
	require.NoError(t, err)

	got, err := s.ReadSession(ctx, admin, "p1", "s1")
	require.NoError(t, err)
	require.Equal(t, msgs[1:], got.Messages)
}

func TestSession_InvalidRole(t *testing.T) {
	s := newStore(t, newRecordingTable(), false, nil)
	_, err := s.WriteSession(context.Background(), admin, "p1", "s1", domain.Session{
		Messages: []domain.Message{{Role: "narrator", Content: "x"}},
	})
	requireCode(t, err, ErrorInvalidInput)
}

func TestDataIntegrityNotMappedToNotFound(t *testing.T) {
	table := newRecordingTable()
	s := newStore(t, table, false, testKey)
	ctx := context.Background()

	require.NoError(t, table.inner.Put(ctx, kvtable.ProfileKey("p1"), []byte("not an envelope at all, but long enough to pass the size check")))
	_, err := s.ReadProfile(ctx, admin, "p1")
	requireCode(t, err, ErrorDataIntegrity)
	require.ErrorIs(t, err, codec.ErrTamperedOrWrongKey)

	// A record written under another key.
	other := newStore(t, table, false, bytes.Repeat([]byte{9}, codec.KeySize))
	_, err = other.WriteProfile(ctx, admin, "p2", domain.Profile{Locale: "en"})
	require.NoError(t, err)
	_, err = s.ReadProfile(ctx, admin, "p2")
	requireCode(t, err, ErrorDataIntegrity)
}

func TestSwappedRecordFailsIntegrity(t *testing.T) {
	table := newRecordingTable()
	s := newStore(t, table, false, testKey)
	ctx := context.Background()

	_, err := s.WriteProfile(ctx, admin, "alice", domain.Profile{Locale: "en"})
	require.NoError(t, err)
	raw, err := table.inner.Get(ctx, kvtable.ProfileKey("alice"))
	require.NoError(t, err)
	require.NoError(t, table.inner.Put(ctx, kvtable.ProfileKey("mallory"), raw))

	_, err = s.ReadProfile(ctx, admin, "mallory")
	requireCode(t, err, ErrorDataIntegrity)
}

func TestStorageUnavailable(t *testing.T) {
	table := newRecordingTable()
	table.err = errors.Join(kvtable.ErrStorageUnavailable, errors.New("connection reset"))
	s := newStore(t, table, false, nil)
	ctx := context.Background()

	_, err := s.ReadProfile(ctx, admin, "p1")
	requireCode(t, err, ErrorStorageUnavailable)
	_, err = s.WriteProfile(ctx, admin, "p1", domain.Profile{})
	requireCode(t, err, ErrorStorageUnavailable)
	requireCode(t, s.Ready(ctx), ErrorStorageUnavailable)
}

func TestInvalidKey(t *testing.T) {
	table := newRecordingTable()
	s := newStore(t, table, false, nil)
	ctx := context.Background()

	_, err := s.WriteProfile(ctx, admin, "", domain.Profile{})
	requireCode(t, err, ErrorInvalidInput)
	_, err = s.ReadSession(ctx, admin, "p1", "bad\x00id")
	requireCode(t, err, ErrorInvalidInput)
	require.Zero(t, table.calls())
}

func TestPersonIDMismatch(t *testing.T) {
	s := newStore(t, newRecordingTable(), false, nil)
	_, err := s.WriteProfile(context.Background(), admin, "p1", domain.Profile{PersonID: "p2"})
	requireCode(t, err, ErrorInvalidInput)
}

func TestKV_Lifecycle(t *testing.T) {
	s := newStore(t, newRecordingTable(), false, testKey)
	ctx := context.Background()

	_, err := s.PutKV(ctx, admin, "u1:profile", "language", json.RawMessage(`"en"`))
	require.NoError(t, err)

	entry, err := s.GetKV(ctx, admin, "u1:profile", "language")
	require.NoError(t, err)
	require.Equal(t, `"en"`, string(entry.Value))
	require.Equal(t, "u1:profile", entry.Namespace)

	require.NoError(t, s.DeleteKV(ctx, admin, "u1:profile", "language"))
	_, err = s.GetKV(ctx, admin, "u1:profile", "language")
	requireCode(t, err, ErrorNotFound)
	requireCode(t, s.DeleteKV(ctx, admin, "u1:profile", "language"), ErrorNotFound)
}

func TestKV_ValueIsKeptVerbatim(t *testing.T) {
	for _, key := range [][]byte{nil, testKey} {
		s := newStore(t, newRecordingTable(), false, key)
		ctx := context.Background()

		_, err := s.PutKV(ctx, admin, "u1:profile", "account", json.RawMessage(`9007199254740993`))
		require.NoError(t, err)
		entry, err := s.GetKV(ctx, admin, "u1:profile", "account")
		require.NoError(t, err)
		require.Equal(t, "9007199254740993", string(entry.Value))
	}
}

func TestKV_RejectsInvalidValue(t *testing.T) {
	table := newRecordingTable()
	s := newStore(t, table, false, nil)
	ctx := context.Background()

	_, err := s.PutKV(ctx, admin, "ns", "k", json.RawMessage(`{"open":`))
	requireCode(t, err, ErrorInvalidInput)
	_, err = s.PutKV(ctx, admin, "ns", "k", nil)
	requireCode(t, err, ErrorInvalidInput)
	require.Zero(t, table.puts)
}

func TestKV_ConsentTargetsNamespace(t *testing.T) {
	s := newStore(t, newRecordingTable(), true, nil)
	caller := policy.Caller{
		Roles:  []string{policy.RoleService},
		Scopes: []policy.Scope{{Kind: domain.KindKV, Access: policy.AccessWrite, Person: "u1:profile"}},
	}
	ctx := context.Background()

	_, err := s.PutKV(ctx, caller, "u1:profile", "language", json.RawMessage(`"en"`))
	require.NoError(t, err)
	_, err = s.PutKV(ctx, caller, "u2:profile", "language", json.RawMessage(`"en"`))
	requireCode(t, err, ErrorForbidden)
}

func TestReady(t *testing.T) {
	s := newStore(t, newRecordingTable(), false, nil)
	require.NoError(t, s.Ready(context.Background()))
}

func TestSkewedWritersLastWriterWins(t *testing.T) {
	table := newRecordingTable()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	ahead := newStore(t, table, false, nil, WithClock(NewClockFunc(func() time.Time { return now })))
	behind := newStore(t, table, false, nil, WithClock(NewClockFunc(func() time.Time { return now.Add(-time.Hour) })))
	ctx := context.Background()

	first, err := ahead.WriteProfile(ctx, admin, "p1", domain.Profile{Locale: "en-US"})
	require.NoError(t, err)
	second, err := behind.WriteProfile(ctx, admin, "p1", domain.Profile{Locale: "fr-FR"})
	require.NoError(t, err)
	require.True(t, second.Before(first))

	got, err := ahead.ReadProfile(ctx, admin, "p1")
	require.NoError(t, err)
	require.Equal(t, "fr-FR", got.Locale)
	require.Equal(t, second, got.UpdatedAt)
}
