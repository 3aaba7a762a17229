package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"

	"unison-context/internal/domain"
	"unison-context/internal/kvtable"
	"unison-context/internal/observability"
	"unison-context/internal/policy"
)

const (
	DefaultMaxDashboardCards  = 100
	DefaultMaxSessionMessages = 500
)

// Table is the storage capability the store needs.
type Table interface {
	Get(ctx context.Context, key kvtable.Key) ([]byte, error)
	Put(ctx context.Context, key kvtable.Key, value []byte) error
	Delete(ctx context.Context, key kvtable.Key) error
	Ping(ctx context.Context) error
}

// Codec turns records into stored bytes. binding is the record identity.
type Codec interface {
	Encode(binding []byte, v any) ([]byte, error)
	Decode(binding, data []byte, v any) error
}

// Authorizer decides whether a caller may touch a record.
type Authorizer interface {
	Authorize(caller policy.Caller, op domain.Operation, target string, kind domain.Kind) policy.Decision
}

// RecordStore is the typed front door to stored context. Every operation
// authorizes before it touches the table.
type RecordStore struct {
	table  Table
	codec  Codec
	auth   Authorizer
	clock  *Clock
	logger *slog.Logger

	maxCards    int
	maxMessages int

	meterProvider otelmetric.MeterProvider
	metrics       *storeMetrics
}

// Option configures a RecordStore.
type Option func(*RecordStore)

func WithLogger(l *slog.Logger) Option {
	return func(s *RecordStore) { s.logger = l }
}

// WithClock shares a clock between stores. Timestamps are only monotonic
// across stores that share one.
func WithClock(c *Clock) Option {
	return func(s *RecordStore) { s.clock = c }
}

func WithMaxDashboardCards(n int) Option {
	return func(s *RecordStore) { s.maxCards = n }
}

func WithMaxSessionMessages(n int) Option {
	return func(s *RecordStore) { s.maxMessages = n }
}

func WithMeterProvider(mp otelmetric.MeterProvider) Option {
	return func(s *RecordStore) { s.meterProvider = mp }
}

func NewRecordStore(table Table, codec Codec, auth Authorizer, opts ...Option) (*RecordStore, error) {
	if table == nil {
		return nil, errors.New("usecase: table must not be nil")
	}
	if codec == nil {
		return nil, errors.New("usecase: codec must not be nil")
	}
	if auth == nil {
		return nil, errors.New("usecase: authorizer must not be nil")
	}

	s := &RecordStore{
		table:       table,
		codec:       codec,
		auth:        auth,
		maxCards:    DefaultMaxDashboardCards,
		maxMessages: DefaultMaxSessionMessages,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = NewClock()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.meterProvider == nil {
		s.meterProvider = otel.GetMeterProvider()
	}
	if s.maxCards <= 0 {
		return nil, errors.New("usecase: max dashboard cards must be positive")
	}
	if s.maxMessages <= 0 {
		return nil, errors.New("usecase: max session messages must be positive")
	}

	m, err := newStoreMetrics(s.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("usecase: NewRecordStore: metrics: %w", err)
	}
	s.metrics = m
	return s, nil
}

// ReadProfile returns the profile of personID.
func (s *RecordStore) ReadProfile(ctx context.Context, caller policy.Caller, personID string) (_ domain.Profile, err error) {
	defer s.observe(ctx, domain.KindProfile, domain.OpRead, time.Now(), &err)

	key := kvtable.ProfileKey(personID)
	if err := s.begin(ctx, caller, domain.OpRead, key); err != nil {
		return domain.Profile{}, err
	}
	var p domain.Profile
	if err := s.load(ctx, key, &p); err != nil {
		return domain.Profile{}, err
	}
	return p, nil
}

// WriteProfile replaces the profile of personID and returns its new
// updated_at.
func (s *RecordStore) WriteProfile(ctx context.Context, caller policy.Caller, personID string, p domain.Profile) (_ time.Time, err error) {
	defer s.observe(ctx, domain.KindProfile, domain.OpWrite, time.Now(), &err)

	key := kvtable.ProfileKey(personID)
	if err := s.begin(ctx, caller, domain.OpWrite, key); err != nil {
		return time.Time{}, err
	}
	if p.PersonID != "" && p.PersonID != personID {
		return time.Time{}, newError(ErrorInvalidInput, "person-id-mismatch", nil)
	}
	p.PersonID = personID
	p.UpdatedAt = s.clock.Now()
	if err := s.save(ctx, key, p); err != nil {
		return time.Time{}, err
	}
	return p.UpdatedAt, nil
}

// ReadDashboard returns the dashboard of personID.
func (s *RecordStore) ReadDashboard(ctx context.Context, caller policy.Caller, personID string) (_ domain.Dashboard, err error) {
	defer s.observe(ctx, domain.KindDashboard, domain.OpRead, time.Now(), &err)

	key := kvtable.DashboardKey(personID)
	if err := s.begin(ctx, caller, domain.OpRead, key); err != nil {
		return domain.Dashboard{}, err
	}
	var d domain.Dashboard
	if err := s.load(ctx, key, &d); err != nil {
		return domain.Dashboard{}, err
	}
	if d.Cards == nil {
		d.Cards = []domain.Card{}
	}
	return d, nil
}

// WriteDashboard replaces the dashboard of personID. Cards past the
// configured cap are dropped.
func (s *RecordStore) WriteDashboard(ctx context.Context, caller policy.Caller, personID string, d domain.Dashboard) (_ time.Time, err error) {
	defer s.observe(ctx, domain.KindDashboard, domain.OpWrite, time.Now(), &err)

	key := kvtable.DashboardKey(personID)
	if err := s.begin(ctx, caller, domain.OpWrite, key); err != nil {
		return time.Time{}, err
	}
	if d.PersonID != "" && d.PersonID != personID {
		return time.Time{}, newError(ErrorInvalidInput, "person-id-mismatch", nil)
	}
	for _, c := range d.Cards {
		if err := c.Validate(); err != nil {
			return time.Time{}, newError(ErrorInvalidInput, "invalid-dashboard-cards", err)
		}
	}
	if d.Cards == nil {
		d.Cards = []domain.Card{}
	}
	if len(d.Cards) > s.maxCards {
		s.log(ctx).Info("dashboard cards trimmed", "kind", key.Kind, "key", key.String(),
			"received", len(d.Cards), "kept", s.maxCards)
		d.Cards = d.Cards[:s.maxCards]
	}
	d.PersonID = personID
	d.UpdatedAt = s.clock.Now()
	if err := s.save(ctx, key, d); err != nil {
		return time.Time{}, err
	}
	return d.UpdatedAt, nil
}

// ReadSession returns one session transcript.
func (s *RecordStore) ReadSession(ctx context.Context, caller policy.Caller, personID, sessionID string) (_ domain.Session, err error) {
	defer s.observe(ctx, domain.KindSession, domain.OpRead, time.Now(), &err)

	key := kvtable.SessionKey(personID, sessionID)
	if err := s.begin(ctx, caller, domain.OpRead, key); err != nil {
		return domain.Session{}, err
	}
	var sess domain.Session
	if err := s.load(ctx, key, &sess); err != nil {
		return domain.Session{}, err
	}
	if sess.Messages == nil {
		sess.Messages = []domain.Message{}
	}
	return sess, nil
}

// WriteSession replaces one session transcript, keeping only the newest
// messages up to the configured cap.
func (s *RecordStore) WriteSession(ctx context.Context, caller policy.Caller, personID, sessionID string, sess domain.Session) (_ time.Time, err error) {
	defer s.observe(ctx, domain.KindSession, domain.OpWrite, time.Now(), &err)

	key := kvtable.SessionKey(personID, sessionID)
	if err := s.begin(ctx, caller, domain.OpWrite, key); err != nil {
		return time.Time{}, err
	}
	if (sess.PersonID != "" && sess.PersonID != personID) || (sess.SessionID != "" && sess.SessionID != sessionID) {
		return time.Time{}, newError(ErrorInvalidInput, "session-id-mismatch", nil)
	}
	if err := sess.Validate(); err != nil {
		return time.Time{}, newError(ErrorInvalidInput, "invalid-messages", err)
	}
	if sess.Messages == nil {
		sess.Messages = []domain.Message{}
	}
	sess.Messages = domain.TruncateMessages(sess.Messages, s.maxMessages)
	sess.PersonID = personID
	sess.SessionID = sessionID
	sess.UpdatedAt = s.clock.Now()
	if err := s.save(ctx, key, sess); err != nil {
		return time.Time{}, err
	}
	return sess.UpdatedAt, nil
}

// DeleteSession hard-deletes one session. A missing session is NOT_FOUND.
func (s *RecordStore) DeleteSession(ctx context.Context, caller policy.Caller, personID, sessionID string) (err error) {
	defer s.observe(ctx, domain.KindSession, domain.OpDelete, time.Now(), &err)

	key := kvtable.SessionKey(personID, sessionID)
	if err := s.begin(ctx, caller, domain.OpDelete, key); err != nil {
		return err
	}
	if err := s.table.Delete(ctx, key); err != nil {
		return tableError("delete", key, err)
	}
	return nil
}

// GetKV returns the entry stored under (namespace, key).
func (s *RecordStore) GetKV(ctx context.Context, caller policy.Caller, namespace, key string) (_ domain.KVEntry, err error) {
	defer s.observe(ctx, domain.KindKV, domain.OpRead, time.Now(), &err)

	k := kvtable.EntryKey(namespace, key)
	if err := s.begin(ctx, caller, domain.OpRead, k); err != nil {
		return domain.KVEntry{}, err
	}
	var e domain.KVEntry
	if err := s.load(ctx, k, &e); err != nil {
		return domain.KVEntry{}, err
	}
	return e, nil
}

// PutKV stores value, a JSON text, under (namespace, key). The text is
// stored as given and returned unchanged by GetKV.
func (s *RecordStore) PutKV(ctx context.Context, caller policy.Caller, namespace, key string, value json.RawMessage) (_ time.Time, err error) {
	defer s.observe(ctx, domain.KindKV, domain.OpWrite, time.Now(), &err)

	k := kvtable.EntryKey(namespace, key)
	if err := s.begin(ctx, caller, domain.OpWrite, k); err != nil {
		return time.Time{}, err
	}
	if !json.Valid(value) {
		return time.Time{}, newError(ErrorInvalidInput, "invalid-value", nil)
	}
	e := domain.KVEntry{Namespace: namespace, Key: key, Value: value, UpdatedAt: s.clock.Now()}
	if err := s.save(ctx, k, e); err != nil {
		return time.Time{}, err
	}
	return e.UpdatedAt, nil
}

// DeleteKV removes the entry under (namespace, key).
func (s *RecordStore) DeleteKV(ctx context.Context, caller policy.Caller, namespace, key string) (err error) {
	defer s.observe(ctx, domain.KindKV, domain.OpDelete, time.Now(), &err)

	k := kvtable.EntryKey(namespace, key)
	if err := s.begin(ctx, caller, domain.OpDelete, k); err != nil {
		return err
	}
	if err := s.table.Delete(ctx, k); err != nil {
		return tableError("delete", k, err)
	}
	return nil
}

// Ready reports whether the backend answers.
func (s *RecordStore) Ready(ctx context.Context) error {
	if err := s.table.Ping(ctx); err != nil {
		return newError(ErrorStorageUnavailable, "ping-failed", err)
	}
	return nil
}

// begin authorizes the caller, then checks the key shape. Nothing reaches
// the table before both pass.
func (s *RecordStore) begin(ctx context.Context, caller policy.Caller, op domain.Operation, key kvtable.Key) error {
	d := s.auth.Authorize(caller, op, key.Partition, key.Kind)
	if !d.Allowed {
		s.log(ctx).Warn("access denied",
			"kind", key.Kind, "operation", op, "reason", d.Reason.String())
		return newError(ErrorForbidden, d.Reason.String(), nil)
	}
	if err := key.Validate(); err != nil {
		return newError(ErrorInvalidInput, "invalid-key", err)
	}
	return nil
}

func (s *RecordStore) load(ctx context.Context, key kvtable.Key, v any) error {
	data, err := s.table.Get(ctx, key)
	if err != nil {
		return tableError("get", key, err)
	}
	if err := s.codec.Decode(key.Binding(), data, v); err != nil {
		s.log(ctx).Error("stored record failed integrity check",
			"kind", key.Kind, "key", key.String(), "err", err)
		return newError(ErrorDataIntegrity, "decode-failed", fmt.Errorf("usecase: decode %s: %w", key, err))
	}
	return nil
}

func (s *RecordStore) save(ctx context.Context, key kvtable.Key, v any) error {
	data, err := s.codec.Encode(key.Binding(), v)
	if err != nil {
		return newError(ErrorInternal, "encode-failed", fmt.Errorf("usecase: encode %s: %w", key, err))
	}
	if l := s.log(ctx); l.Enabled(ctx, slog.LevelDebug) {
		l.Debug("writing record", "kind", key.Kind, "key", key.String(),
			"payload", observability.RedactJSON(v))
	}
	if err := s.table.Put(ctx, key, data); err != nil {
		return tableError("put", key, err)
	}
	return nil
}

func tableError(op string, key kvtable.Key, err error) *Error {
	wrapped := fmt.Errorf("usecase: %s %s: %w", op, key, err)
	switch {
	case errors.Is(err, kvtable.ErrNotFound):
		return newError(ErrorNotFound, "not-found", wrapped)
	case errors.Is(err, kvtable.ErrInvalidKey):
		return newError(ErrorInvalidInput, "invalid-key", wrapped)
	default:
		return newError(ErrorStorageUnavailable, "storage-unavailable", wrapped)
	}
}

func (s *RecordStore) observe(ctx context.Context, kind domain.Kind, op domain.Operation, start time.Time, errp *error) {
	s.metrics.record(ctx, kind, op, start, *errp)
}

func (s *RecordStore) log(ctx context.Context) *slog.Logger {
	return observability.LoggerFromContext(ctx, s.logger)
}

func asError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
