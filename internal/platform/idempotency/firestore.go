package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/kidsdream/api/internal/platform/firestore"
)

const defaultCollection = "idempotency_keys"

// FirestoreOption customises a FirestoreStore.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection holding idempotency records.
func WithCollection(name string) FirestoreOption {
	return func(store *FirestoreStore) {
		if name != "" {
			store.collection = name
		}
	}
}

// FirestoreStore implements Store on Firestore, one document per scoped key.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
	base       *pfirestore.BaseRepository[firestoreRecord]
}

// NewFirestoreStore returns a Firestore-backed store using provider's client.
func NewFirestoreStore(provider *pfirestore.Provider, opts ...FirestoreOption) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency: firestore provider is required")
	}
	store := &FirestoreStore{provider: provider, collection: defaultCollection}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	store.base = pfirestore.NewBaseRepository[firestoreRecord](provider, store.collection, nil, nil)
	return store, nil
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref, err := s.base.DocumentRef(ctx, documentID(key))
	if err != nil {
		return Reservation{}, err
	}

	var result Reservation
	err = s.provider.RunTransaction(ctx, pfirestore.DefaultTxPolicy, func(ctx context.Context, tx *firestore.Transaction) error {
		record, found, err := s.load(ctx, tx, ref)
		if err != nil {
			return err
		}
		if !found || record.expired(now) {
			record = newPendingRecord(key, fingerprint, now, ttl)
			result = Reservation{State: ReservationStateNew, Record: record}
			return tx.Set(ref, toFirestoreRecord(record))
		}
		if record.Fingerprint != fingerprint {
			return pfirestore.Abort(ErrFingerprintMismatch)
		}
		state := ReservationStatePending
		if record.Status == StatusCompleted {
			state = ReservationStateCompleted
		}
		result = Reservation{State: state, Record: record}
		return nil
	})
	if errors.Is(err, ErrFingerprintMismatch) {
		return Reservation{}, ErrFingerprintMismatch
	}
	return result, err
}

func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref, err := s.base.DocumentRef(ctx, documentID(key))
	if err != nil {
		return err
	}

	err = s.provider.RunTransaction(ctx, pfirestore.DefaultTxPolicy, func(ctx context.Context, tx *firestore.Transaction) error {
		record, found, err := s.load(ctx, tx, ref)
		if err != nil {
			return err
		}
		if found && record.Fingerprint != fingerprint {
			return pfirestore.Abort(ErrFingerprintMismatch)
		}
		if !found {
			record = Record{Key: key, Fingerprint: fingerprint}
		}
		return tx.Set(ref, toFirestoreRecord(completeRecord(record, resp, now, ttl)))
	})
	if errors.Is(err, ErrFingerprintMismatch) {
		return ErrFingerprintMismatch
	}
	return err
}

func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	return s.base.Delete(ctx, documentID(key))
}

// CleanupExpired deletes up to limit expired records.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	docs, err := s.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("expires_at", "<=", now.UTC()).Limit(limit)
	})
	if err != nil || len(docs) == 0 {
		return 0, err
	}

	writer, err := s.provider.BulkWriter(ctx)
	if err != nil {
		return 0, err
	}
	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	for _, doc := range docs {
		ref, err := s.base.DocumentRef(ctx, doc.ID)
		if err != nil {
			continue
		}
		job, err := writer.Delete(ref)
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	writer.End()

	removed := 0
	for _, job := range jobs {
		if _, err := job.Results(); err == nil {
			removed++
		}
	}
	return removed, nil
}

func (s *FirestoreStore) load(ctx context.Context, tx *firestore.Transaction, ref *firestore.DocumentRef) (Record, bool, error) {
	snap, err := tx.Get(ref)
	if err != nil {
		if pfirestore.IsNotFound(pfirestore.WrapError("idempotency.get", err)) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	doc, err := s.base.Decode(ctx, snap)
	if err != nil {
		return Record{}, false, err
	}
	return doc.Data.toRecord(), true, nil
}

type firestoreRecord struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"response_status"`
	ResponseHeaders map[string][]string `firestore:"response_headers"`
	ResponseBody    []byte              `firestore:"response_body"`
	CreatedAt       time.Time           `firestore:"created_at"`
	UpdatedAt       time.Time           `firestore:"updated_at"`
	ExpiresAt       time.Time           `firestore:"expires_at"`
}

func toFirestoreRecord(r Record) firestoreRecord {
	return firestoreRecord{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          string(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (r firestoreRecord) toRecord() Record {
	return Record{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          Status(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

var _ Store = (*FirestoreStore)(nil)
