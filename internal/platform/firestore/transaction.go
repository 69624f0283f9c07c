package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// TxPolicy bounds how often a transaction is retried on contention and how
// long it may run in total.
type TxPolicy struct {
	MaxAttempts int
	Timeout     time.Duration
}

var (
	// DefaultTxPolicy covers background bookkeeping such as idempotency records.
	DefaultTxPolicy = TxPolicy{MaxAttempts: 5, Timeout: 15 * time.Second}
	// UsagePolicy covers the per-user subscription document. Parallel generate
	// calls from one family contend on it, and it sits on the request path.
	UsagePolicy = TxPolicy{MaxAttempts: 8, Timeout: 5 * time.Second}
)

func (p TxPolicy) withDefaults() TxPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultTxPolicy.MaxAttempts
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTxPolicy.Timeout
	}
	return p
}

// TxFunc runs inside a Firestore transaction and may be retried.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

type abortError struct{ err error }

func (e *abortError) Error() string { return e.err.Error() }
func (e *abortError) Unwrap() error { return e.err }

// Abort ends a transaction without committing. RunTransaction hands err back
// unwrapped so domain outcomes such as an exhausted quota do not read as
// storage failures.
func Abort(err error) error {
	if err == nil {
		return nil
	}
	return &abortError{err: err}
}

// RunTransaction executes fn on client under policy.
func RunTransaction(ctx context.Context, client *firestore.Client, policy TxPolicy, fn TxFunc) error {
	if client == nil {
		return WrapError("transaction", errors.New("firestore: client is nil"))
	}
	if fn == nil {
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}
	policy = policy.withDefaults()

	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > policy.Timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
	}

	err := client.RunTransaction(ctx, fn, firestore.MaxAttempts(policy.MaxAttempts))
	var aborted *abortError
	if errors.As(err, &aborted) {
		return aborted.err
	}
	return WrapError("transaction", err)
}

// Mutate reads document id inside a transaction, lets apply edit it and
// writes the result back. A missing document starts from initial with
// exists set to false. When apply fails nothing is written and its error is
// returned as is.
func (r *BaseRepository[T]) Mutate(ctx context.Context, id string, policy TxPolicy, initial T, apply func(value *T, exists bool) error) (T, error) {
	var zero T
	if apply == nil {
		return zero, WrapError(r.op("mutate"), errors.New("firestore: mutate function is nil"))
	}
	ref, err := r.documentRef(ctx, id)
	if err != nil {
		return zero, err
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return zero, err
	}

	var written T
	err = RunTransaction(ctx, client, policy, func(ctx context.Context, tx *firestore.Transaction) error {
		value, exists := initial, false
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			doc, err := r.Decode(ctx, snap)
			if err != nil {
				return err
			}
			value, exists = doc.Data, true
		case status.Code(err) != codes.NotFound:
			return err
		}

		if err := apply(&value, exists); err != nil {
			return Abort(err)
		}
		encoded, err := r.Encode(ctx, value)
		if err != nil {
			return err
		}
		if err := tx.Set(ref, encoded); err != nil {
			return err
		}
		written = value
		return nil
	})
	if err != nil {
		return zero, err
	}
	return written, nil
}
