package store

import (
	"context"
	stdErrors "errors"
	"time"

	leaseerrors "github.com/mirkobrombin/go-lease/v1/errors"
)

// ErrDuplicate is returned by TryLock when the backend rejected the write with
// a uniqueness violation, which happens when two inserts for one name race.
var ErrDuplicate = stdErrors.New("store: duplicate lock record")

// Record is the persisted state of a named lease.
type Record struct {
	Name      string
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the record no longer protects its name at now.
func (r Record) Expired(now time.Time) bool {
	return r.ExpiresAt.Before(now)
}

// Store abstracts the shared, strongly consistent storage that coordinates
// lease holders. Every method must be a single atomic operation on the backend.
type Store interface {
	// TryLock inserts the record for name, or takes over an existing one whose
	// ExpiresAt is before now. The boolean is false when a live record
	// exists; a uniqueness conflict is reported as ErrDuplicate.
	TryLock(ctx context.Context, name string, expiresAt, now time.Time) (Record, bool, error)
	// Relock moves ExpiresAt forward only if the stored ExpiresAt equals
	// expected. The boolean is false when no record matches.
	Relock(ctx context.Context, name string, expected, expiresAt, now time.Time) (Record, bool, error)
	// Delete removes the record for name. A missing record is not an error.
	Delete(ctx context.Context, name string) error
}

// Getter is implemented by stores able to read a record back. Expired records
// that have not been collected yet are returned as-is.
type Getter interface {
	Get(ctx context.Context, name string) (Record, bool, error)
}

// Millis truncates t to the millisecond precision kept by every backend.
func Millis(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli())
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return leaseerrors.ErrTimeout
		}
		return err
	}
	return nil
}

func mapDeadline(err error) error {
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return leaseerrors.ErrTimeout
	}
	return err
}
