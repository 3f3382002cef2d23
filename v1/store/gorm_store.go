package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultGormTableName = "locks"
	defaultGormOpTimeout = 5 * time.Second
)

// gormLock is the row used to store a lease. Timestamps are unix milliseconds
// so that fencing compares integers on every SQL dialect.
type gormLock struct {
	Name      string `gorm:"primaryKey;size:255;column:name"`
	ExpiresAt int64  `gorm:"not null;index;column:expires_at"`
	CreatedAt int64  `gorm:"not null;autoCreateTime:false;column:created_at"`
	UpdatedAt int64  `gorm:"not null;autoUpdateTime:false;column:updated_at"`
}

func (r gormLock) record() Record {
	return Record{
		Name:      r.Name,
		ExpiresAt: time.UnixMilli(r.ExpiresAt),
		CreatedAt: time.UnixMilli(r.CreatedAt),
		UpdatedAt: time.UnixMilli(r.UpdatedAt),
	}
}

// GormStore implements Store on top of a SQL database reachable through GORM.
// The conditional upsert relies on INSERT ... ON CONFLICT ... DO UPDATE ...
// WHERE, available on PostgreSQL and SQLite.
type GormStore struct {
	db        *gorm.DB
	tableName string
	timeout   time.Duration
}

// GormOption configures a GormStore.
type GormOption func(*gormStoreOptions)

type gormStoreOptions struct {
	tableName string
	timeout   time.Duration
}

// WithGormTableName sets the table name for the GormStore.
func WithGormTableName(name string) GormOption {
	return func(o *gormStoreOptions) {
		o.tableName = name
	}
}

// WithGormTimeout sets the operation timeout for GORM calls.
func WithGormTimeout(d time.Duration) GormOption {
	return func(o *gormStoreOptions) {
		o.timeout = d
	}
}

// NewGormStore returns a new GormStore and migrates its table.
func NewGormStore(db *gorm.DB, opts ...GormOption) (*GormStore, error) {
	o := gormStoreOptions{
		tableName: defaultGormTableName,
		timeout:   defaultGormOpTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := db.Table(o.tableName).AutoMigrate(&gormLock{}); err != nil {
		return nil, err
	}

	return &GormStore{
		db:        db,
		tableName: o.tableName,
		timeout:   o.timeout,
	}, nil
}

// TryLock implements Store.TryLock.
func (s *GormStore) TryLock(ctx context.Context, name string, expiresAt, now time.Time) (Record, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return Record{}, false, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	nowMS := now.UnixMilli()
	row := gormLock{Name: name, ExpiresAt: expiresAt.UnixMilli(), CreatedAt: nowMS, UpdatedAt: nowMS}
	acquired := false
	err := s.db.WithContext(cctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Table(s.tableName).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "name"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"expires_at": row.ExpiresAt,
				"updated_at": row.UpdatedAt,
			}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Lt{Column: clause.Column{Table: s.tableName, Name: "expires_at"}, Value: nowMS},
			}},
		}).Create(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		acquired = true
		return tx.Table(s.tableName).Where("name = ?", name).Take(&row).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return Record{}, false, ErrDuplicate
	}
	if err != nil {
		return Record{}, false, mapDeadline(err)
	}
	if !acquired {
		return Record{}, false, nil
	}
	return row.record(), true, nil
}

// Relock implements Store.Relock.
func (s *GormStore) Relock(ctx context.Context, name string, expected, expiresAt, now time.Time) (Record, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return Record{}, false, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var row gormLock
	updated := false
	err := s.db.WithContext(cctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Table(s.tableName).
			Where("name = ? AND expires_at = ?", name, expected.UnixMilli()).
			Updates(map[string]interface{}{
				"expires_at": expiresAt.UnixMilli(),
				"updated_at": now.UnixMilli(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		updated = true
		return tx.Table(s.tableName).Where("name = ?", name).Take(&row).Error
	})
	if err != nil {
		return Record{}, false, mapDeadline(err)
	}
	if !updated {
		return Record{}, false, nil
	}
	return row.record(), true, nil
}

// Delete implements Store.Delete.
func (s *GormStore) Delete(ctx context.Context, name string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.db.WithContext(cctx).Table(s.tableName).Where("name = ?", name).Delete(&gormLock{}).Error; err != nil {
		return mapDeadline(err)
	}
	return nil
}

// Get implements Getter.Get.
func (s *GormStore) Get(ctx context.Context, name string) (Record, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return Record{}, false, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var row gormLock
	err := s.db.WithContext(cctx).Table(s.tableName).Where("name = ?", name).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, mapDeadline(err)
	}
	return row.record(), true, nil
}

// Sweep deletes every record that expired before now and returns how many
// rows were removed. SQL has no native TTL, so this stands in for passive
// expiry.
func (s *GormStore) Sweep(ctx context.Context, now time.Time) (int64, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res := s.db.WithContext(cctx).Table(s.tableName).Where("expires_at < ?", now.UnixMilli()).Delete(&gormLock{})
	if res.Error != nil {
		return 0, mapDeadline(res.Error)
	}
	return res.RowsAffected, nil
}

// RunJanitor calls Sweep every interval until ctx is done.
func (s *GormStore) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.Sweep(ctx, time.Now())
		}
	}
}
