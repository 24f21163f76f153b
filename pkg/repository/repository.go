package repository

import (
	"context"
	"errors"

	"habitcore/pkg/db/option"

	"gorm.io/gorm"
)

// Repository is the generic gorm-backed store every service builds on.
// FindOne returns (nil, nil) when nothing matches.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
	Update(ctx context.Context, resourceID string, resource any) error
	BatchCreate(ctx context.Context, resources []*T) error
}

type store[T any] struct {
	db *gorm.DB
}

func ProvideStore[T any](db *gorm.DB) Repository[T] {
	return &store[T]{db: db}
}

func (s *store[T]) WithTrx(tx *gorm.DB) Repository[T] {
	if tx == nil {
		return s
	}
	return &store[T]{db: tx}
}

func (s *store[T]) query(ctx context.Context, query *T, opts []option.QueryOption) *gorm.DB {
	q := s.db.WithContext(ctx).Model(new(T))
	if query != nil {
		q = q.Where(query)
	}
	for _, opt := range opts {
		q = opt(q)
	}
	return q
}

func (s *store[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	if s.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var out []*T
	if err := s.query(ctx, query, opts).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *store[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	if s.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var out T
	err := s.query(ctx, query, opts).Limit(1).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *store[T]) Create(ctx context.Context, resource *T) error {
	if s.db == nil {
		return gorm.ErrInvalidDB
	}
	return s.db.WithContext(ctx).Create(resource).Error
}

// Update applies a partial update to the row with the given id. resource may be
// a struct (zero fields skipped) or a map of column values.
func (s *store[T]) Update(ctx context.Context, resourceID string, resource any) error {
	if s.db == nil {
		return gorm.ErrInvalidDB
	}

	if m, ok := resource.(*map[string]any); ok {
		resource = *m
	}

	res := s.db.WithContext(ctx).Model(new(T)).Where("id = ?", resourceID).Updates(resource)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *store[T]) BatchCreate(ctx context.Context, resources []*T) error {
	if s.db == nil {
		return gorm.ErrInvalidDB
	}
	if len(resources) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(resources, 100).Error
}
