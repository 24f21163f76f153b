package option

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption mutates a query before it runs. Compatible with gorm Scopes.
type QueryOption func(*gorm.DB) *gorm.DB

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	// Allow whitelists sortable columns; SortBy outside it falls back to created_at.
	Allow map[string]bool
}

func WithSortBy(s QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		column := "created_at"
		if s.SortBy != "" && s.Allow[s.SortBy] {
			column = s.SortBy
		}

		desc := strings.EqualFold(s.OrderBy, "desc")
		return db.Order(clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: desc})
	}
}

// LockingUpdate adds SELECT ... FOR UPDATE on dialects that support it.
func LockingUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector != nil && db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
}

func WithLockingUpdate() QueryOption {
	return LockingUpdate
}

func WithLimit(limit int) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	}
}

type Operator string

const (
	EQ  Operator = "="
	GTE Operator = ">="
	LTE Operator = "<="
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

func ApplyOperator(conds ...Condition) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		for _, c := range conds {
			op := c.Operator
			if op == "" {
				op = EQ
			}
			db = db.Where(fmt.Sprintf("%s %s ?", c.Field, op), c.Value)
		}
		return db
	}
}

// WithPreload eager-loads an association.
func WithPreload(association string, args ...any) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Preload(association, args...)
	}
}
