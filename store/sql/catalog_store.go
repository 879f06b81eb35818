package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-gatekeeper/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// CatalogStore resolves users and courses referenced by payment events.
// Users are local identities; courses are owned by the course catalog and
// only read here, apart from UpsertCourse used for seeding.
type CatalogStore struct {
	db      *bun.DB
	courses repository.Repository[*courseRecord]
}

func NewCatalogStore(db *bun.DB) (*CatalogStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	courses := repository.NewRepository[*courseRecord](db, courseHandlers())
	if validator, ok := courses.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid course repository wiring: %w", err)
		}
	}
	return &CatalogStore{db: db, courses: courses}, nil
}

func (s *CatalogStore) LookupUser(ctx context.Context, userID string) (core.UserRef, error) {
	if s == nil || s.db == nil {
		return core.UserRef{}, fmt.Errorf("sqlstore: catalog store is not configured")
	}
	return lookupUser(ctx, s.db, userID)
}

func (s *CatalogStore) LookupCourse(ctx context.Context, courseID string) (core.CourseRef, error) {
	if s == nil || s.db == nil {
		return core.CourseRef{}, fmt.Errorf("sqlstore: catalog store is not configured")
	}
	return lookupCourse(ctx, s.db, courseID)
}

func (s *CatalogStore) UpsertCourse(ctx context.Context, course core.CourseRef) (core.CourseRef, error) {
	if s == nil || s.db == nil {
		return core.CourseRef{}, fmt.Errorf("sqlstore: catalog store is not configured")
	}
	id := strings.TrimSpace(course.ID)
	if id == "" {
		return core.CourseRef{}, fmt.Errorf("sqlstore: course id is required")
	}
	now := time.Now().UTC()
	record := &courseRecord{
		ID:         id,
		Title:      strings.TrimSpace(course.Title),
		PriceCents: course.PriceCents,
		Currency:   strings.ToLower(strings.TrimSpace(course.Currency)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (id) DO UPDATE").
		Set("title = EXCLUDED.title").
		Set("price_cents = EXCLUDED.price_cents").
		Set("currency = EXCLUDED.currency").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return core.CourseRef{}, err
	}
	return lookupCourse(ctx, s.db, id)
}

func (s *CatalogStore) ListCourses(ctx context.Context) ([]core.CourseRef, error) {
	if s == nil || s.courses == nil {
		return nil, fmt.Errorf("sqlstore: catalog store is not configured")
	}
	records, _, err := s.courses.List(ctx, repository.OrderBy("id ASC"))
	if err != nil {
		return nil, err
	}
	out := make([]core.CourseRef, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func lookupUser(ctx context.Context, db bun.IDB, userID string) (core.UserRef, error) {
	record, err := selectIdentityByID(ctx, db, userID)
	if err != nil {
		if errors.Is(err, core.ErrIdentityNotFound) {
			return core.UserRef{}, fmt.Errorf("sqlstore: user %q: %w", userID, core.ErrUserNotFound)
		}
		return core.UserRef{}, err
	}
	return core.UserRef{ID: record.ID, Email: record.Email}, nil
}

func lookupCourse(ctx context.Context, db bun.IDB, courseID string) (core.CourseRef, error) {
	record := &courseRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(courseID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.CourseRef{}, fmt.Errorf("sqlstore: course %q: %w", courseID, core.ErrCourseNotFound)
		}
		return core.CourseRef{}, err
	}
	return record.toDomain(), nil
}

func (r *courseRecord) toDomain() core.CourseRef {
	if r == nil {
		return core.CourseRef{}
	}
	return core.CourseRef{
		ID:         r.ID,
		Title:      r.Title,
		PriceCents: r.PriceCents,
		Currency:   r.Currency,
	}
}
