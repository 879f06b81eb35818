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
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type IdentityStore struct {
	db   *bun.DB
	repo repository.Repository[*identityRecord]
	now  func() time.Time
}

func NewIdentityStore(db *bun.DB) (*IdentityStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*identityRecord](db, identityHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid identity repository wiring: %w", err)
		}
	}
	return &IdentityStore{db: db, repo: repo, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *IdentityStore) GetBySubject(ctx context.Context, subject string) (core.LocalIdentity, error) {
	if s == nil || s.db == nil {
		return core.LocalIdentity{}, fmt.Errorf("sqlstore: identity store is not configured")
	}
	record := &identityRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.external_subject = ?", strings.TrimSpace(subject)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.LocalIdentity{}, fmt.Errorf("sqlstore: subject %q: %w", subject, core.ErrIdentityNotFound)
		}
		return core.LocalIdentity{}, err
	}
	return record.toDomain(), nil
}

func (s *IdentityStore) GetByID(ctx context.Context, id string) (core.LocalIdentity, error) {
	if s == nil || s.db == nil {
		return core.LocalIdentity{}, fmt.Errorf("sqlstore: identity store is not configured")
	}
	record, err := selectIdentityByID(ctx, s.db, id)
	if err != nil {
		return core.LocalIdentity{}, err
	}
	return record.toDomain(), nil
}

// Create inserts a new identity. A concurrent insert for the same subject
// surfaces as core.ErrIdentityConflict so the resolver can re-read.
func (s *IdentityStore) Create(ctx context.Context, in core.CreateIdentityInput) (core.LocalIdentity, error) {
	if s == nil || s.repo == nil {
		return core.LocalIdentity{}, fmt.Errorf("sqlstore: identity store is not configured")
	}
	subject := strings.TrimSpace(in.ExternalSubject)
	if subject == "" {
		return core.LocalIdentity{}, fmt.Errorf("sqlstore: external subject is required")
	}
	now := s.now()
	record := &identityRecord{
		ID:              uuid.NewString(),
		ExternalSubject: subject,
		Email:           strings.TrimSpace(in.Email),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		if isUniqueViolation(err) {
			return core.LocalIdentity{}, fmt.Errorf("sqlstore: subject %q: %w", subject, core.ErrIdentityConflict)
		}
		return core.LocalIdentity{}, err
	}
	return created.toDomain(), nil
}

func (s *IdentityStore) UpdateEmail(ctx context.Context, id string, email string) (core.LocalIdentity, error) {
	if s == nil || s.repo == nil {
		return core.LocalIdentity{}, fmt.Errorf("sqlstore: identity store is not configured")
	}
	current, err := selectIdentityByID(ctx, s.db, id)
	if err != nil {
		return core.LocalIdentity{}, err
	}
	current.Email = strings.TrimSpace(email)
	current.UpdatedAt = s.now()
	updated, err := s.repo.Update(ctx, current, repository.UpdateByID(current.ID))
	if err != nil {
		return core.LocalIdentity{}, err
	}
	return updated.toDomain(), nil
}

func selectIdentityByID(ctx context.Context, db bun.IDB, id string) (*identityRecord, error) {
	record := &identityRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sqlstore: identity %q: %w", id, core.ErrIdentityNotFound)
		}
		return nil, err
	}
	return record, nil
}

func (r *identityRecord) toDomain() core.LocalIdentity {
	if r == nil {
		return core.LocalIdentity{}
	}
	return core.LocalIdentity{
		ID:              r.ID,
		ExternalSubject: r.ExternalSubject,
		Email:           r.Email,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}
