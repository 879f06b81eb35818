package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/goliatone/go-gatekeeper/core"
)

// memoryStore serializes transactions and commits a staged copy of its maps
// only when the callback returns nil.
type memoryStore struct {
	mu          sync.Mutex
	users       map[string]core.UserRef
	courses     map[string]core.CourseRef
	enrollments map[string]core.Enrollment
	records     map[string]core.FulfillmentRecord
	nextID      int
	failInsert  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:       map[string]core.UserRef{},
		courses:     map[string]core.CourseRef{},
		enrollments: map[string]core.Enrollment{},
		records:     map[string]core.FulfillmentRecord{},
	}
}

func (s *memoryStore) GetFulfillment(_ context.Context, eventID string) (core.FulfillmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[eventID]
	if !ok {
		return core.FulfillmentRecord{}, core.ErrFulfillmentNotFound
	}
	return record, nil
}

func (s *memoryStore) WithinTx(ctx context.Context, fn func(context.Context, core.FulfillmentTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memoryTx{
		store:       s,
		enrollments: maps.Clone(s.enrollments),
		records:     maps.Clone(s.records),
		nextID:      s.nextID,
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.enrollments = tx.enrollments
	s.records = tx.records
	s.nextID = tx.nextID
	return nil
}

func (s *memoryStore) enrollment(userID, courseID string) (core.Enrollment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	enrollment, ok := s.enrollments[userID+"/"+courseID]
	return enrollment, ok
}

func (s *memoryStore) recordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type memoryTx struct {
	store       *memoryStore
	enrollments map[string]core.Enrollment
	records     map[string]core.FulfillmentRecord
	nextID      int
}

func (tx *memoryTx) LookupUser(_ context.Context, id string) (core.UserRef, error) {
	user, ok := tx.store.users[id]
	if !ok {
		return core.UserRef{}, fmt.Errorf("lookup user %s: %w", id, core.ErrUserNotFound)
	}
	return user, nil
}

func (tx *memoryTx) LookupCourse(_ context.Context, id string) (core.CourseRef, error) {
	course, ok := tx.store.courses[id]
	if !ok {
		return core.CourseRef{}, fmt.Errorf("lookup course %s: %w", id, core.ErrCourseNotFound)
	}
	return course, nil
}

func (tx *memoryTx) GetEnrollment(_ context.Context, userID, courseID string) (core.Enrollment, error) {
	enrollment, ok := tx.enrollments[userID+"/"+courseID]
	if !ok {
		return core.Enrollment{}, core.ErrEnrollmentNotFound
	}
	return enrollment, nil
}

func (tx *memoryTx) CreateEnrollment(_ context.Context, enrollment core.Enrollment) (core.Enrollment, error) {
	key := enrollment.UserID + "/" + enrollment.CourseID
	if _, exists := tx.enrollments[key]; exists {
		return core.Enrollment{}, core.ErrEnrollmentConflict
	}
	tx.nextID++
	enrollment.ID = fmt.Sprintf("enr-%d", tx.nextID)
	tx.enrollments[key] = enrollment
	return enrollment, nil
}

func (tx *memoryTx) UpdateEnrollmentStatus(_ context.Context, id string, from, to core.PaymentStatus, reference string) (core.Enrollment, error) {
	for key, enrollment := range tx.enrollments {
		if enrollment.ID != id {
			continue
		}
		if enrollment.PaymentStatus != from {
			return core.Enrollment{}, core.ErrEnrollmentConflict
		}
		enrollment.PaymentStatus = to
		if reference != "" {
			enrollment.PaymentReference = reference
		}
		tx.enrollments[key] = enrollment
		return enrollment, nil
	}
	return core.Enrollment{}, core.ErrEnrollmentNotFound
}

func (tx *memoryTx) InsertFulfillment(_ context.Context, record core.FulfillmentRecord) error {
	if tx.store.failInsert != nil {
		return tx.store.failInsert
	}
	if _, exists := tx.records[record.EventID]; exists {
		return fmt.Errorf("insert fulfillment %s: %w", record.EventID, core.ErrDuplicateFulfillment)
	}
	tx.records[record.EventID] = record
	return nil
}

var errInjected = errors.New("injected failure")
