package query

import (
	"context"
	"strings"

	"github.com/goliatone/go-gatekeeper/core"
)

type EnrollmentReader interface {
	GetEnrollment(ctx context.Context, userID string, courseID string) (core.Enrollment, error)
}

type FlaggedEventReader interface {
	ListFlagged(ctx context.Context, limit int) ([]core.PaymentEventRecord, error)
}

type GetEnrollmentQuery struct {
	reader EnrollmentReader
}

func NewGetEnrollmentQuery(reader EnrollmentReader) *GetEnrollmentQuery {
	return &GetEnrollmentQuery{reader: reader}
}

func (q *GetEnrollmentQuery) Query(ctx context.Context, msg GetEnrollmentMessage) (core.Enrollment, error) {
	if q == nil || q.reader == nil {
		return core.Enrollment{}, queryDependencyError("query: enrollment reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.Enrollment{}, err
	}
	return q.reader.GetEnrollment(ctx, strings.TrimSpace(msg.UserID), strings.TrimSpace(msg.CourseID))
}

type ListFlaggedEventsQuery struct {
	reader FlaggedEventReader
}

func NewListFlaggedEventsQuery(reader FlaggedEventReader) *ListFlaggedEventsQuery {
	return &ListFlaggedEventsQuery{reader: reader}
}

func (q *ListFlaggedEventsQuery) Query(ctx context.Context, msg ListFlaggedEventsMessage) ([]core.PaymentEventRecord, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: payment event reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.reader.ListFlagged(ctx, msg.limit())
}
