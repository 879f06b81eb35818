package query

import "strings"

const (
	TypeGetEnrollment     = "gatekeeper.query.enrollment.get"
	TypeListFlaggedEvents = "gatekeeper.query.payment_events.flagged"

	DefaultFlaggedLimit = 50
	MaxFlaggedLimit     = 500
)

type GetEnrollmentMessage struct {
	UserID   string
	CourseID string
}

func (GetEnrollmentMessage) Type() string { return TypeGetEnrollment }

func (m GetEnrollmentMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return queryValidationError("user_id", "user id is required")
	}
	if strings.TrimSpace(m.CourseID) == "" {
		return queryValidationError("course_id", "course id is required")
	}
	return nil
}

// ListFlaggedEventsMessage lists payment events awaiting operator review.
// A zero Limit selects DefaultFlaggedLimit.
type ListFlaggedEventsMessage struct {
	Limit int
}

func (ListFlaggedEventsMessage) Type() string { return TypeListFlaggedEvents }

func (m ListFlaggedEventsMessage) Validate() error {
	if m.Limit < 0 || m.Limit > MaxFlaggedLimit {
		return queryValidationError("limit", "limit must be between 0 and 500")
	}
	return nil
}

func (m ListFlaggedEventsMessage) limit() int {
	if m.Limit <= 0 {
		return DefaultFlaggedLimit
	}
	return m.Limit
}
