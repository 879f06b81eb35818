package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-gatekeeper/core"
)

var (
	_ gocmd.Querier[GetEnrollmentMessage, core.Enrollment]               = (*GetEnrollmentQuery)(nil)
	_ gocmd.Querier[ListFlaggedEventsMessage, []core.PaymentEventRecord] = (*ListFlaggedEventsQuery)(nil)
)
