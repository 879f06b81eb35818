package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func identityHandlers() repository.ModelHandlers[*identityRecord] {
	return repository.ModelHandlers[*identityRecord]{
		NewRecord: func() *identityRecord {
			return &identityRecord{}
		},
		GetID: func(record *identityRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *identityRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "external_subject"
		},
		GetIdentifierValue: func(record *identityRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ExternalSubject)
		},
	}
}

func courseHandlers() repository.ModelHandlers[*courseRecord] {
	return repository.ModelHandlers[*courseRecord]{
		NewRecord: func() *courseRecord {
			return &courseRecord{}
		},
		GetID: func(record *courseRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *courseRecord, id uuid.UUID) {
			if record == nil || strings.TrimSpace(record.ID) != "" {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *courseRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func paymentEventHandlers() repository.ModelHandlers[*paymentEventRecord] {
	return repository.ModelHandlers[*paymentEventRecord]{
		NewRecord: func() *paymentEventRecord {
			return &paymentEventRecord{}
		},
		GetID: func(record *paymentEventRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *paymentEventRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "event_id"
		},
		GetIdentifierValue: func(record *paymentEventRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.EventID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint") ||
		strings.Contains(message, "duplicate key value") ||
		strings.Contains(message, "constraint failed: unique")
}
