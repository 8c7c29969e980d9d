package model

import (
	"strings"
	"time"
)

// EventType represents the inbound NATS event kinds this service consumes.
type EventType string

const (
	V1MessagesUpsert  EventType = "v1.messages.upsert"
	V1LeadsEnrichment EventType = "v1.leads.enrichment"
)

// MapToBaseEventType maps a subject such as "v1.messages.upsert.acme" back to its base EventType.
// It returns false when the subject matches no known type.
func MapToBaseEventType(input string) (EventType, bool) {
	switch EventType(input) {
	case V1MessagesUpsert, V1LeadsEnrichment:
		return EventType(input), true
	}

	lastDotIndex := strings.LastIndex(input, ".")
	if lastDotIndex <= 0 {
		return "", false
	}

	switch base := EventType(input[:lastDotIndex]); base {
	case V1MessagesUpsert, V1LeadsEnrichment:
		return base, true
	default:
		return "", false
	}
}

// GetVersion extracts the version from an event type, e.g. "v1". It returns "" when unversioned.
func (e EventType) GetVersion() string {
	parts := strings.SplitN(string(e), ".", 2)
	if len(parts) < 2 {
		return ""
	}
	if len(parts[0]) >= 2 && parts[0][0] == 'v' {
		return parts[0]
	}
	return ""
}

// GetBaseType returns the event type without the version prefix.
// For example: "v1.messages.upsert" -> "messages.upsert"
func (e EventType) GetBaseType() EventType {
	version := e.GetVersion()
	if version == "" {
		return e
	}
	return EventType(strings.TrimPrefix(string(e), version+"."))
}

// MessageMetadata carries the JetStream delivery details of an inbound message.
type MessageMetadata struct {
	ConsumerSequence uint64
	StreamSequence   uint64
	NumDelivered     uint64
	NumPending       uint64
	Timestamp        time.Time
	Stream           string
	Consumer         string
	Domain           string
	MessageID        string
	MessageSubject   string
	CompanyID        string
}
