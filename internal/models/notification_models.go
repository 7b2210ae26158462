package models

import "time"

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is a fire-and-forget message for administrators
type Notification struct {
	ID            string    `json:"id" bson:"_id"`
	Severity      Severity  `json:"severity" bson:"severity"`
	Title         string    `json:"title" bson:"title"`
	Detail        string    `json:"detail" bson:"detail"`
	AccountID     string    `json:"account_id,omitempty" bson:"account_id,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty" bson:"transaction_id,omitempty"`
	CreatedAt     time.Time `json:"created_at" bson:"created_at"`
	ProcessedAt   time.Time `json:"processed_at,omitempty" bson:"processed_at,omitempty"`
}
