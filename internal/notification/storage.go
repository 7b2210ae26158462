package notification

import (
	"context"
	"errors"

	"gw-ledger/internal/models"
)

var ErrNotificationNotFound = errors.New("notification not found")

// ListFilter narrows an archive listing. Zero fields match everything.
type ListFilter struct {
	AccountID string
	Severity  models.Severity
	Limit     int64
}

// Storage archives delivered notifications. Saving the same id twice is not
// an error.
type Storage interface {
	SaveNotification(ctx context.Context, n *models.Notification) error
	GetNotification(ctx context.Context, id string) (*models.Notification, error)
	// ListNotifications returns matching notifications, newest first.
	ListNotifications(ctx context.Context, filter ListFilter) ([]models.Notification, error)
	Close() error
}
