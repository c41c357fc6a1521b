// Package notify stores in-app notifications and delivers them by email
// through a queue.
package notify

import (
	"errors"
	"time"
)

type Type string

const (
	TypeAppointmentReminder Type = "appointment_reminder"
	TypeMessageAlert        Type = "message_alert"
	TypeDocumentUploaded    Type = "document_uploaded"
	TypeSystemAlert         Type = "system_alert"
	TypeHealthStatusChange  Type = "health_status_change"
)

// DeliveryStatus tracks email delivery of a notification.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

var ErrNotificationNotFound = errors.New("notify: notification not found")

// Notification is one row of the notifications table.
type Notification struct {
	ID              string         `json:"id"`
	UserID          string         `json:"userId"`
	Type            Type           `json:"type"`
	Title           string         `json:"title"`
	Message         string         `json:"message"`
	IsRead          bool           `json:"isRead"`
	ReadAt          *time.Time     `json:"readAt,omitempty"`
	ScheduledFor    time.Time      `json:"scheduledFor"`
	SentAt          *time.Time     `json:"sentAt,omitempty"`
	DeliveryStatus  DeliveryStatus `json:"deliveryStatus"`
	Attempts        int            `json:"-"`
	LastError       string         `json:"-"`
	RelatedEntityID string         `json:"relatedEntityId,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// Request describes a notification to create. A zero ScheduledFor means now.
type Request struct {
	UserID          string
	Type            Type
	Title           string
	Message         string
	ScheduledFor    time.Time
	RelatedEntityID string
}
