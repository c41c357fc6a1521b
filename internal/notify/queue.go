package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Queue carries delivery jobs from the dispatcher to the mailer.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type QueueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// DeliveryJob is the queue payload for one notification email.
type DeliveryJob struct {
	JobID          string `json:"job_id"`
	NotificationID string `json:"notification_id"`
	UserID         string `json:"user_id"`
	Type           Type   `json:"type"`
	Title          string `json:"title"`
	Message        string `json:"message"`
}

func newDeliveryJob(n Notification) DeliveryJob {
	return DeliveryJob{
		JobID:          uuid.NewString(),
		NotificationID: n.ID,
		UserID:         n.UserID,
		Type:           n.Type,
		Title:          n.Title,
		Message:        n.Message,
	}
}

func encodeJob(job DeliveryJob) (string, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("notify: encode job: %w", err)
	}
	return string(body), nil
}

func decodeJob(body string) (DeliveryJob, error) {
	var job DeliveryJob
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return DeliveryJob{}, fmt.Errorf("notify: decode job: %w", err)
	}
	if job.NotificationID == "" || job.UserID == "" {
		return DeliveryJob{}, fmt.Errorf("notify: job missing notification or user id")
	}
	return job, nil
}
