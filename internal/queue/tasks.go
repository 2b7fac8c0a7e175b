package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/pixelcache/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeWarmImage = "image:warm"

type WarmImagePayload struct {
	Image       string           `json:"image"`
	Variants    []domain.Variant `json:"variants"`
	WebhookURL  string           `json:"webhook_url,omitempty"`
	RequestID   string           `json:"request_id,omitempty"`
	RequestedAt time.Time        `json:"requested_at"`
}

func NewWarmImageTask(payload WarmImagePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal warm payload: %w", err)
	}
	return asynq.NewTask(TypeWarmImage, body), nil
}

func ParseWarmImagePayload(task *asynq.Task) (WarmImagePayload, error) {
	var payload WarmImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return WarmImagePayload{}, fmt.Errorf("%w: unmarshal warm payload: %v", domain.ErrInvalidParameter, err)
	}
	if payload.Image == "" {
		return WarmImagePayload{}, fmt.Errorf("%w: warm payload has no image", domain.ErrInvalidParameter)
	}
	if err := (domain.WarmRequest{Variants: payload.Variants}).Validate(); err != nil {
		return WarmImagePayload{}, err
	}
	return payload, nil
}
