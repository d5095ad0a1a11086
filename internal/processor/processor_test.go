package processor

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ilindan-dev/notifyforge/internal/domain/model"
	"github.com/stretchr/testify/assert"
)

func TestComputeBackoff_GrowsExponentiallyThenCaps(t *testing.T) {
	cases := []struct {
		retries int
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{4, 60 * time.Second}, // 80s would exceed the cap
		{10, 60 * time.Second},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, computeBackoff(c.retries))
	}
}

func TestNotificationFromEvent_CopiesAllFields(t *testing.T) {
	event := &model.ChannelEvent{
		NotificationID: uuid.New(),
		RequestID:      uuid.New(),
		ClientID:       "client-1",
		Channel:        "email",
		Recipient:      map[string]string{"to": "user@example.com"},
		Content:        map[string]string{"subject": "hi", "body": "hello"},
		Variables:      map[string]string{"name": "Ada"},
		WebhookURL:     "https://example.com/webhook",
		RetryCount:     2,
		CreatedAt:      time.Now().UTC(),
	}

	n := notificationFromEvent(event)

	assert.Equal(t, event.NotificationID, n.NotificationID)
	assert.Equal(t, event.RequestID, n.RequestID)
	assert.Equal(t, event.ClientID, n.ClientID)
	assert.Equal(t, event.Channel, n.Channel)
	assert.Equal(t, event.Recipient, n.Recipient)
	assert.Equal(t, event.Content, n.Content)
	assert.Equal(t, event.Variables, n.Variables)
	assert.Equal(t, event.WebhookURL, n.WebhookURL)
	assert.Equal(t, event.RetryCount, n.RetryCount)
	assert.Equal(t, model.StatusProcessing, n.Status)
}
