package broker

import (
	"encoding/json"
	"time"

	"github.com/Dan9191/ledger-service/internal/models"
)

// Message types published to the notification exchange
const (
	TypeMonthlyReport = "monthly_report"
	TypeBudgetAlert   = "budget_alert"
)

// NotificationMessage is the envelope consumers receive. Payload is a
// models.MonthlyReport or a models.BudgetAlert depending on Type.
type NotificationMessage struct {
	Type      string          `json:"type"`
	UserID    string          `json:"user_id"`
	Email     string          `json:"email"`
	Username  string          `json:"username"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewNotificationMessage wraps payload for user
func NewNotificationMessage(typ string, user models.User, payload any) (*NotificationMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &NotificationMessage{
		Type:      typ,
		UserID:    user.ID,
		Email:     user.Email,
		Username:  user.Username,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// ToJSON converts the message to JSON bytes
func (m *NotificationMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// NotificationMessageFromJSON creates a message from JSON bytes
func NotificationMessageFromJSON(data []byte) (*NotificationMessage, error) {
	var msg NotificationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
