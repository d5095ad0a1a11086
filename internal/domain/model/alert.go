package model

import (
	"time"

	"github.com/google/uuid"
)

// AlertType names the kind of operator-facing reconciliation finding.
type AlertType string

const (
	AlertStuckProcessing AlertType = "stuck_processing"
	AlertGhostDelivery   AlertType = "ghost_delivery"
	AlertOrphanedPending AlertType = "orphaned_pending"
	AlertRecoveryError   AlertType = "recovery_error"
)

// AlertSeverity ranks how urgently an alert needs operator attention.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is a durable operator artifact raised by the recovery cron.
type Alert struct {
	AlertID                    uuid.UUID
	NotificationID             uuid.UUID
	AlertType                  AlertType
	Severity                   AlertSeverity
	Reason                     string
	ObservedCoordinationStatus string
	ObservedStoreStatus        string
	RetryCount                 int
	Resolved                   bool
	ResolvedAt                 *time.Time
	CreatedAt                  time.Time
	UpdatedAt                  time.Time
}

// NewAlert builds an unresolved Alert ready for an upsert keyed by
// (NotificationID, AlertType).
func NewAlert(notificationID uuid.UUID, alertType AlertType, severity AlertSeverity, reason, observedCoordination, observedStore string, retryCount int) *Alert {
	now := time.Now().UTC()
	return &Alert{
		AlertID:                    uuid.New(),
		NotificationID:             notificationID,
		AlertType:                  alertType,
		Severity:                   severity,
		Reason:                     reason,
		ObservedCoordinationStatus: observedCoordination,
		ObservedStoreStatus:        observedStore,
		RetryCount:                 retryCount,
		Resolved:                   false,
		CreatedAt:                  now,
		UpdatedAt:                  now,
	}
}
