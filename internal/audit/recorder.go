package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"driver-auth-service/internal/client"
	"driver-auth-service/internal/models"
	"driver-auth-service/internal/util"
)

const insertQuery = `
    INSERT INTO otp_audit_events
        (event_id, flow, outcome, phone_hash, session_ref, ip, user_agent, occurred_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// Recorder writes the OTP forensic trail to ClickHouse. Writes are
// best-effort and asynchronous: an unavailable audit store never fails or
// slows a client request.
type Recorder struct {
	clickhouse *client.ClickHouseClient
}

func NewRecorder(clickhouse *client.ClickHouseClient) *Recorder {
	return &Recorder{clickhouse: clickhouse}
}

// Record fires the insert on its own goroutine with a detached context.
func (r *Recorder) Record(event *models.AuditEvent) {
	if r == nil || r.clickhouse == nil {
		return
	}

	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	go func(ev models.AuditEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := r.clickhouse.Exec(ctx, insertQuery,
			ev.EventID,
			ev.Flow,
			ev.Outcome,
			ev.PhoneHash,
			ev.SessionRef,
			ev.IP,
			ev.UserAgent,
			ev.OccurredAt,
		)
		if err != nil {
			util.Warn("Failed to write audit event",
				zap.String("flow", ev.Flow),
				zap.String("outcome", ev.Outcome),
				zap.Error(err))
		}
	}(*event)
}
