package notify

import (
	"context"

	"algo-trading-engine/internal/interfaces"
	"algo-trading-engine/internal/logger"
	"algo-trading-engine/internal/runlog"
)

// Log writes events to the structured log and the daily events file.
// It is the default notifier when no external channel is configured.
type Log struct {
	RunID string
}

var _ interfaces.Notifier = (*Log)(nil)

func NewLog(runID string) *Log { return &Log{RunID: runID} }

func (n *Log) Notify(ctx context.Context, event string, payload map[string]any) {
	fields := make([]any, 0, len(payload)*2)
	for k, v := range payload {
		fields = append(fields, k, v)
	}
	logger.Info(ctx, "Notification: "+event, fields...)
	_ = runlog.AppendEvent(runlog.EventEntry{
		RunID: n.RunID,
		Kind:  event,
		Extra: payload,
	})
}
