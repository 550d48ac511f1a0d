package mcp

import (
	"context"
	"encoding/json"
)

type progressKey struct{}

type progressSink struct {
	notifier Notifier
	token    json.RawMessage
}

func withProgress(ctx context.Context, n Notifier, token json.RawMessage) context.Context {
	return context.WithValue(ctx, progressKey{}, progressSink{notifier: n, token: token})
}

type progressParams struct {
	ProgressToken json.RawMessage `json:"progressToken"`
	Progress      float64         `json:"progress"`
	Total         float64         `json:"total,omitempty"`
	Message       string          `json:"message,omitempty"`
}

// ReportProgress sends notifications/progress for the tool call running
// under ctx. It does nothing when the client asked for no progress.
func ReportProgress(ctx context.Context, progress, total float64, message string) {
	sink, ok := ctx.Value(progressKey{}).(progressSink)
	if !ok {
		return
	}
	_ = sink.notifier.Notify("notifications/progress", progressParams{
		ProgressToken: sink.token,
		Progress:      progress,
		Total:         total,
		Message:       message,
	})
}
