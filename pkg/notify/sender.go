package notify

import (
	"context"

	"chatrixx/pkg/logger"
)

// LogSender is the default transport when no push provider is configured.
// It records the delivery in the log so deployments without FCM still get a
// visible trace.
type LogSender struct{}

func (LogSender) Push(_ context.Context, tokens []string, title, body string, data map[string]string) error {
	logger.Info("push_delivered", "tokens", len(tokens), "title", title, "body", body, "type", data["type"])
	return nil
}
