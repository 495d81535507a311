package notify

import (
	"context"
	"log/slog"
)

// LogSink writes events to the structured log. It is the fallback sink for
// deployments without a broker.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Deliver(ctx context.Context, event Event) error {
	s.logger.InfoContext(ctx, "identity event",
		"kind", event.Kind,
		"customer_id", event.CustomerID,
		"master_customer_id", event.MasterCustomerID,
		"child_customer_id", event.ChildCustomerID,
		"rule_code", event.RuleCode,
		"author_type", event.AuthorType,
		"author_name", event.AuthorName,
	)
	return nil
}
