package orchestrator

import (
	"context"

	"flatman-go/internal/model"
	"flatman-go/internal/notify"
)

// BuildLogger appends entries to a build's durable log stream and mirrors
// them to live subscribers. Persistence failures are logged and swallowed;
// a lost log line must never fail the attempt it narrates.
type BuildLogger struct {
	store    Store
	notifier Notifier
	logger   Logger
	clock    Clock
}

func NewBuildLogger(store Store, notifier Notifier, logger Logger, clock Clock) *BuildLogger {
	if clock == nil {
		clock = RealClock{}
	}
	return &BuildLogger{store: store, notifier: notifier, logger: logger, clock: clock}
}

func (l *BuildLogger) Info(ctx context.Context, packageID, buildID, message string) {
	l.append(ctx, packageID, buildID, model.LogInfo, message)
}

func (l *BuildLogger) Warning(ctx context.Context, packageID, buildID, message string) {
	l.append(ctx, packageID, buildID, model.LogWarning, message)
}

func (l *BuildLogger) Error(ctx context.Context, packageID, buildID, message string) {
	l.append(ctx, packageID, buildID, model.LogError, message)
}

func (l *BuildLogger) append(ctx context.Context, packageID, buildID, level, message string) {
	entry := &model.LogEntry{
		BuildID:   buildID,
		Level:     level,
		Message:   message,
		CreatedAt: l.clock.Now().UTC(),
	}
	if err := l.store.AppendLog(ctx, entry); err != nil {
		l.logger.Error("failed to persist build log entry",
			"build_id", buildID, "message", message, "error", err)
	}

	event := notify.Event{
		Kind:      notify.KindLog,
		PackageID: packageID,
		BuildID:   buildID,
		Level:     level,
		Message:   message,
		Timestamp: entry.CreatedAt,
	}
	l.notifier.Publish(notify.TopicPackage(packageID), event)
	l.notifier.Publish(notify.TopicAll, event)
}
