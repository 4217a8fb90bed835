package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/matchbot/internal/service"
)

// Start subscribes the notification handlers right away and returns the
// background loop, which runs the reconciler until its context ends. A nil
// reconciler yields a loop that only waits.
func Start(logger *zap.Logger, notifications *service.NotificationService, reconciler *Reconciler) func(context.Context) error {
	if notifications != nil {
		notifications.RegisterHandlers()
		logger.Debug("notification handlers registered")
	}
	return func(ctx context.Context) error {
		if reconciler == nil {
			<-ctx.Done()
			return nil
		}
		return reconciler.Run(ctx)
	}
}
