package events

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/metior/internal/interfaces"
	"github.com/ternarybob/metior/internal/models"
)

// NewLoggerSubscriber builds a subscriber that logs every progress event and
// queue transition. Wired at startup so automation activity is visible in the
// service log even with no WebSocket clients connected.
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.ProgressSubscriber {
	return interfaces.ProgressSubscriber{
		OnProgress: func(ev models.ProgressEvent) {
			logEvent := logger.Debug().
				Str("job_id", ev.JobID).
				Str("phase", string(ev.Phase)).
				Float64("percentage", ev.Percentage)

			if ev.UserID != "" {
				logEvent = logEvent.Str("user_id", ev.UserID)
			}
			if ev.Message != "" {
				logEvent = logEvent.Str("message", ev.Message)
			}
			if ev.Error != "" {
				logEvent = logEvent.Str("error", ev.Error)
			}

			logEvent.Msg("Automation progress")
		},
		OnQueueEvent: func(ev interfaces.QueueEvent) {
			logger.Debug().
				Str("job_id", ev.JobID).
				Str("kind", string(ev.Kind)).
				Str("state", string(ev.State)).
				Msg("Queue transition")
		},
	}
}
