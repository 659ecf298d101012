package handlers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	plog "github.com/phuslu/log"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/levels"
	arbormodels "github.com/ternarybob/arbor/models"

	"github.com/ternarybob/metior/internal/common"
)

// defaultLogChannelCapacity bounds the batch queue between arbor and the hub
const defaultLogChannelCapacity = 10

// defaultExcludePatterns drops the hub's own chatter to avoid feedback loops
var defaultExcludePatterns = []string{
	"WebSocket client connected",
	"WebSocket client disconnected",
	"HTTP request",
	"HTTP response",
	"not delivered",
}

// LogStreamer consumes log batches from arbor's context channel and relays
// them to connected WebSocket clients through the hub's BroadcastLog.
type LogStreamer struct {
	handler         *WebSocketHandler
	logger          arbor.ILogger
	channel         chan []arbormodels.LogEvent
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	minLevel        levels.LogLevel
	excludePatterns []string
}

// NewLogStreamer builds the streamer. Attach its Channel to the root logger
// with SetChannel, then call Start.
func NewLogStreamer(handler *WebSocketHandler, wsConfig *common.WebSocketConfig, logger arbor.ILogger) *LogStreamer {
	minLevel := levels.InfoLevel
	excludePatterns := defaultExcludePatterns
	if wsConfig != nil {
		minLevel = parseLogLevel(wsConfig.MinLevel)
		if len(wsConfig.ExcludePatterns) > 0 {
			excludePatterns = wsConfig.ExcludePatterns
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &LogStreamer{
		handler:         handler,
		logger:          logger,
		channel:         make(chan []arbormodels.LogEvent, defaultLogChannelCapacity),
		ctx:             ctx,
		cancel:          cancel,
		minLevel:        minLevel,
		excludePatterns: excludePatterns,
	}
}

// Channel returns the channel for arbor to send log batches to
func (s *LogStreamer) Channel() chan []arbormodels.LogEvent {
	return s.channel
}

// Start launches the consumer goroutine
func (s *LogStreamer) Start() {
	s.wg.Add(1)
	go s.consume()
}

// Close stops the consumer and waits for it to drain
func (s *LogStreamer) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return nil
}

func (s *LogStreamer) consume() {
	defer s.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Log streamer panic recovered")
		}
	}()

	for {
		select {
		case batch, ok := <-s.channel:
			if !ok {
				return
			}
			for _, event := range batch {
				s.relay(event)
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// relay filters one log event and broadcasts it to WebSocket clients
func (s *LogStreamer) relay(event arbormodels.LogEvent) {
	level := plogToArborLevel(event.Level)
	if level < s.minLevel {
		return
	}
	for _, pattern := range s.excludePatterns {
		if strings.Contains(event.Message, pattern) {
			return
		}
	}

	s.handler.BroadcastLog(LogEntry{
		Timestamp: event.Timestamp.Format("15:04:05"),
		Level:     mapLevel(level),
		Message:   event.Message,
	})
}

func plogToArborLevel(level plog.Level) levels.LogLevel {
	switch level {
	case plog.ErrorLevel:
		return levels.ErrorLevel
	case plog.WarnLevel:
		return levels.WarnLevel
	case plog.InfoLevel:
		return levels.InfoLevel
	case plog.DebugLevel:
		return levels.DebugLevel
	default:
		return levels.InfoLevel
	}
}

func parseLogLevel(level string) levels.LogLevel {
	switch strings.ToLower(level) {
	case "error":
		return levels.ErrorLevel
	case "warn", "warning":
		return levels.WarnLevel
	case "info":
		return levels.InfoLevel
	case "debug":
		return levels.DebugLevel
	default:
		return levels.InfoLevel
	}
}

func mapLevel(level levels.LogLevel) string {
	switch level {
	case levels.ErrorLevel:
		return "error"
	case levels.WarnLevel:
		return "warn"
	case levels.InfoLevel:
		return "info"
	case levels.DebugLevel:
		return "debug"
	default:
		return "info"
	}
}
