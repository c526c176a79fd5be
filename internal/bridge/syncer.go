package bridge

import (
	"log/slog"

	"github.com/roach88/listbridge/internal/loop"
	"github.com/roach88/listbridge/internal/overlay"
)

// Syncer is the external scheduler that brings TOCs up to date. The
// returned futures resolve when the work is done.
type Syncer interface {
	RefreshList(namespace, name, why string) *loop.Future
	GrowFolder(folderID, why string) *loop.Future
}

// SyncStatusOverlay is the overlay name LoggingSyncer publishes under.
const SyncStatusOverlay = "syncStatus"

// LoggingSyncer is a Syncer with no upstream. It logs each request and, if
// given a status board, marks the target as syncing until the next loop
// turn so views see the overlay flicker as they would with a real sync.
type LoggingSyncer struct {
	loop   *loop.Loop
	status *overlay.StatusBoard
	logger *slog.Logger
}

// NewLoggingSyncer creates a LoggingSyncer. status may be nil.
func NewLoggingSyncer(l *loop.Loop, status *overlay.StatusBoard, logger *slog.Logger) *LoggingSyncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingSyncer{loop: l, status: status, logger: logger.With("component", "syncer")}
}

// RefreshList implements Syncer.
func (s *LoggingSyncer) RefreshList(namespace, name, why string) *loop.Future {
	s.logger.Info("refresh requested", "namespace", namespace, "name", name, "why", why)
	return s.pretend(name)
}

// GrowFolder implements Syncer.
func (s *LoggingSyncer) GrowFolder(folderID, why string) *loop.Future {
	s.logger.Info("grow requested", "folder", folderID, "why", why)
	return s.pretend(folderID)
}

func (s *LoggingSyncer) pretend(id string) *loop.Future {
	p := loop.NewPromise()
	if s.status != nil {
		s.status.Set(id, "syncing")
	}
	s.loop.Post(func() {
		if s.status != nil {
			s.status.Set(id, nil)
		}
		_ = p.Resolve(nil)
	})
	return p.Future()
}
