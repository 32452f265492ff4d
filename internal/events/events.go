package events

import "github.com/asaskevich/EventBus"

// GlobalBus is the shared event bus for the entire application. Refresh
// workers and the change watcher publish here; the UI is the only
// subscriber that touches screen state, which keeps the dependency one-way.
var GlobalBus EventBus.Bus

func init() {
	GlobalBus = EventBus.New()
}

// Topic names for application-wide coordination
const (
	// Refresh scheduler results
	EventRefreshRow     = "refresh:row"     // one classified path (refresh.Result)
	EventRefreshStarted = "refresh:started" // new generation began (uint64)
	EventRefreshDrained = "refresh:drained" // generation fully classified (uint64)
	EventWatcherChanged = "watcher:changed" // work-tree paths invalidated ([]string)

	// Sync pipeline events
	EventConflictDetected = "sync:conflict" // path needing the external diff tool (syncer.Conflict)
	EventSyncFinished     = "sync:finished" // download/upload/save outcome posted

	// Shutdown events
	EventShutdownRequested = "app:shutdown:requested"
	EventShutdownComplete  = "app:shutdown:complete"
)
