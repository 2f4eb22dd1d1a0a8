package bus

import "time"

// Event kinds published by the archive daemon.
const (
	KindWAMessage      = "wa.message"
	KindWAHistoryBatch = "wa.history_batch"
	KindWARevoke       = "wa.revoke"
	KindWADialog       = "wa.dialog"
	KindCacheUpdated   = "cache.updated"
	KindArchiveSaved   = "archive.saved"
	KindReconciled     = "archive.reconciled"
	KindProgress       = "progress.entry"
	KindStatusChanged  = "session.status_changed"
	KindPairing        = "session.pairing"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
