package models

import "time"

// SyncStatus is the process-wide reconciliation state. A single instance
// lives in the store and is mutated only through the store's sync accessors.
type SyncStatus struct {
	LastSyncTime      time.Time           `json:"lastSyncTime"`
	IsSyncing         bool                `json:"isSyncing"`
	Error             string              `json:"error,omitempty"`
	PendingSessionIDs map[string]struct{} `json:"-"`
}

// Clone returns a deep copy safe to hand to callers.
func (s SyncStatus) Clone() SyncStatus {
	out := s
	out.PendingSessionIDs = make(map[string]struct{}, len(s.PendingSessionIDs))
	for id := range s.PendingSessionIDs {
		out.PendingSessionIDs[id] = struct{}{}
	}
	return out
}
