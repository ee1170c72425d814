// ABOUTME: Tracks keys touched by viewer-local writes and reports which of them
// ABOUTME: a refresh replaced. Local-only writes are never reconciled, only reported.

package appcli

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/harperreed/fleetbook/ledger"
)

// settingLocalEdits holds the JSON list of pending EditKeys in the local store.
const settingLocalEdits = "local_edits_pending"

// ConflictKind describes how a local edit was lost.
type ConflictKind string

const (
	// ConflictDropped: an entity that existed only locally is gone.
	ConflictDropped ConflictKind = "dropped"
	// ConflictOverwritten: the remote copy differs from the local one.
	ConflictOverwritten ConflictKind = "overwritten"
	// ConflictRestored: a locally deleted entity came back from the remote.
	ConflictRestored ConflictKind = "restored"
)

// EditKey names one entity changed by a local-only write.
type EditKey struct {
	Collection ledger.Collection `json:"collection"`
	Key        string            `json:"key"`
}

// Conflict is one locally edited entity whose state did not survive a refresh.
type Conflict struct {
	Collection ledger.Collection
	Key        string
	Kind       ConflictKind
	Local      ledger.Entity // nil for ConflictRestored
	Remote     ledger.Entity // nil for ConflictDropped
}

// DetectConflicts judges each edited key in the snapshot before a refresh
// against the one after. Keys nobody edited locally are never reported.
func DetectConflicts(local, remote ledger.Snapshot, edits []EditKey) []Conflict {
	var out []Conflict
	seen := map[EditKey]bool{}
	for _, k := range edits {
		if seen[k] {
			continue
		}
		seen[k] = true

		l, hasLocal := find(local.Entities(k.Collection), k.Key)
		r, hasRemote := find(remote.Entities(k.Collection), k.Key)
		c := Conflict{Collection: k.Collection, Key: k.Key, Local: l, Remote: r}
		switch {
		case hasLocal && !hasRemote:
			c.Kind = ConflictDropped
		case !hasLocal && hasRemote:
			c.Kind = ConflictRestored
		case hasLocal && hasRemote && !sameEntity(l, r):
			c.Kind = ConflictOverwritten
		default:
			continue
		}
		out = append(out, c)
	}
	return out
}

func find(es []ledger.Entity, key string) (ledger.Entity, bool) {
	for _, e := range es {
		if e.Key() == key {
			return e, true
		}
	}
	return nil, false
}

// sameEntity compares encoded forms so decimals with equal text match.
func sameEntity(a, b ledger.Entity) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

func (a *App) recordEdit(ctx context.Context, k EditKey) {
	for _, e := range a.edits {
		if e == k {
			return
		}
	}
	a.edits = append(a.edits, k)
	a.saveEdits(ctx)
}

func (a *App) loadEdits(ctx context.Context) []EditKey {
	raw, err := a.store.GetSetting(ctx, settingLocalEdits, "")
	if err != nil || raw == "" {
		return nil
	}
	var edits []EditKey
	if err := json.Unmarshal([]byte(raw), &edits); err != nil {
		a.log.WarnContext(ctx, "ignoring unreadable local edit list", "error", err)
		return nil
	}
	return edits
}

func (a *App) saveEdits(ctx context.Context) {
	if a.store == nil {
		return
	}
	raw := ""
	if len(a.edits) > 0 {
		b, err := json.Marshal(a.edits)
		if err != nil {
			a.log.WarnContext(ctx, "local edit list not encoded", "error", err)
			return
		}
		raw = string(b)
	}
	if err := a.store.SetSetting(ctx, settingLocalEdits, raw); err != nil {
		a.log.WarnContext(ctx, "local edit list not saved", "error", err)
	}
}
