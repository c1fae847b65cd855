// Package timeline reassembles one ordered conversation view out of the
// heterogeneous append-only log: decoded chat turns interleaved with
// artifact groups fetched from external storage.
package timeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dokimi/internal/conversation"
)

// groupWindow clusters same-kind artifacts whose marker timestamps land
// close together (multi-file upload bursts) into one display unit.
const groupWindow = 5 * time.Second

// ItemType discriminates timeline items.
type ItemType string

const (
	ItemTurn      ItemType = "turn"
	ItemArtifacts ItemType = "artifacts"
)

// Artifact is one fetched marker payload. Content is whatever the
// fetcher produced for the marker's artifact kind; the presentation
// layer type-switches on it.
type Artifact struct {
	Ref       string
	Timestamp time.Time
	Content   any
}

// Group is a cluster of same-kind artifacts rendered as one card.
type Group struct {
	Kind      conversation.ArtifactKind
	Start     time.Time
	End       time.Time
	Artifacts []Artifact
}

// Item is one element of the merged timeline. Exactly one of Turn and
// Group is set, matching Type. ID is deterministic for a fixed input so
// a focus selection by id survives rebuilds.
type Item struct {
	ID        string
	Type      ItemType
	Timestamp time.Time
	Turn      *conversation.DecodedTurn
	Group     *Group
}

// FetchFunc resolves one marker to its externally stored content.
type FetchFunc func(ctx context.Context, marker conversation.Marker) (any, error)

// Builder rebuilds timelines for one conversation. Suppressed feeds the
// decoder's idempotency gate; leave it nil when no orchestrator is
// attached (pure replay).
type Builder struct {
	Fetch      FetchFunc
	Suppressed func(conversation.GenKind) bool
	Log        zerolog.Logger
}

// Build produces the full ordered timeline plus the system events the
// latest turn emitted. It is a pure function of its inputs: safe to
// re-invoke on every poll tick, always a full rebuild.
//
// Turns that decode locally never wait on artifact fetches failing or
// stalling; fetches fan out concurrently and a failed fetch only drops
// its own artifact.
func (b Builder) Build(ctx context.Context, entries []conversation.LogEntry) ([]Item, []conversation.Event) {
	sorted := make([]conversation.LogEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	var turns []conversation.LogEntry
	var markers []conversation.LogEntry
	for _, entry := range sorted {
		if entry.Kind == conversation.EntryMarker {
			if entry.Marker != nil {
				markers = append(markers, entry)
			}
			continue
		}
		turns = append(turns, entry)
	}

	var events []conversation.Event
	items := make([]Item, 0, len(turns)+len(markers))
	for i, entry := range turns {
		// Markers never emit confirmation events, so "latest" means the
		// last ordinary turn overall.
		latest := i == len(turns)-1
		turn := conversation.Decode(entry, latest, b.Suppressed)
		if turn.Event != nil {
			events = append(events, *turn.Event)
		}
		items = append(items, Item{
			Type:      ItemTurn,
			Timestamp: entry.CreatedAt,
			Turn:      &turn,
		})
	}

	for _, group := range b.fetchGroups(ctx, markers) {
		group := group
		items = append(items, Item{
			Type:      ItemArtifacts,
			Timestamp: group.Start,
			Group:     &group,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Timestamp.Before(items[j].Timestamp)
	})
	for i := range items {
		items[i].ID = itemID(i, items[i])
	}
	return items, events
}

// fetchGroups resolves every marker concurrently and clusters the
// successful results by kind and temporal proximity.
func (b Builder) fetchGroups(ctx context.Context, markers []conversation.LogEntry) []Group {
	if len(markers) == 0 {
		return nil
	}

	contents := make([]any, len(markers))
	failed := make([]bool, len(markers))
	var wg sync.WaitGroup
	for i, entry := range markers {
		wg.Add(1)
		go func(i int, marker conversation.Marker) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					failed[i] = true
					b.Log.Error().Interface("panic", r).Str("ref", marker.ArtifactRef).Msg("artifact fetch panicked")
				}
			}()
			content, err := b.Fetch(ctx, marker)
			if err != nil {
				failed[i] = true
				b.Log.Warn().Err(err).
					Str("kind", string(marker.ArtifactKind)).
					Str("ref", marker.ArtifactRef).
					Msg("artifact fetch failed, omitting from timeline")
				return
			}
			contents[i] = content
		}(i, *entry.Marker)
	}
	wg.Wait()

	var groups []Group
	for i, entry := range markers {
		if failed[i] {
			continue
		}
		artifact := Artifact{
			Ref:       entry.Marker.ArtifactRef,
			Timestamp: entry.CreatedAt,
			Content:   contents[i],
		}
		groups = appendToGroup(groups, entry.Marker.ArtifactKind, artifact)
	}
	return groups
}

// appendToGroup joins the artifact to the first same-kind group whose
// earliest member lies within the proximity window, else starts a new
// group. Anchoring on the earliest member keeps a burst from chaining
// into one endless group.
func appendToGroup(groups []Group, kind conversation.ArtifactKind, artifact Artifact) []Group {
	for i := range groups {
		g := &groups[i]
		if g.Kind != kind {
			continue
		}
		if within(artifact.Timestamp, g.Start) {
			g.Artifacts = append(g.Artifacts, artifact)
			if artifact.Timestamp.Before(g.Start) {
				g.Start = artifact.Timestamp
			}
			if artifact.Timestamp.After(g.End) {
				g.End = artifact.Timestamp
			}
			return groups
		}
	}
	return append(groups, Group{
		Kind:      kind,
		Start:     artifact.Timestamp,
		End:       artifact.Timestamp,
		Artifacts: []Artifact{artifact},
	})
}

func within(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= groupWindow
}

// itemID derives a stable identity from the item's position and its
// constituent identifiers, so focus selection survives rebuilds of the
// same input but not reordering.
func itemID(pos int, item Item) string {
	if item.Type == ItemTurn {
		return fmt.Sprintf("%03d-turn-%s", pos, item.Turn.ID)
	}
	refs := make([]string, 0, len(item.Group.Artifacts))
	for _, a := range item.Group.Artifacts {
		refs = append(refs, a.Ref)
	}
	return fmt.Sprintf("%03d-%s-%s", pos, item.Group.Kind, strings.Join(refs, "+"))
}
