// Package resource defines the unified resource model for siivous.
package resource

import (
	"strings"
	"time"
)

// Kind is the category of a sweepable resource.
type Kind string

const (
	KindInstance Kind = "instance"
	KindVolume   Kind = "volume"
	KindSnapshot Kind = "snapshot"
	KindImage    Kind = "image"
)

// Kinds lists the kinds the sweeper evaluates. Images are only read.
var Kinds = []Kind{KindInstance, KindVolume, KindSnapshot}

// ParseKind maps a string to a Kind. Plural forms are accepted.
func ParseKind(s string) (Kind, bool) {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s") {
	case "instance", "server", "vm":
		return KindInstance, true
	case "volume", "disk":
		return KindVolume, true
	case "snapshot":
		return KindSnapshot, true
	case "image":
		return KindImage, true
	}
	return "", false
}

// State is the canonical lifecycle state of a resource.
type State string

const (
	StateRunning    State = "running"
	StateStopped    State = "stopped"
	StateTerminated State = "terminated"
	StateAvailable  State = "available"
	StateInUse      State = "in-use"
	StatePending    State = "pending"
	StateUnknown    State = "unknown"
)

// ParseState normalizes a provider state string.
func ParseState(raw string) State {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "running", "operational":
		return StateRunning
	case "stopped", "stopping", "deallocated", "deallocating", "inactive":
		return StateStopped
	case "terminated", "shutting-down", "deleting", "deleted":
		return StateTerminated
	case "available", "unattached", "completed", "succeeded":
		return StateAvailable
	case "in-use", "attached", "reserved":
		return StateInUse
	case "pending", "creating", "booting", "starting", "updating":
		return StatePending
	}
	return StateUnknown
}

// Inactive reports whether an instance in this state needs no action.
func (s State) Inactive() bool {
	return s == StateStopped || s == StateTerminated
}

// Scope identifies one cloud account/region partition.
type Scope struct {
	Provider string `json:"provider"`
	Account  string `json:"account"`
	Region   string `json:"region"`
}

// ID renders the scope as used on the command line, e.g. "aws/us-east-1".
func (s Scope) ID() string {
	if s.Region == "" {
		return s.Provider + "/" + s.Account
	}
	return s.Provider + "/" + s.Region
}

func (s Scope) String() string { return s.ID() }

// Ref is the handle passed to every mutating provider call.
type Ref struct {
	ID    string `json:"id"`
	Kind  Kind   `json:"kind"`
	Scope Scope  `json:"scope"`
}

// Resource is a cloud resource in unified format.
type Resource struct {
	ID               string            `json:"id"`
	Kind             Kind              `json:"kind"`
	Provider         string            `json:"provider"`
	Account          string            `json:"account"`
	Region           string            `json:"region"`
	Name             string            `json:"name"`
	Description      string            `json:"description,omitempty"`
	State            State             `json:"state"`
	RawState         string            `json:"raw_state,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	Tags             map[string]string `json:"tags"`
	Locked           bool              `json:"locked"`
	ParentVolumeID   string            `json:"parent_volume_id,omitempty"`   // snapshot: volume it was taken from
	ParentSnapshotID string            `json:"parent_snapshot_id,omitempty"` // volume: snapshot it was created from
	Attrs            map[string]string `json:"attrs,omitempty"`
	ScannedAt        time.Time         `json:"scanned_at"`
}

// Scope returns the partition the resource lives in.
func (r Resource) Scope() Scope {
	return Scope{Provider: r.Provider, Account: r.Account, Region: r.Region}
}

// Ref returns the handle for provider calls.
func (r Resource) Ref() Ref {
	return Ref{ID: r.ID, Kind: r.Kind, Scope: r.Scope()}
}

// DisplayName returns the name, or the ID when the resource has none.
func (r Resource) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

// FirstTime returns the first non-zero time, used for created-at fallbacks.
func FirstTime(times ...time.Time) time.Time {
	for _, t := range times {
		if !t.IsZero() {
			return t
		}
	}
	return time.Time{}
}

// Image is a machine image and the storage it references.
type Image struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Scope       Scope    `json:"scope"`
	SnapshotIDs []string `json:"snapshot_ids,omitempty"`
	VolumeIDs   []string `json:"volume_ids,omitempty"`
}

// ReferenceSet holds IDs of storage that must not be deleted because an
// image depends on it.
type ReferenceSet map[string]struct{}

// BuildReferences collects snapshot and volume IDs referenced by images,
// plus the source volume of every referenced snapshot.
func BuildReferences(images []Image, snapshots []Resource) ReferenceSet {
	refs := make(ReferenceSet)
	for _, img := range images {
		for _, id := range img.SnapshotIDs {
			refs.Add(id)
		}
		for _, id := range img.VolumeIDs {
			refs.Add(id)
		}
	}
	for _, s := range snapshots {
		if refs.Has(s.ID) && s.ParentVolumeID != "" {
			refs.Add(s.ParentVolumeID)
		}
	}
	return refs
}

// Add inserts id. Empty IDs are ignored.
func (s ReferenceSet) Add(id string) {
	if id != "" {
		s[id] = struct{}{}
	}
}

// Has reports whether id is referenced.
func (s ReferenceSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}
