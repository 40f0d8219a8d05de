package resource

import "maps"

// Change represents a single field change.
// The field name is the map key returned by Drift.
type Change struct {
	Previous string
	Current  string
}

// Key returns a unique key for identifying a resource across scopes.
func Key(r Resource) string {
	return r.ID + "|" + r.Provider + "|" + r.Region + "|" + r.Account
}

// Drift compares a discovered resource with a fresh read of the same
// resource and returns the fields that changed in between.
func Drift(prev, cur Resource) map[string]Change {
	changes := make(map[string]Change)
	if prev.Name != cur.Name {
		changes["name"] = Change{Previous: prev.Name, Current: cur.Name}
	}
	if prev.Description != cur.Description {
		changes["description"] = Change{Previous: prev.Description, Current: cur.Description}
	}
	if prev.State != cur.State {
		changes["state"] = Change{Previous: string(prev.State), Current: string(cur.State)}
	}
	if prev.Locked != cur.Locked && cur.Locked {
		changes["locked"] = Change{Previous: "false", Current: "true"}
	}
	if !maps.Equal(prev.Tags, cur.Tags) {
		for k, v := range cur.Tags {
			if old, ok := prev.Tags[k]; !ok || old != v {
				changes["tag."+k] = Change{Previous: old, Current: v}
			}
		}
		for k, v := range prev.Tags {
			if _, ok := cur.Tags[k]; !ok {
				changes["tag."+k] = Change{Previous: v}
			}
		}
	}
	return changes
}
