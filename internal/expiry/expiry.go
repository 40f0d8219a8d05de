// Package expiry decides when an eligible resource has outlived its welcome.
//
// Instances use a stamped strategy: the first sweep that sees an instance
// writes a discovery tag, and the instance expires once the tag is older than
// the TTL. Volumes and snapshots use their creation time instead.
package expiry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Status is the expiration state of a resource.
type Status string

const (
	StatusUntagged Status = "UNTAGGED"
	StatusFresh    Status = "FRESH"
	StatusExpired  Status = "EXPIRED"
	StatusTooYoung Status = "TOO_YOUNG"
)

// TagParseError reports a discovery tag whose value is not a timestamp.
type TagParseError struct {
	Key   string
	Value string
	Err   error
}

func (e *TagParseError) Error() string {
	return fmt.Sprintf("discovery tag %s=%q: %v", e.Key, e.Value, e.Err)
}

func (e *TagParseError) Unwrap() error { return e.Err }

// ErrNoCreationTime is returned by AgeRule.Check for a zero creation time.
var ErrNoCreationTime = errors.New("creation time unknown")

// layouts accepted when reading discovery tags. The last one is the legacy
// "YYYY-MM-DD hh:mm:ss +zzzz" form.
var layouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05 MST",
}

// FormatTimestamp renders t the way discovery tags store it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// ParseTimestamp reads a discovery tag value.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var firstErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// Check is the result of inspecting a resource's discovery tags.
type Check struct {
	Status    Status
	StampedAt time.Time
	Age       time.Duration
	// Key is the tag key holding the authoritative stamp.
	Key string
	// Duplicates are further valid discovery tags that should be removed.
	Duplicates []string
	// Malformed are discovery tags that could not be parsed.
	Malformed []*TagParseError
}

// StaleKeys returns every discovery tag key except the authoritative one.
func (c Check) StaleKeys() []string {
	keys := append([]string(nil), c.Duplicates...)
	for _, m := range c.Malformed {
		keys = append(keys, m.Key)
	}
	return keys
}

// Tracker implements the stamped strategy.
type Tracker struct {
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewTracker creates a tracker for tags keyed by prefix.
func NewTracker(prefix string, ttl time.Duration) *Tracker {
	return &Tracker{prefix: prefix, ttl: ttl, now: time.Now}
}

// WithClock overrides the time source.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Prefix returns the discovery tag key.
func (t *Tracker) Prefix() string { return t.prefix }

// TTL returns the configured expiry.
func (t *Tracker) TTL() time.Duration { return t.ttl }

// IsDiscoveryTag reports whether a tag belongs to the tracker.
func (t *Tracker) IsDiscoveryTag(key string) bool {
	return IsDiscoveryKey(t.prefix, key)
}

// IsDiscoveryKey reports whether key is the discovery tag named prefix, either
// as a key/value tag or as a plain string ("prefix=value" as key). Keys that
// merely start with prefix belong to the user.
func IsDiscoveryKey(prefix, key string) bool {
	if prefix == "" {
		return false
	}
	return key == prefix || strings.HasPrefix(key, prefix+"=")
}

// DiscoveryKeys returns every discovery tag key present in tags, sorted.
func (t *Tracker) DiscoveryKeys(tags map[string]string) []string {
	var keys []string
	for k := range tags {
		if t.IsDiscoveryTag(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Check classifies a tag set. Age is measured in whole seconds and a
// resource expires only when strictly older than the TTL.
func (t *Tracker) Check(tags map[string]string) Check {
	var c Check
	found := false

	for _, key := range t.DiscoveryKeys(tags) {
		value := tags[key]
		if value == "" {
			if i := strings.IndexByte(key, '='); i >= 0 {
				value = key[i+1:]
			}
		}

		stamped, err := ParseTimestamp(value)
		if err != nil {
			c.Malformed = append(c.Malformed, &TagParseError{Key: key, Value: value, Err: err})
			continue
		}

		switch {
		case !found:
			found = true
			c.Key, c.StampedAt = key, stamped
		case stamped.Before(c.StampedAt):
			// the earliest stamp wins; demote the current one
			c.Duplicates = append(c.Duplicates, c.Key)
			c.Key, c.StampedAt = key, stamped
		default:
			c.Duplicates = append(c.Duplicates, key)
		}
	}

	if !found {
		c.Status = StatusUntagged
		return c
	}

	c.Age = t.now().Sub(c.StampedAt).Truncate(time.Second)
	if c.Age > t.ttl {
		c.Status = StatusExpired
	} else {
		c.Status = StatusFresh
	}
	return c
}

// Stamp returns the tag to write for a newly discovered resource.
func (t *Tracker) Stamp() (key, value string) {
	return t.prefix, FormatTimestamp(t.now())
}

// AgeRule implements the age-based strategy.
type AgeRule struct {
	threshold time.Duration
	now       func() time.Time
}

// NewAgeRule creates a rule that lets resources older than threshold expire.
func NewAgeRule(threshold time.Duration) *AgeRule {
	return &AgeRule{threshold: threshold, now: time.Now}
}

// WithClock overrides the time source.
func (a *AgeRule) WithClock(now func() time.Time) *AgeRule {
	a.now = now
	return a
}

// Threshold returns the configured minimum age.
func (a *AgeRule) Threshold() time.Duration { return a.threshold }

// Check classifies a resource created at createdAt. A resource exactly at
// the threshold is old enough.
func (a *AgeRule) Check(createdAt time.Time) (Status, time.Duration, error) {
	if createdAt.IsZero() {
		return "", 0, ErrNoCreationTime
	}
	age := a.now().Sub(createdAt).Truncate(time.Second)
	if age < a.threshold {
		return StatusTooYoung, age, nil
	}
	return StatusExpired, age, nil
}
