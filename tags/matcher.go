// Package tags maps JSON field paths to small integer tags and back.
// Tags keep CJSON rows compact and stable across schema evolution.
package tags

import (
	"encoding/json"
	"math/rand"

	"github.com/narwhaldb/narwhal/dberr"
)

// Matcher is the per-namespace path<->tag bijection. It is guarded by
// the namespace lock; readers obtain an immutable snapshot via Clone.
// The version counter strictly increases on any new tag, and the state
// token identifies the matcher's lineage so clients can detect that a
// cached token belongs to a different namespace generation.
type Matcher struct {
	names2tags map[string]int
	tags2names []string
	version    int32
	stateToken int32
}

// NewMatcher creates an empty matcher with a fresh state token.
func NewMatcher() *Matcher {
	return &Matcher{
		names2tags: make(map[string]int),
		version:    1,
		stateToken: int32(rand.Uint32()),
	}
}

// Name2Tag resolves path to its tag. With canAdd set, an unknown path
// is registered and the version bumped; otherwise 0 is returned.
func (m *Matcher) Name2Tag(path string, canAdd bool) int {
	if tag, ok := m.names2tags[path]; ok {
		return tag
	}
	if !canAdd {
		return 0
	}
	tag := len(m.tags2names) + 1
	m.names2tags[path] = tag
	m.tags2names = append(m.tags2names, path)
	m.version++
	return tag
}

// Tag2Name returns the path registered for tag, or "" for unknown tags.
func (m *Matcher) Tag2Name(tag int) string {
	if tag <= 0 || tag > len(m.tags2names) {
		return ""
	}
	return m.tags2names[tag-1]
}

// Version returns the monotonic tag version.
func (m *Matcher) Version() int32 { return m.version }

// StateToken returns the 32-bit token clients use for staleness checks.
func (m *Matcher) StateToken() int32 { return m.stateToken }

// Size returns the number of registered tags.
func (m *Matcher) Size() int { return len(m.tags2names) }

// Clone returns an independent snapshot.
func (m *Matcher) Clone() *Matcher {
	nm := &Matcher{
		names2tags: make(map[string]int, len(m.names2tags)),
		tags2names: append([]string(nil), m.tags2names...),
		version:    m.version,
		stateToken: m.stateToken,
	}
	for k, v := range m.names2tags {
		nm.names2tags[k] = v
	}
	return nm
}

// Merge folds tags registered by an item-local matcher into m. Fails
// with CodeTagsMismatch when other disagrees on an existing mapping;
// the caller should rebuild the item against a fresh snapshot.
func (m *Matcher) Merge(other *Matcher) error {
	for i, name := range other.tags2names {
		tag := i + 1
		if tag <= len(m.tags2names) {
			if m.tags2names[i] != name {
				return dberr.Newf(dberr.CodeTagsMismatch,
					"tag %d maps to '%s', item expects '%s'", tag, m.tags2names[i], name)
			}
			continue
		}
		m.names2tags[name] = tag
		m.tags2names = append(m.tags2names, name)
		m.version++
	}
	return nil
}

type matcherJSON struct {
	Tags       []string `json:"tags"`
	Version    int32    `json:"version"`
	StateToken int32    `json:"state_token"`
}

// MarshalBinary serializes the matcher for the sys-record.
func (m *Matcher) MarshalBinary() ([]byte, error) {
	return json.Marshal(matcherJSON{Tags: m.tags2names, Version: m.version, StateToken: m.stateToken})
}

// UnmarshalBinary restores a matcher persisted by MarshalBinary.
func (m *Matcher) UnmarshalBinary(data []byte) error {
	var mj matcherJSON
	if err := json.Unmarshal(data, &mj); err != nil {
		return dberr.Wrap(dberr.CodeParseJSON, err, "corrupt tagsmatcher record")
	}
	m.tags2names = mj.Tags
	m.version = mj.Version
	m.stateToken = mj.StateToken
	m.names2tags = make(map[string]int, len(mj.Tags))
	for i, name := range mj.Tags {
		m.names2tags[name] = i + 1
	}
	return nil
}
