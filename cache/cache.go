// Package cache implements the narrative cache: a bounded, TTL-expiring map
// from decision signatures to depersonalized narrative templates. Two cases
// sharing a signature reuse one template with worker-specific slots swapped
// in on read.
package cache

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/veridoc/narrative/compliance"
)

// Defaults for the production cache.
const (
	DefaultMaxEntries = 100
	DefaultTTL        = 24 * time.Hour
)

// Slot identifies a worker-specific field replaced by a placeholder token
// before a narrative is cached. Token substitution works over this fixed
// slot list rather than ad-hoc string replacement, so personalization
// cannot collide with narrative prose.
type Slot string

const (
	SlotWorkerName     Slot = "{{WORKER_NAME}}"
	SlotCoSReference   Slot = "{{COS_REFERENCE}}"
	SlotAssignmentDate Slot = "{{ASSIGNMENT_DATE}}"
	SlotJobTitle       Slot = "{{JOB_TITLE}}"
	SlotSOCCode        Slot = "{{SOC_CODE}}"
	SlotCoSDuties      Slot = "{{COS_DUTIES}}"
	SlotJobDuties      Slot = "{{JOB_DESCRIPTION_DUTIES}}"
)

// slotValues maps each slot to its value for a given input.
func slotValues(in *compliance.Input) map[Slot]string {
	return map[Slot]string{
		SlotWorkerName:     in.WorkerName,
		SlotCoSReference:   in.CoSReference,
		SlotAssignmentDate: in.AssignmentDate,
		SlotJobTitle:       in.JobTitle,
		SlotSOCCode:        in.SOCCode,
		SlotCoSDuties:      in.CoSDuties,
		SlotJobDuties:      in.JobDescriptionDuties,
	}
}

// entry is a cached depersonalized template.
type entry struct {
	template  string
	createdAt time.Time
	hits      int
	seq       uint64 // insertion order, breaks eviction ties
}

// Cache is a mutex-guarded narrative template cache. All operations are
// O(n) over at most maxEntries entries; it never returns an error.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	maxEntries int
	ttl        time.Duration
	seq        uint64

	// now is injectable for expiry tests.
	now func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxEntries overrides the entry capacity.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithTTL overrides the entry time-to-live.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a narrative cache with the default capacity and TTL.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[string]*entry),
		maxEntries: DefaultMaxEntries,
		ttl:        DefaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the personalized narrative for the input's decision signature,
// or "" and false on miss. Expired entries are deleted lazily. A hit
// increments the entry's hit counter.
func (c *Cache) Get(in *compliance.Input) (string, bool) {
	if in == nil {
		return "", false
	}
	key := in.Signature().Key()

	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().Sub(ent.createdAt) > c.ttl {
		delete(c.entries, key)
		return "", false
	}

	ent.hits++
	return personalize(ent.template, in), true
}

// Set depersonalizes the narrative and stores it under the input's decision
// signature. At capacity, the entry with the fewest hits is evicted first
// (ties broken by insertion order).
func (c *Cache) Set(in *compliance.Input, narrative string) {
	if in == nil || narrative == "" {
		return
	}
	key := in.Signature().Key()
	template := depersonalize(narrative, in)

	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.entries[key]; ok {
		ent.template = template
		ent.createdAt = c.now()
		return
	}

	if len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}

	c.seq++
	c.entries[key] = &entry{
		template:  template,
		createdAt: c.now(),
		seq:       c.seq,
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictLocked removes the least-hit entry. Caller holds the lock.
func (c *Cache) evictLocked() {
	var victimKey string
	var victim *entry
	for key, ent := range c.entries {
		if victim == nil || ent.hits < victim.hits ||
			(ent.hits == victim.hits && ent.seq < victim.seq) {
			victimKey = key
			victim = ent
		}
	}
	if victim != nil {
		delete(c.entries, victimKey)
	}
}

// depersonalize replaces worker-specific field values with slot tokens.
// Longer values are replaced first so a field that is a substring of
// another (a worker name inside a duty text, say) cannot be clobbered.
func depersonalize(narrative string, in *compliance.Input) string {
	values := slotValues(in)

	slots := make([]Slot, 0, len(values))
	for slot, value := range values {
		if value != "" {
			slots = append(slots, slot)
		}
	}
	sort.Slice(slots, func(i, j int) bool {
		if len(values[slots[i]]) != len(values[slots[j]]) {
			return len(values[slots[i]]) > len(values[slots[j]])
		}
		return slots[i] < slots[j]
	})

	for _, slot := range slots {
		narrative = strings.ReplaceAll(narrative, values[slot], string(slot))
	}
	return narrative
}

// personalize substitutes the input's field values back into slot tokens.
// Tokens are distinctive, so this direction cannot collide.
func personalize(template string, in *compliance.Input) string {
	for slot, value := range slotValues(in) {
		template = strings.ReplaceAll(template, string(slot), value)
	}
	return template
}
