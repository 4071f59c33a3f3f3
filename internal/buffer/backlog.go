package buffer

// Entry is one encoded metric awaiting transmission. It counts as one unit
// toward the batch and backlog thresholds regardless of its byte length.
type Entry []byte

// Backlog is the ordered queue of entries not yet delivered. Insertion order
// is transmission order. It performs no locking; its owner serializes access.
type Backlog struct {
	entries []Entry
	bytes   int
}

// NewBacklog creates an empty backlog with room for capacity entries.
func NewBacklog(capacity int) *Backlog {
	if capacity < 0 {
		capacity = 0
	}
	return &Backlog{entries: make([]Entry, 0, capacity)}
}

// Append adds e at the tail. No bound is enforced here.
func (b *Backlog) Append(e Entry) {
	b.entries = append(b.entries, e)
	b.bytes += len(e)
}

// Len returns the number of queued entries.
func (b *Backlog) Len() int {
	return len(b.entries)
}

// Bytes returns the total encoded size of queued entries.
func (b *Backlog) Bytes() int {
	return b.bytes
}

// Payload concatenates all entries in order without removing them.
func (b *Backlog) Payload() []byte {
	out := make([]byte, 0, b.bytes)
	for _, e := range b.entries {
		out = append(out, e...)
	}
	return out
}

// Entries returns the queued entries in order. The slice is a copy; the
// entries themselves are shared and must not be modified.
func (b *Backlog) Entries() []Entry {
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Clear drops every entry.
func (b *Backlog) Clear() {
	b.entries = make([]Entry, 0, cap(b.entries))
	b.bytes = 0
}

// Trim discards the oldest entries until at most target remain and returns
// how many were dropped.
func (b *Backlog) Trim(target int) int {
	if target < 0 {
		target = 0
	}
	dropped := len(b.entries) - target
	if dropped <= 0 {
		return 0
	}

	// Copy the survivors so the dropped entries become collectable.
	kept := make([]Entry, target, cap(b.entries))
	copy(kept, b.entries[dropped:])

	b.bytes = 0
	for _, e := range kept {
		b.bytes += len(e)
	}
	b.entries = kept
	return dropped
}
