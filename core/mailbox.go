package core

import (
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
)

// DefaultMailboxKeys is the number of distinct keys the mailbox filter is
// first sized for.
const DefaultMailboxKeys = 10000

const mailboxFalsePositiveRate = 0.01

type mailboxKey struct {
	sender ProcessID
	key    string
}

type mailboxEntry struct {
	sender  ProcessID
	data    []byte
	arrival uint64
}

// Mailbox stores messages delivered to a process, bucketed by sender and key.
//
// Reads never remove entries. When several senders used the same key, a read
// from Any returns the entry with the earliest arrival.
//
// A bloom filter over the delivered keys answers most misses before the maps
// are consulted. It is rebuilt with twice the capacity whenever the number of
// distinct keys outgrows it, so the false positive rate stays near 1%.
type Mailbox struct {
	mu        sync.RWMutex
	entries   map[mailboxKey]*mailboxEntry
	byKey     map[string][]*mailboxEntry
	seen      *bloom.BloomFilter
	filterCap uint
	arrival   uint64

	skipped  uint64
	rebuilds uint64
}

// MailboxStats describes the mailbox contents and its key filter.
type MailboxStats struct {
	Entries        int
	Keys           int
	FilterCapacity uint
	SkippedLookups uint64
	FilterRebuilds uint64
}

// NewMailbox creates an empty mailbox whose filter is sized for expectedKeys
// distinct keys. A non-positive value selects DefaultMailboxKeys.
func NewMailbox(expectedKeys int) *Mailbox {
	if expectedKeys <= 0 {
		expectedKeys = DefaultMailboxKeys
	}
	return &Mailbox{
		entries:   make(map[mailboxKey]*mailboxEntry),
		byKey:     make(map[string][]*mailboxEntry),
		seen:      bloom.NewWithEstimates(uint(expectedKeys), mailboxFalsePositiveRate),
		filterCap: uint(expectedKeys),
	}
}

// Deliver stores a copy of data from sender under key.
// A repeated delivery replaces the data and counts as a new arrival.
func (m *Mailbox) Deliver(sender ProcessID, key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	value := make([]byte, len(data))
	copy(value, data)
	m.arrival++

	id := mailboxKey{sender: sender, key: key}
	if entry, exists := m.entries[id]; exists {
		entry.data = value
		entry.arrival = m.arrival
		m.byKey[key] = moveToBack(m.byKey[key], entry)
		return
	}

	entry := &mailboxEntry{sender: sender, data: value, arrival: m.arrival}
	m.entries[id] = entry
	_, known := m.byKey[key]
	m.byKey[key] = append(m.byKey[key], entry)
	if known {
		return
	}
	if uint(len(m.byKey)) > m.filterCap {
		m.rebuildFilter()
		return
	}
	m.seen.AddString(key)
}

// rebuildFilter doubles the filter capacity and re-adds every key.
// The caller holds the write lock.
func (m *Mailbox) rebuildFilter() {
	m.filterCap *= 2
	m.seen = bloom.NewWithEstimates(m.filterCap, mailboxFalsePositiveRate)
	for key := range m.byKey {
		m.seen.AddString(key)
	}
	atomic.AddUint64(&m.rebuilds, 1)
}

// Lookup returns a copy of the entry stored by source under key.
// source must be a concrete process id or Any.
func (m *Mailbox) Lookup(source ProcessID, key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.seen.TestString(key) {
		atomic.AddUint64(&m.skipped, 1)
		return nil, false
	}

	var entry *mailboxEntry
	if source == Any {
		if bucket := m.byKey[key]; len(bucket) > 0 {
			entry = bucket[0]
		}
	} else {
		entry = m.entries[mailboxKey{sender: source, key: key}]
	}
	if entry == nil {
		return nil, false
	}

	out := make([]byte, len(entry.data))
	copy(out, entry.data)
	return out, true
}

// Senders returns the senders of key in arrival order.
func (m *Mailbox) Senders(key string) []ProcessID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bucket := m.byKey[key]
	senders := make([]ProcessID, 0, len(bucket))
	for _, entry := range bucket {
		senders = append(senders, entry.sender)
	}
	return senders
}

// Len returns the number of stored entries.
func (m *Mailbox) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Stats returns the mailbox counters.
func (m *Mailbox) Stats() MailboxStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MailboxStats{
		Entries:        len(m.entries),
		Keys:           len(m.byKey),
		FilterCapacity: m.filterCap,
		SkippedLookups: atomic.LoadUint64(&m.skipped),
		FilterRebuilds: atomic.LoadUint64(&m.rebuilds),
	}
}

// moveToBack keeps a bucket sorted by arrival after entry was redelivered.
func moveToBack(bucket []*mailboxEntry, entry *mailboxEntry) []*mailboxEntry {
	for i, e := range bucket {
		if e == entry {
			copy(bucket[i:], bucket[i+1:])
			bucket[len(bucket)-1] = entry
			break
		}
	}
	return bucket
}
