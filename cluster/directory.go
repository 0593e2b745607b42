package cluster

import (
	"sort"
	"sync"

	"github.com/najoast/praas/core"
)

// Directory maps process ids to the addresses of their transports.
type Directory struct {
	mu      sync.RWMutex
	entries map[core.ProcessID]string
}

// NewDirectory creates a directory seeded with peers.
func NewDirectory(peers map[core.ProcessID]string) *Directory {
	d := &Directory{entries: make(map[core.ProcessID]string, len(peers))}
	for id, addr := range peers {
		d.entries[id] = addr
	}
	return d
}

// Register sets or replaces the address of id.
func (d *Directory) Register(id core.ProcessID, address string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[id] = address
}

// Unregister forgets id.
func (d *Directory) Unregister(id core.ProcessID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, id)
}

// Lookup returns the address of id.
func (d *Directory) Lookup(id core.ProcessID) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	addr, ok := d.entries[id]
	return addr, ok
}

// Processes returns the known process ids, sorted.
func (d *Directory) Processes() []core.ProcessID {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]core.ProcessID, 0, len(d.entries))
	for id := range d.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
