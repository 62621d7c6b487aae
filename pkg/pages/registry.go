// Package pages tracks finalized plot pages and their viewing lifecycle.
package pages

import (
	"sort"
	"sync"

	"github.com/go-go-golems/plotview/pkg/plot"
)

// Page is one finalized page of plots.
//
// Pending means a browser was asked to open the page but has not fetched its
// data yet. Opened is set by that first fetch, which also clears Pending.
type Page struct {
	ID      int
	Opened  bool
	Pending bool
	Entries []plot.Entry
}

// HasLive reports whether the page carries at least one live entry.
func (p Page) HasLive() bool {
	return plot.HasLive(p.Entries)
}

// Registry maps page ids to pages. Ids are assigned from a counter that
// survives Reset, so an id is never handed out twice by the same registry.
type Registry struct {
	mu     sync.Mutex
	pages  map[int]*Page
	nextID int
}

func NewRegistry() *Registry {
	return &Registry{pages: map[int]*Page{}}
}

// Finalize stores entries as a new unopened page and returns its id.
func (r *Registry) Finalize(entries []plot.Entry) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.pages[id] = &Page{ID: id, Entries: entries}
	return id
}

// Get returns a copy of the page with the given id.
func (r *Registry) Get(id int) (Page, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pages[id]
	if !ok {
		return Page{}, false
	}
	return *p, true
}

// Update runs fn on the stored page while holding the registry lock.
func (r *Registry) Update(id int, fn func(p *Page)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pages[id]
	if !ok {
		return false
	}
	fn(p)
	return true
}

// MarkPending flags every page that is neither opened nor pending as pending
// and returns their ids in ascending order. Calling it again without new pages
// returns nothing.
func (r *Registry) MarkPending() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int
	for id, p := range r.pages {
		if !p.Opened && !p.Pending {
			p.Pending = true
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// MarkOpened records the first fetch of a page.
func (r *Registry) MarkOpened(id int) (Page, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pages[id]
	if !ok {
		return Page{}, false
	}
	p.Opened = true
	p.Pending = false
	return *p, true
}

// IsQuiescent is true when every page has been opened and none is pending.
// An empty registry is quiescent.
func (r *Registry) IsQuiescent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.quiescentLocked()
}

func (r *Registry) quiescentLocked() bool {
	for _, p := range r.pages {
		if p.Pending || !p.Opened {
			return false
		}
	}
	return true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pages)
}

// Snapshot copies all pages in id order.
func (r *Registry) Snapshot() []Page {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Page, 0, len(r.pages))
	for _, p := range r.pages {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reset drops every page but keeps the id counter.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.pages = map[int]*Page{}
	r.mu.Unlock()
}

// ResetIfQuiescent drops every page when the registry holds at least one page
// and is quiescent. A page finalized concurrently either blocks the reset or
// is finalized after it.
func (r *Registry) ResetIfQuiescent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pages) == 0 || !r.quiescentLocked() {
		return false
	}
	r.pages = map[int]*Page{}
	return true
}
