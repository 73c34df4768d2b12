package memory

import (
	"sort"
	"sync"

	"github.com/marmos91/dittobundle/internal/logger"
	"github.com/marmos91/dittobundle/pkg/source"
)

// Flat is unit-less object storage. Assets are registered by path; each
// Load materializes live copies and counts a holder for the path. Releasing
// the last holder turns the copies into orphans, which stay resident until
// Sweep destroys them. Sweep walks every path and is meant to be run rarely.
type Flat struct {
	mu      sync.Mutex
	records map[string]*flatRecord
	orphans int
}

type flatRecord struct {
	assets  []source.Asset
	live    []*source.Object
	holders int
}

// NewFlat creates empty flat storage.
func NewFlat() *Flat {
	return &Flat{records: make(map[string]*flatRecord)}
}

// Register adds assets under their paths.
func (f *Flat) Register(assets ...source.Asset) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range assets {
		r := f.records[a.Path]
		if r == nil {
			r = &flatRecord{}
			f.records[a.Path] = r
		}
		r.assets = append(r.assets, a)
	}
}

// Has reports whether any asset is registered at path.
func (f *Flat) Has(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[path]
	return ok
}

// Load returns objects at path whose type derives from t: the first one, or
// all with all set. The result is empty, never nil, when nothing matches.
// A non-empty result counts one holder until Release.
func (f *Flat) Load(path string, t source.Type, all bool) []*source.Object {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := []*source.Object{}
	r := f.records[path]
	if r == nil {
		return out
	}

	resident := 0
	if r.holders == 0 {
		resident = countLive(r.live)
	}
	for i, a := range r.assets {
		if !a.Type.Is(t) {
			continue
		}
		out = append(out, f.liveCopy(r, i))
		if !all {
			break
		}
	}
	if len(out) > 0 {
		// Copies left resident by an earlier holder stop being orphans.
		f.orphans -= resident
		r.holders++
	}
	return out
}

func (f *Flat) liveCopy(r *flatRecord, i int) *source.Object {
	for len(r.live) <= i {
		r.live = append(r.live, nil)
	}
	if o := r.live[i]; o != nil && !o.Destroyed() {
		return o
	}
	a := r.assets[i]
	data := make([]byte, len(a.Data))
	copy(data, a.Data)
	o := &source.Object{Path: a.Path, Name: a.Name, Type: a.Type, Data: data}
	r.live[i] = o
	return o
}

// Release drops one holder for path. When no holders remain the live copies
// become orphans.
func (f *Flat) Release(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r := f.records[path]
	if r == nil || r.holders == 0 {
		return
	}
	r.holders--
	if r.holders == 0 {
		f.orphans += countLive(r.live)
	}
}

// Orphans returns the number of released copies awaiting Sweep.
func (f *Flat) Orphans() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orphans
}

// Sweep destroys every orphaned copy and returns how many were destroyed.
func (f *Flat) Sweep() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	paths := make([]string, 0, len(f.records))
	for p := range f.records {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	swept := 0
	for _, p := range paths {
		r := f.records[p]
		if r.holders > 0 {
			continue
		}
		for i, o := range r.live {
			if o != nil && !o.Destroyed() {
				o.Destroy()
				swept++
			}
			r.live[i] = nil
		}
		r.live = r.live[:0]
	}
	f.orphans = 0
	if swept > 0 {
		logger.Debug("Flat storage swept", logger.KeyCount, swept)
	}
	return swept
}

func countLive(objs []*source.Object) int {
	n := 0
	for _, o := range objs {
		if o != nil && !o.Destroyed() {
			n++
		}
	}
	return n
}
