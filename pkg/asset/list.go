package asset

import (
	"errors"
	"slices"

	"github.com/marmos91/dittobundle/internal/logger"
	"github.com/marmos91/dittobundle/pkg/metrics"
	"github.com/marmos91/dittobundle/pkg/scheduler"
	"github.com/marmos91/dittobundle/pkg/source"
	"github.com/marmos91/dittobundle/pkg/unit"
)

// Policy selects how a List combines its children.
type Policy int

const (
	// FirstAvailable loads children one after another and keeps the first
	// non-empty result.
	FirstAvailable Policy = iota

	// LoadAll starts every child at once and merges all results.
	LoadAll
)

func (p Policy) String() string {
	if p == LoadAll {
		return "load_all"
	}
	return "first_available"
}

type stepKind int

const (
	stepStart stepKind = iota
	stepWait
	stepCheck
	stepMerge
)

type step struct {
	kind  stepKind
	child int
}

// List aggregates the entries of a logical path that redirects to several
// locations. It runs a small command queue so a restart can discard pending
// waits without touching the children.
type List struct {
	key      Key
	children []*Entry
	policy   Policy
	env      *Env

	mode     unit.Mode
	priority int
	steps    []step
	pc       int
	tried    []bool
	errs     []error

	state   State
	objects []*source.Object
	err     error
	gen     uint64
	done    scheduler.Signal
}

// NewList creates a list over children. Children must not be indexed.
func NewList(key Key, children []*Entry, policy Policy, env *Env) *List {
	return &List{
		key:      key,
		children: children,
		policy:   policy,
		env:      env,
		tried:    make([]bool, len(children)),
	}
}

func (l *List) Key() Key                  { return l.key }
func (l *List) Policy() Policy            { return l.policy }
func (l *List) Children() []*Entry        { return l.children }
func (l *List) State() State              { return l.state }
func (l *List) Err() error                { return l.err }
func (l *List) Done() bool                { return l.state == Loaded || l.state == Error }
func (l *List) OnDone(fn func())          { l.done.Wait(fn) }
func (l *List) Objects() []*source.Object { return l.objects }

// LoadRequest starts the list. While loading, a request in another mode
// restarts it in that mode.
func (l *List) LoadRequest(mode unit.Mode, priority int) {
	switch l.state {
	case Loaded, Error:
		return
	case Loading:
		if mode != l.mode {
			l.Reset(mode)
		}
		return
	}

	l.state = Loading
	l.mode = mode
	l.priority = priority
	l.steps = l.plan()
	l.errs = nil
	l.pc = 0
	l.gen++
	l.run()
}

// Reset discards pending waits and reruns the command queue in mode.
// Children that were already checked and dropped are not retried.
func (l *List) Reset(mode unit.Mode) {
	if l.state != Loading {
		return
	}
	logger.Debug("List restarted", logger.KeyPath, l.key.Path, logger.KeyMode, mode.String())
	l.mode = mode
	l.pc = 0
	l.gen++
	l.run()
}

func (l *List) plan() []step {
	n := len(l.children)
	steps := make([]step, 0, 3*n+1)
	if l.policy == FirstAvailable {
		for i := range l.children {
			steps = append(steps, step{stepStart, i}, step{stepWait, i}, step{stepCheck, i})
		}
		return steps
	}
	for i := range l.children {
		steps = append(steps, step{kind: stepStart, child: i})
	}
	for i := range l.children {
		steps = append(steps, step{kind: stepWait, child: i})
	}
	return append(steps, step{kind: stepMerge})
}

func (l *List) run() {
	for l.pc < len(l.steps) {
		s := l.steps[l.pc]
		if s.kind != stepMerge && l.tried[s.child] {
			l.pc++
			continue
		}

		switch s.kind {
		case stepStart:
			l.children[s.child].LoadRequest(l.mode, l.priority)

		case stepWait:
			c := l.children[s.child]
			if !c.Done() {
				gen := l.gen
				c.OnDone(func() {
					if gen == l.gen && l.state == Loading {
						l.run()
					}
				})
				return
			}

		case stepCheck:
			c := l.children[s.child]
			if len(c.Objects()) > 0 {
				l.finish(slices.Clone(c.Objects()))
				return
			}
			l.drop(s.child)

		case stepMerge:
			merged := []*source.Object{}
			for i, c := range l.children {
				if l.tried[i] {
					continue
				}
				if len(c.Objects()) == 0 {
					l.drop(i)
					continue
				}
				merged = append(merged, c.Objects()...)
			}
			l.finish(merged)
			return
		}
		l.pc++
	}
	l.finish([]*source.Object{})
}

// drop unloads an empty or failed child, keeping its error for finish.
func (l *List) drop(i int) {
	c := l.children[i]
	if err := c.Err(); err != nil {
		l.errs = append(l.errs, err)
	}
	l.tried[i] = true
	c.Unload()
}

// finish settles the list. It is Error only when every child failed.
func (l *List) finish(objs []*source.Object) {
	l.objects = objs
	l.err = nil
	l.state = Loaded
	if len(objs) == 0 && len(l.children) > 0 && len(l.errs) == len(l.children) {
		l.state = Error
		l.err = errors.Join(l.errs...)
	}

	if l.env.Index != nil {
		l.env.Index.Add(l, objs)
	}

	if l.err != nil {
		logger.Warn("Asset list failed", logger.KeyPath, l.key.Path, logger.AssetType(string(l.key.Type)), logger.Err(l.err))
	}
	metrics.RecordEntry(l.env.Metrics, "list", outcome(l.state, len(objs)))
	l.done.Fire()
}

// EnsureAll switches the list and its children to all-objects mode.
func (l *List) EnsureAll() {
	if l.policy == LoadAll && !slices.ContainsFunc(l.children, func(c *Entry) bool { return !c.All() }) {
		return
	}
	l.policy = LoadAll
	for _, c := range l.children {
		c.EnsureAll()
	}
	if l.state == Ready {
		return
	}
	if l.env.Index != nil {
		l.env.Index.RemoveAll(l.objects)
	}
	l.objects = nil
	l.err = nil
	l.state = Ready
	l.gen++
	l.errs = nil
	clear(l.tried)
	l.done.Reset()
}

// Unload unloads every child and reports whether the list held objects.
func (l *List) Unload() bool {
	had := len(l.objects) > 0
	if l.env.Index != nil {
		l.env.Index.RemoveAll(l.objects)
	}
	for _, c := range l.children {
		c.Unload()
	}
	l.objects = nil
	l.err = nil
	l.state = Ready
	l.gen++
	l.errs = nil
	clear(l.tried)
	l.done.Reset()
	l.done.Clear()
	return had
}

// RemoveObject drops obj from the list and from the child holding it. A
// child left empty is unloaded.
func (l *List) RemoveObject(obj *source.Object) bool {
	i := slices.Index(l.objects, obj)
	if i < 0 {
		return len(l.objects) == 0
	}
	l.objects = slices.Delete(l.objects, i, i+1)
	if l.env.Index != nil {
		l.env.Index.Remove(obj)
	}
	for _, c := range l.children {
		if slices.Contains(c.Objects(), obj) {
			if c.RemoveObject(obj) {
				c.Unload()
			}
			break
		}
	}
	return len(l.objects) == 0
}
