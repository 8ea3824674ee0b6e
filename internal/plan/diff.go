package plan

import (
	"container/heap"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/atomikpanda/pkgdeliver/internal/actions"
)

// Op is what a step does to its action.
type Op int

const (
	OpInstall Op = iota
	OpUpdate
	OpRemove
)

func (o Op) String() string {
	switch o {
	case OpInstall:
		return "install"
	case OpUpdate:
		return "update"
	case OpRemove:
		return "remove"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Step pairs the origin and destination forms of one action. Orig is nil
// for an install, Dest is nil for a removal.
type Step struct {
	Op   Op
	Orig actions.Action
	Dest actions.Action
}

// Action returns the action the step operates on.
func (s Step) Action() actions.Action {
	if s.Dest != nil {
		return s.Dest
	}
	return s.Orig
}

func (s Step) String() string {
	return s.Op.String() + " " + s.Action().Describe()
}

// Diff is the ordered work of a plan. Removals run first, children before
// their directories; installs and updates follow, directories before their
// contents.
type Diff struct {
	Removals []Step
	Installs []Step
}

// Len returns the number of steps.
func (d *Diff) Len() int {
	return len(d.Removals) + len(d.Installs)
}

// Steps returns every step in application order.
func (d *Diff) Steps() []Step {
	steps := make([]Step, 0, d.Len())
	steps = append(steps, d.Removals...)
	return append(steps, d.Installs...)
}

// Counts returns the number of installs, updates and removals.
func (d *Diff) Counts() (installs, updates, removals int) {
	for _, s := range d.Installs {
		if s.Op == OpUpdate {
			updates++
		} else {
			installs++
		}
	}
	return installs, updates, len(d.Removals)
}

type groupKey struct {
	name, key string
}

// Compute pairs origin and destination actions and orders the result. It
// fails with an actions.ErrUniqueness error, before anything is touched,
// when two destination actions claim the same globally unique key.
func Compute(origin, dest []actions.Action) (*Diff, error) {
	if err := checkUnique(dest); err != nil {
		return nil, err
	}

	origGroups, order := group(origin, nil)
	destGroups, order := group(dest, order)

	var d Diff
	for _, gk := range order {
		o, n := origGroups[gk], destGroups[gk]
		// Repeated keys of non-unique types pair by position.
		for i := 0; i < max(len(o), len(n)); i++ {
			var s Step
			if i < len(o) {
				s.Orig = o[i]
			}
			if i < len(n) {
				s.Dest = n[i]
			}
			switch {
			case s.Orig == nil:
				s.Op = OpInstall
			case s.Dest == nil:
				s.Op = OpRemove
			default:
				s.Op = OpUpdate
			}
			if s.Op == OpRemove {
				d.Removals = append(d.Removals, s)
			} else {
				d.Installs = append(d.Installs, s)
			}
		}
	}

	d.Removals = topoSort(d.Removals, true)
	d.Installs = orderInstalls(d.Installs)
	return &d, nil
}

func group(acts []actions.Action, order []groupKey) (map[groupKey][]actions.Action, []groupKey) {
	groups := make(map[groupKey][]actions.Action)
	seen := make(map[groupKey]bool, len(order))
	for _, gk := range order {
		seen[gk] = true
	}
	for _, a := range acts {
		gk := groupKey{a.Name(), a.Key()}
		groups[gk] = append(groups[gk], a)
		if !seen[gk] {
			seen[gk] = true
			order = append(order, gk)
		}
	}
	return groups, order
}

func checkUnique(dest []actions.Action) error {
	type nsKey struct{ ns, key string }
	claimed := make(map[nsKey]actions.Action)
	var errs []error
	for _, a := range dest {
		if !a.GloballyUnique() {
			continue
		}
		k := nsKey{a.Namespace(), a.Key()}
		prev, dup := claimed[k]
		if !dup {
			claimed[k] = a
			continue
		}
		errs = append(errs, &actions.Error{
			Kind:   actions.KindUniqueness,
			Action: a.Name(),
			Key:    a.Key(),
			Reason: fmt.Sprintf("%s already delivered by a %s action", a.Namespace(), prev.Name()),
		})
	}
	return errors.Join(errs...)
}

// orderInstalls places hardlinks after every other step so their targets
// exist when they are linked.
func orderInstalls(steps []Step) []Step {
	var links, rest []Step
	for _, s := range steps {
		if s.Action().Name() == "hardlink" {
			links = append(links, s)
		} else {
			rest = append(rest, s)
		}
	}
	return append(topoSort(rest, false), topoSort(links, false)...)
}

// topoSort sorts steps topologically over their directory references using
// Kahn's algorithm. An edge runs from a delivered directory to every step
// whose object lives beneath it; children reverses the edges. Steps that
// are ready together are taken in Compare order.
func topoSort(steps []Step, children bool) []Step {
	if len(steps) < 2 {
		return steps
	}
	dirs := make(map[string]int)
	for i, s := range steps {
		if a := s.Action(); a.Name() == "dir" {
			dirs[a.Key()] = i
		}
	}

	next := make([][]int, len(steps))
	inDegree := make([]int, len(steps))
	for i, s := range steps {
		for _, ref := range s.Action().DirectoryReferences() {
			j, ok := nearestDir(ref, dirs)
			if !ok || j == i {
				continue
			}
			from, to := j, i
			if children {
				from, to = i, j
			}
			next[from] = append(next[from], to)
			inDegree[to]++
		}
	}

	ready := &stepHeap{steps: steps}
	for i := range steps {
		if inDegree[i] == 0 {
			ready.idx = append(ready.idx, i)
		}
	}
	heap.Init(ready)

	out := make([]Step, 0, len(steps))
	done := make([]bool, len(steps))
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		out = append(out, steps[i])
		done[i] = true
		for _, j := range next[i] {
			inDegree[j]--
			if inDegree[j] == 0 {
				heap.Push(ready, j)
			}
		}
	}

	// Directory references form a tree, so this only triggers on a cycle
	// through malformed keys. Keep whatever is left in Compare order.
	if len(out) < len(steps) {
		var rest []Step
		for i, s := range steps {
			if !done[i] {
				rest = append(rest, s)
			}
		}
		sort.SliceStable(rest, func(a, b int) bool {
			return less(rest[a], rest[b])
		})
		out = append(out, rest...)
	}
	return out
}

// nearestDir walks ref and its ancestors up to the image root and returns
// the first one delivered by a step.
func nearestDir(ref string, dirs map[string]int) (int, bool) {
	for r := filepath.Clean(ref); r != "." && r != string(filepath.Separator); r = filepath.Dir(r) {
		if j, ok := dirs[r]; ok {
			return j, true
		}
	}
	return 0, false
}

func less(a, b Step) bool {
	if c := a.Action().Compare(b.Action()); c != 0 {
		return c < 0
	}
	return a.Action().Name() < b.Action().Name()
}

// stepHeap is a min-heap of step indices.
type stepHeap struct {
	steps []Step
	idx   []int
}

func (h *stepHeap) Len() int           { return len(h.idx) }
func (h *stepHeap) Less(a, b int) bool { return less(h.steps[h.idx[a]], h.steps[h.idx[b]]) }
func (h *stepHeap) Swap(a, b int)      { h.idx[a], h.idx[b] = h.idx[b], h.idx[a] }
func (h *stepHeap) Push(x any)         { h.idx = append(h.idx, x.(int)) }

func (h *stepHeap) Pop() any {
	n := len(h.idx)
	x := h.idx[n-1]
	h.idx = h.idx[:n-1]
	return x
}
