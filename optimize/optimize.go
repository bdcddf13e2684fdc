// Package optimize rewrites translated method bodies with local peephole
// passes: copy elision, branch-chain collapse, dead branch and marker
// removal, marker coalescing, and dead temporary removal.
//
// Passes only remove or retarget nodes; they never invent control flow.
// The pass sequence repeats until a full round changes nothing, so
// running Method twice is the same as running it once.
package optimize

import (
	"github.com/tliron/commonlog"

	"github.com/reignstudios/il2x/ir"
)

var log = commonlog.GetLogger("il2x.optimize")

// Stats counts the rewrites made by each pass.
type Stats struct {
	CopiesElided       int
	BranchesRetargeted int
	DeadBranches       int
	MarkersMerged      int
	DeadMarkers        int
	DeadTemps          int
	Rounds             int
}

// Total returns the number of rewrites of all passes.
func (s Stats) Total() int {
	return s.CopiesElided + s.BranchesRetargeted + s.DeadBranches +
		s.MarkersMerged + s.DeadMarkers + s.DeadTemps
}

// Method optimizes m in place.
func Method(m *ir.Method) Stats {
	var st Stats
	for {
		st.Rounds++
		n := elideCopies(m)
		st.CopiesElided += n
		changed := n

		n = collapseBranchChains(m)
		st.BranchesRetargeted += n
		changed += n

		n = removeDeadMarkers(m)
		st.DeadMarkers += n
		changed += n

		n = removeDeadBranches(m)
		st.DeadBranches += n
		changed += n

		n = coalesceMarkers(m)
		st.MarkersMerged += n
		changed += n

		n = removeDeadMarkers(m)
		st.DeadMarkers += n
		changed += n

		if changed == 0 {
			break
		}
	}
	st.DeadTemps = removeDeadTemps(m)
	log.Debugf("optimized %s: %+v", m.Name(), st)
	return st
}

// ========================================================================
// Pass 1: copy elision
// ========================================================================

// elideCopies folds a producer into the statement right after it when
// that statement only moves the producer's value:
//
//	t = expr; x = t    =>  x = expr
//	t = expr; return t =>  return expr
//	x = expr; return x =>  return expr
//
// The scan runs from the end and re-checks a position after each
// rewrite.
func elideCopies(m *ir.Method) int {
	b := &m.Body
	n := 0
	for i := b.Len() - 1; i >= 1; {
		if elideAt(b, i) {
			n++
			if i > b.Len()-1 {
				i = b.Len() - 1
			}
			continue
		}
		i--
	}
	return n
}

func elideAt(b *ir.Body, i int) bool {
	p, ok := b.At(i - 1).(ir.Producer)
	if !ok {
		return false
	}
	d := p.ResultDest()
	if d.Result == nil {
		return false
	}
	switch n := b.At(i).(type) {
	case *ir.WriteLocal:
		tmp, ok := n.Value.(*ir.EvalTemp)
		if !ok || d.Result != ir.Slot(tmp) || d.Uses != 1 || n.Result == nil {
			return false
		}
		ir.SetResult(p, n.Result)
		b.Remove(i)
		return true
	case *ir.ReturnValue:
		switch v := n.Value.(type) {
		case *ir.EvalTemp:
			if d.Result != ir.Slot(v) || d.Uses != 1 {
				return false
			}
		case *ir.Local, *ir.Param:
			if d.Result != v.(ir.Slot) {
				return false
			}
		default:
			return false
		}
		ir.SetResult(p, nil)
		if w, ok := p.(*ir.WriteLocal); ok {
			n.Value = w.Value
		} else {
			n.Value = p
		}
		b.Remove(i - 1)
		return true
	}
	return false
}

// ========================================================================
// Pass 2: branch-chain collapse
// ========================================================================

// collapseBranchChains retargets a branch whose target marker is
// followed by an unconditional branch, transitively. A chain that loops
// back on itself stops at the first repeated label.
func collapseBranchChains(m *ir.Method) int {
	b := &m.Body
	n := 0
	for i := 0; i < b.Len(); i++ {
		switch br := b.At(i).(type) {
		case *ir.Branch:
			if to := finalTarget(b, br.Label); to != br.Label {
				br.Label = to
				n++
			}
		case *ir.BranchCond:
			if to := finalTarget(b, br.Label); to != br.Label {
				br.Label = to
				n++
			}
		}
	}
	return n
}

func finalTarget(b *ir.Body, label int) int {
	seen := map[int]bool{label: true}
	for {
		j := b.MarkerIndex(label)
		if j < 0 {
			return label
		}
		for j++; j < b.Len(); j++ {
			if _, ok := b.At(j).(*ir.Marker); !ok {
				break
			}
		}
		if j >= b.Len() {
			return label
		}
		next, ok := b.At(j).(*ir.Branch)
		if !ok || seen[next.Label] {
			return label
		}
		label = next.Label
		seen[label] = true
	}
}

// ========================================================================
// Pass 3: dead branches
// ========================================================================

// removeDeadBranches drops unconditional branches control cannot reach
// (right after another terminator) and branches to the marker that
// immediately follows them.
func removeDeadBranches(m *ir.Method) int {
	b := &m.Body
	n := 0
	for i := 0; i < b.Len(); {
		br, ok := b.At(i).(*ir.Branch)
		if ok && (i > 0 && ir.IsTerminator(b.At(i-1)) || jumpsToNext(b, i, br.Label)) {
			b.Remove(i)
			n++
			continue
		}
		i++
	}
	return n
}

func jumpsToNext(b *ir.Body, i, label int) bool {
	for j := i + 1; j < b.Len(); j++ {
		mk, ok := b.At(j).(*ir.Marker)
		if !ok {
			return false
		}
		if mk.Label == label {
			return true
		}
	}
	return false
}

// ========================================================================
// Pass 4: marker coalescing
// ========================================================================

// coalesceMarkers merges runs of adjacent markers into the first one,
// retargeting every branch to the survivors.
func coalesceMarkers(m *ir.Method) int {
	b := &m.Body
	alias := make(map[int]int)
	for i := 1; i < b.Len(); {
		prev, ok1 := b.At(i - 1).(*ir.Marker)
		cur, ok2 := b.At(i).(*ir.Marker)
		if ok1 && ok2 {
			alias[cur.Label] = prev.Label
			b.Remove(i)
			continue
		}
		i++
	}
	if len(alias) == 0 {
		return 0
	}
	resolve := func(l int) int {
		for {
			to, ok := alias[l]
			if !ok {
				return l
			}
			l = to
		}
	}
	for i := 0; i < b.Len(); i++ {
		switch br := b.At(i).(type) {
		case *ir.Branch:
			br.Label = resolve(br.Label)
		case *ir.BranchCond:
			br.Label = resolve(br.Label)
		}
	}
	return len(alias)
}

// ========================================================================
// Pass 5: dead markers
// ========================================================================

func removeDeadMarkers(m *ir.Method) int {
	b := &m.Body
	used := make(map[int]bool)
	for i := 0; i < b.Len(); i++ {
		switch br := b.At(i).(type) {
		case *ir.Branch:
			used[br.Label] = true
		case *ir.BranchCond:
			used[br.Label] = true
		}
	}
	n := 0
	for i := 0; i < b.Len(); {
		if mk, ok := b.At(i).(*ir.Marker); ok && !used[mk.Label] {
			b.Remove(i)
			n++
			continue
		}
		i++
	}
	return n
}

// ========================================================================
// Pass 6: dead temporaries
// ========================================================================

// removeDeadTemps drops temporaries that no remaining node writes.
// Surviving temporaries keep their indices.
func removeDeadTemps(m *ir.Method) int {
	kept := m.Temps[:0]
	n := 0
	for _, t := range m.Temps {
		if t.Refs > 0 {
			kept = append(kept, t)
		} else {
			n++
		}
	}
	m.Temps = kept
	return n
}
