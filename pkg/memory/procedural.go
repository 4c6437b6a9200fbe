package memory

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"github.com/castmesh/castmesh/pkg/apperrors"
)

// Action is one step in a recorded workflow execution
type Action struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
	Success  bool          `json:"success"`
}

// Pattern is a mined recurring action sequence with empirical stats
type Pattern struct {
	Sequence    []string      `json:"sequence"`
	Support     int           `json:"support"`
	SuccessRate float64       `json:"success_rate"`
	AvgDuration time.Duration `json:"avg_duration"`
}

type recording struct {
	owner   string
	actions []Action
}

// ProceduralStore records action sequences and mines recurring patterns
// from them
type ProceduralStore struct {
	mu         sync.RWMutex
	recordings []recording
	maxLen     int
}

// NewProceduralStore creates a store mining patterns up to maxLen steps
func NewProceduralStore(maxLen int) *ProceduralStore {
	if maxLen <= 0 {
		maxLen = 5
	}
	return &ProceduralStore{maxLen: maxLen}
}

// Record stores one executed sequence
func (p *ProceduralStore) Record(owner string, actions []Action) error {
	if len(actions) == 0 {
		return apperrors.New(apperrors.KindValidation, "action sequence is empty")
	}
	for _, a := range actions {
		if a.Name == "" {
			return apperrors.New(apperrors.KindValidation, "action name is required")
		}
	}
	p.mu.Lock()
	p.recordings = append(p.recordings, recording{owner: owner, actions: append([]Action(nil), actions...)})
	p.mu.Unlock()
	return nil
}

// Recordings reports how many sequences are stored
func (p *ProceduralStore) Recordings() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.recordings)
}

// mineMaxGap is how many actions a mined subsequence may skip between
// consecutive steps. A noisy extra action inside an otherwise recurring
// workflow does not break the pattern.
const mineMaxGap = 1

// MinePatterns enumerates action subsequences up to the configured
// maximum length, tolerating up to mineMaxGap skipped actions between
// consecutive steps, and keeps those whose support meets minSupport.
// Support counts at most one occurrence per recording. Patterns are
// returned longest first, then by support.
func (p *ProceduralStore) MinePatterns(minSupport int) []Pattern {
	if minSupport < 1 {
		minSupport = 1
	}

	p.mu.RLock()
	recs := p.recordings
	type stats struct {
		support   int
		successes int
		total     time.Duration
		runs      int
	}
	counts := make(map[string]*stats)
	keySeq := make(map[string][]string)

	for _, rec := range recs {
		seen := make(map[string]bool)
		var extend func(names []string, last int, dur time.Duration, ok bool)
		extend = func(names []string, last int, dur time.Duration, ok bool) {
			key := joinKey(names)
			st, exists := counts[key]
			if !exists {
				st = &stats{}
				counts[key] = st
				keySeq[key] = append([]string(nil), names...)
			}
			if !seen[key] {
				st.support++
				seen[key] = true
			}
			if ok {
				st.successes++
			}
			st.total += dur
			st.runs++

			if len(names) == p.maxLen {
				return
			}
			for next := last + 1; next <= last+1+mineMaxGap && next < len(rec.actions); next++ {
				a := rec.actions[next]
				longer := append(append(make([]string, 0, len(names)+1), names...), a.Name)
				extend(longer, next, dur+a.Duration, ok && a.Success)
			}
		}
		for start, a := range rec.actions {
			extend([]string{a.Name}, start, a.Duration, a.Success)
		}
	}
	p.mu.RUnlock()

	var out []Pattern
	for key, st := range counts {
		if st.support < minSupport {
			continue
		}
		out = append(out, Pattern{
			Sequence:    keySeq[key],
			Support:     st.support,
			SuccessRate: float64(st.successes) / float64(st.runs),
			AvgDuration: st.total / time.Duration(st.runs),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].Sequence) != len(out[j].Sequence) {
			return len(out[i].Sequence) > len(out[j].Sequence)
		}
		if out[i].Support != out[j].Support {
			return out[i].Support > out[j].Support
		}
		return joinKey(out[i].Sequence) < joinKey(out[j].Sequence)
	})
	return out
}

func joinKey(names []string) string {
	key := ""
	for i, n := range names {
		if i > 0 {
			key += "\x1f"
		}
		key += n
	}
	return key
}

type transition struct {
	count int
	total time.Duration
}

// pathNode is an A* frontier entry
type pathNode struct {
	state    string
	cost     time.Duration
	priority time.Duration
	index    int
}

type pathHeap []*pathNode

func (h pathHeap) Len() int            { return len(h) }
func (h pathHeap) Less(i, j int) bool  { return h[i].priority < h[j].priority }
func (h pathHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *pathHeap) Push(x interface{}) { n := x.(*pathNode); n.index = len(*h); *h = append(*h, n) }
func (h *pathHeap) Pop() interface{} {
	old := *h
	n := old[len(old)-1]
	*h = old[:len(old)-1]
	return n
}

// BestPath finds the cheapest action path from one state to another over
// the empirical transition graph. Edge cost is the mean observed
// duration of the destination action; the heuristic is remaining stage
// distance times the cheapest observed edge, which never overestimates.
func (p *ProceduralStore) BestPath(from, to string) ([]string, time.Duration, error) {
	p.mu.RLock()
	edges := make(map[string]map[string]*transition)
	stage := make(map[string]float64)
	stageCount := make(map[string]int)
	var minEdge time.Duration

	for _, rec := range p.recordings {
		for i, a := range rec.actions {
			stage[a.Name] += float64(i)
			stageCount[a.Name]++
			if i == 0 {
				continue
			}
			prev := rec.actions[i-1].Name
			if edges[prev] == nil {
				edges[prev] = make(map[string]*transition)
			}
			tr := edges[prev][a.Name]
			if tr == nil {
				tr = &transition{}
				edges[prev][a.Name] = tr
			}
			tr.count++
			tr.total += a.Duration
		}
	}
	p.mu.RUnlock()

	for name := range stage {
		stage[name] /= float64(stageCount[name])
	}
	for _, outs := range edges {
		for _, tr := range outs {
			mean := tr.total / time.Duration(tr.count)
			if minEdge == 0 || mean < minEdge {
				minEdge = mean
			}
		}
	}

	if _, ok := stage[from]; !ok {
		return nil, 0, apperrors.Newf(apperrors.KindNotFound, "state %s never recorded", from)
	}
	if _, ok := stage[to]; !ok {
		return nil, 0, apperrors.Newf(apperrors.KindNotFound, "state %s never recorded", to)
	}

	heuristic := func(state string) time.Duration {
		remaining := stage[to] - stage[state]
		if remaining <= 0 {
			return 0
		}
		return time.Duration(remaining) * minEdge
	}

	frontier := &pathHeap{}
	heap.Init(frontier)
	heap.Push(frontier, &pathNode{state: from, priority: heuristic(from)})
	cameFrom := make(map[string]string)
	costSoFar := map[string]time.Duration{from: 0}

	for frontier.Len() > 0 {
		current := heap.Pop(frontier).(*pathNode)
		if current.state == to {
			path := []string{to}
			for s := to; s != from; {
				s = cameFrom[s]
				path = append([]string{s}, path...)
			}
			return path, current.cost, nil
		}
		for next, tr := range edges[current.state] {
			mean := tr.total / time.Duration(tr.count)
			cost := current.cost + mean
			if prev, ok := costSoFar[next]; !ok || cost < prev {
				costSoFar[next] = cost
				cameFrom[next] = current.state
				heap.Push(frontier, &pathNode{state: next, cost: cost, priority: cost + heuristic(next)})
			}
		}
	}
	return nil, 0, apperrors.Newf(apperrors.KindNotFound, "no recorded path from %s to %s", from, to)
}
