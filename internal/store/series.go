package store

import (
	"sort"
	"sync"
	"time"

	"github.com/t77yq/metricwatch/internal/model"
)

// series holds the points of one (scope, name) key ordered by timestamp.
// points[start:] is the live window; the prefix is reclaimed on compaction.
type series struct {
	mu      sync.Mutex
	points  []model.MetricPoint
	start   int
	removed bool
}

func (s *series) len() int {
	return len(s.points) - s.start
}

func (s *series) live() []model.MetricPoint {
	return s.points[s.start:]
}

// insert adds p in timestamp order. In-order points take the O(1) append path.
func (s *series) insert(p model.MetricPoint) {
	n := len(s.points)
	if s.len() == 0 || !p.Timestamp.Before(s.points[n-1].Timestamp) {
		s.points = append(s.points, p)
		return
	}

	live := s.live()
	idx := sort.Search(len(live), func(i int) bool {
		return live[i].Timestamp.After(p.Timestamp)
	})
	pos := s.start + idx
	s.points = append(s.points, model.MetricPoint{})
	copy(s.points[pos+1:], s.points[pos:n])
	s.points[pos] = p
}

// evict drops points beyond maxPoints or older than maxAge relative to now,
// oldest first, and returns how many were removed.
func (s *series) evict(now time.Time, maxPoints int, maxAge time.Duration) int {
	evicted := 0
	if over := s.len() - maxPoints; over > 0 {
		s.dropFront(over)
		evicted += over
	}

	cutoff := now.Add(-maxAge)
	live := s.live()
	idx := sort.Search(len(live), func(i int) bool {
		return !live[i].Timestamp.Before(cutoff)
	})
	if idx > 0 {
		s.dropFront(idx)
		evicted += idx
	}

	s.compact()
	return evicted
}

func (s *series) dropFront(n int) {
	for i := s.start; i < s.start+n; i++ {
		s.points[i] = model.MetricPoint{}
	}
	s.start += n
}

// compact reclaims the dead prefix once it dominates the backing array
func (s *series) compact() {
	if s.start == 0 {
		return
	}
	if s.len() == 0 {
		s.points = s.points[:0]
		s.start = 0
		return
	}
	if s.start < len(s.points)/2 {
		return
	}
	n := copy(s.points, s.points[s.start:])
	for i := n; i < len(s.points); i++ {
		s.points[i] = model.MetricPoint{}
	}
	s.points = s.points[:n]
	s.start = 0
}

func (s *series) latest() (model.MetricPoint, bool) {
	if s.len() == 0 {
		return model.MetricPoint{}, false
	}
	return s.points[len(s.points)-1], true
}

// between returns a copy of points with start <= ts <= end
func (s *series) between(start, end time.Time) []model.MetricPoint {
	live := s.live()
	lo := sort.Search(len(live), func(i int) bool {
		return !live[i].Timestamp.Before(start)
	})
	hi := sort.Search(len(live), func(i int) bool {
		return live[i].Timestamp.After(end)
	})
	if lo >= hi {
		return nil
	}
	out := make([]model.MetricPoint, hi-lo)
	copy(out, live[lo:hi])
	return out
}
