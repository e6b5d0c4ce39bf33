package app

import (
	"context"
	"sort"
	"sync"

	"guildrelay/internal/eventbus"
	"guildrelay/internal/relay"
	logx "guildrelay/pkg/logx"
)

// Stats counts pipeline outcomes per direction from bus events.
type Stats struct {
	mu     sync.Mutex
	counts map[relay.Direction]map[relay.Outcome]uint64
}

func NewStats() *Stats {
	return &Stats{counts: map[relay.Direction]map[relay.Outcome]uint64{}}
}

func (s *Stats) Record(e relay.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.counts[e.Direction]
	if m == nil {
		m = map[relay.Outcome]uint64{}
		s.counts[e.Direction] = m
	}
	m[e.Outcome]++
}

// Consume records relay events until ctx ends or the channel closes.
func (s *Stats) Consume(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if re, ok := e.Data.(relay.Event); ok {
				s.Record(re)
			}
		}
	}
}

func (s *Stats) Count(dir relay.Direction, out relay.Outcome) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[dir][out]
}

// Log writes one summary line per direction.
func (s *Stats) Log(log logx.Logger, busDropped uint64) {
	s.mu.Lock()
	dirs := make([]relay.Direction, 0, len(s.counts))
	for d := range s.counts {
		dirs = append(dirs, d)
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i] < dirs[j] })
	lines := make([][]logx.Field, 0, len(dirs))
	for _, d := range dirs {
		fields := []logx.Field{logx.String("dir", string(d))}
		outs := make([]string, 0, len(s.counts[d]))
		for o := range s.counts[d] {
			outs = append(outs, string(o))
		}
		sort.Strings(outs)
		for _, o := range outs {
			fields = append(fields, logx.Uint64(o, s.counts[d][relay.Outcome(o)]))
		}
		lines = append(lines, fields)
	}
	s.mu.Unlock()

	for _, f := range lines {
		log.Info("relay stats", f...)
	}
	if busDropped > 0 {
		log.Warn("relay events dropped before stats", logx.Uint64("count", busDropped))
	}
}
