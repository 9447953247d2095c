package session

import (
	"strings"
	"time"
)

// summarizeLoop runs the periodic background summarization for one session.
// It exits when the session context is cancelled; an in-flight cycle may
// finish, but its pushes are discarded by the closed writer.
func (s *Session) summarizeLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.summaryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.summarizeTick()
		}
	}
}

// summarizeTick performs one summarization cycle. Ticks are skipped entirely
// when nothing new has been committed or when a previous cycle is still in
// flight — there is no queuing, at most one cycle runs per session.
func (s *Session) summarizeTick() {
	s.mu.Lock()
	grown := len(s.fragments) > s.lastSummarized
	s.mu.Unlock()
	if !grown {
		return
	}

	if !s.sumMu.TryLock() {
		s.log.Debug("skipping summarization tick, previous cycle still running")
		return
	}
	defer s.sumMu.Unlock()

	s.mu.Lock()
	count := len(s.fragments)
	transcript := strings.Join(s.fragments, " ")
	s.mu.Unlock()

	start := time.Now()
	summary, sumOK := s.insight.Summary(s.ctx, transcript)
	if sumOK {
		s.push(SummaryEvent{Type: EventSummary, Summary: summary})
	}

	points, ptsOK := s.insight.ConversationPoints(s.ctx, transcript)
	if ptsOK && points != nil {
		s.push(ConversationPointsEvent{Type: EventConversationPoints, Points: *points})
	}
	s.metrics.SummaryDuration.Record(s.ctx, time.Since(start).Seconds())

	// The high-water mark only advances on a successful cycle; a degraded
	// client means the same fragments are retried on the next tick.
	if sumOK || ptsOK {
		s.mu.Lock()
		s.lastSummarized = count
		s.mu.Unlock()
	}
}
