package contribval

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"sync/atomic"
)

// statsCollector keeps running totals for the periodic stats log line.
type statsCollector struct {
	validations  atomic.Uint64
	failures     atomic.Uint64
	checks       atomic.Uint64
	docBytes     atomic.Uint64
	minDocBytes  atomic.Uint64
	maxDocBytes  atomic.Uint64
	docsObserved atomic.Uint64
}

func newStatsCollector() *statsCollector {
	s := &statsCollector{}
	s.minDocBytes.Store(math.MaxUint64)
	return s
}

func (s *statsCollector) ObserveValidation(outcome string, docBytes int) {
	if s == nil {
		return
	}
	s.validations.Add(1)
	if outcome != OutcomeValid {
		s.failures.Add(1)
	}
	if docBytes <= 0 {
		return
	}
	n := uint64(docBytes)
	s.docsObserved.Add(1)
	s.docBytes.Add(n)
	for {
		cur := s.minDocBytes.Load()
		if n >= cur || s.minDocBytes.CompareAndSwap(cur, n) {
			break
		}
	}
	for {
		cur := s.maxDocBytes.Load()
		if n <= cur || s.maxDocBytes.CompareAndSwap(cur, n) {
			break
		}
	}
}

func (s *statsCollector) ObserveCheck() {
	if s == nil {
		return
	}
	s.checks.Add(1)
}

type statsSnapshot struct {
	Validations uint64
	Failures    uint64
	Checks      uint64
	MinDocBytes uint64
	MaxDocBytes uint64
	AvgDocBytes uint64
}

func (s *statsCollector) Snapshot() statsSnapshot {
	out := statsSnapshot{
		Validations: s.validations.Load(),
		Failures:    s.failures.Load(),
		Checks:      s.checks.Load(),
	}
	docs := s.docsObserved.Load()
	if docs == 0 {
		return out
	}
	out.MinDocBytes = s.minDocBytes.Load()
	out.MaxDocBytes = s.maxDocBytes.Load()
	out.AvgDocBytes = s.docBytes.Load() / docs
	return out
}

// logLine renders the periodic stats line. rss is omitted when unknown.
func (ss statsSnapshot) logLine(rss uint64, rssOK bool) string {
	line := fmt.Sprintf(
		"Validations: %d (failed %d), URL checks: %d, Doc min/avg/max %s/%s/%s",
		ss.Validations,
		ss.Failures,
		ss.Checks,
		formatBytes(ss.MinDocBytes),
		formatBytes(ss.AvgDocBytes),
		formatBytes(ss.MaxDocBytes),
	)
	if rssOK {
		line += ", RSS: " + formatBytes(rss)
	}
	return line
}

// parseStatmRSS reads the resident page count, the second field of
// /proc/self/statm, and converts it to bytes.
func parseStatmRSS(b []byte, pageSize int) (uint64, bool) {
	fields := bytes.Fields(b)
	if len(fields) < 2 || pageSize <= 0 {
		return 0, false
	}
	pages, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0, false
	}
	return pages * uint64(pageSize), true
}
