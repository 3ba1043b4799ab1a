package error

import (
	"sync"
	"time"

	"github.com/VictoriaMetrics/fastcache"

	WeftLogger "github.com/weftlabs/weft/internal/utils/logger"
)

// ErrorContext holds metadata about where the error occurred.
type ErrorContext struct {
	Source     string    `json:"source"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	Path       string    `json:"path,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ErrorStats tracks statistics for one distinct error message.
type ErrorStats struct {
	Count     int64            `json:"count"`
	FirstSeen time.Time        `json:"first_seen"`
	LastSeen  time.Time        `json:"last_seen"`
	Sources   map[string]int64 `json:"sources"`
}

// ErrorHandler records runtime failures (parse errors, handler panics,
// job failures) without letting a misbehaving peer flood the log: each
// distinct (source, message) pair is logged up to suppressAfter times,
// after which only the counters move.
type ErrorHandler struct {
	cache         *fastcache.Cache
	suppressAfter uint32

	statsLock sync.RWMutex
	stats     map[string]*ErrorStats
}

func NewErrorHandler(cacheSizeMB int) *ErrorHandler {
	if cacheSizeMB <= 0 {
		cacheSizeMB = 32
	}
	return &ErrorHandler{
		cache:         fastcache.New(cacheSizeMB * 1024 * 1024),
		suppressAfter: 5,
		stats:         make(map[string]*ErrorStats),
	}
}

// Record counts the error and logs it unless the same message from the
// same source has already been logged suppressAfter times.
func (e *ErrorHandler) Record(err error, ctx ErrorContext) {
	if e == nil || err == nil {
		return
	}

	errKey := err.Error()
	ctx.Timestamp = time.Now()

	e.statsLock.Lock()
	stat, exists := e.stats[errKey]
	if !exists {
		stat = &ErrorStats{
			FirstSeen: ctx.Timestamp,
			Sources:   make(map[string]int64),
		}
		e.stats[errKey] = stat
	}
	stat.Count++
	stat.LastSeen = ctx.Timestamp
	stat.Sources[ctx.Source]++
	e.statsLock.Unlock()

	seen := e.incrementSeenCount(seenKey(ctx.Source, errKey))
	if seen > e.suppressAfter {
		return
	}

	ev := WeftLogger.Error().Component(ctx.Source)
	if ctx.RemoteAddr != "" {
		ev = ev.Metadata("remote", ctx.RemoteAddr)
	}
	if ctx.Path != "" {
		ev = ev.Metadata("path", ctx.Path)
	}
	if seen == e.suppressAfter {
		ev = ev.Metadata("note", "further repeats suppressed")
	}
	ev.Msgf("%v", err)
}

// Stats returns a deep copy of the per-message statistics.
func (e *ErrorHandler) Stats() map[string]ErrorStats {
	e.statsLock.RLock()
	defer e.statsLock.RUnlock()

	out := make(map[string]ErrorStats, len(e.stats))
	for k, v := range e.stats {
		sources := make(map[string]int64, len(v.Sources))
		for s, n := range v.Sources {
			sources[s] = n
		}
		out[k] = ErrorStats{
			Count:     v.Count,
			FirstSeen: v.FirstSeen,
			LastSeen:  v.LastSeen,
			Sources:   sources,
		}
	}
	return out
}

// TotalCount reports how many errors have been recorded overall.
func (e *ErrorHandler) TotalCount() int64 {
	e.statsLock.RLock()
	defer e.statsLock.RUnlock()

	var total int64
	for _, v := range e.stats {
		total += v.Count
	}
	return total
}

func (e *ErrorHandler) PrintStats() {
	e.statsLock.RLock()
	defer e.statsLock.RUnlock()

	if len(e.stats) == 0 {
		return
	}

	WeftLogger.Info().Msg("=== Error Statistics ===")
	for errKey, stat := range e.stats {
		WeftLogger.Info().Msgf("%s: %d occurrence(s), first %s, last %s",
			errKey, stat.Count,
			stat.FirstSeen.Format(time.RFC3339),
			stat.LastSeen.Format(time.RFC3339))
		for source, count := range stat.Sources {
			WeftLogger.Info().Msgf("  - %s: %d", source, count)
		}
	}
}

func (e *ErrorHandler) Reset() {
	e.statsLock.Lock()
	e.stats = make(map[string]*ErrorStats)
	e.statsLock.Unlock()
	e.cache.Reset()
}
