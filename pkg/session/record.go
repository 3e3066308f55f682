package session

import (
	"maps"
	"time"
)

// Record is the persisted form of a session. Stores always read and write
// it as one unit.
type Record struct {
	Data     map[string]any `json:"data"`
	Created  time.Time      `json:"created"`
	Accessed time.Time      `json:"accessed"`
	// Timeout is the idle timeout in whole seconds.
	Timeout int `json:"timeout"`
}

// TimeoutDuration returns Timeout as a time.Duration.
func (r *Record) TimeoutDuration() time.Duration {
	return time.Duration(r.Timeout) * time.Second
}

// TimeoutSeconds converts d to the whole seconds stored in Record.Timeout,
// rounding any fraction up so a short timeout never persists as zero.
func TimeoutSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// Expired reports whether the record has been idle longer than its timeout
// plus grace at time now.
func (r *Record) Expired(now time.Time, grace time.Duration) bool {
	return now.Sub(r.Accessed) > r.TimeoutDuration()+grace
}

// Clone returns a copy whose top-level data map is not shared with r.
func (r *Record) Clone() *Record {
	out := *r
	out.Data = make(map[string]any, len(r.Data))
	maps.Copy(out.Data, r.Data)
	return &out
}
