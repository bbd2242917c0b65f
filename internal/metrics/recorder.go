package metrics

import (
	"errors"
	"sync"

	"github.com/plexsphere/natcheck/internal/natcheck"
)

// Snapshot is a point-in-time copy of the session counters.
type Snapshot struct {
	Completed int64 `json:"completed"`
	NoNAT     int64 `json:"no_nat"`

	// Mapping counts NAT sessions per mapping behavior.
	Mapping map[string]int64 `json:"mapping"`

	// Filtering counts NAT sessions per filtering behavior.
	Filtering map[string]int64 `json:"filtering"`

	Predictable   int64 `json:"predictable"`
	Unpredictable int64 `json:"unpredictable"`

	// Aborted counts sessions that ended without a record, per reason.
	Aborted map[string]int64 `json:"aborted"`
}

// Abort reasons used as Snapshot.Aborted keys.
const (
	AbortProtocol = "protocol_violation"
	AbortProbe    = "probe_failed"
	AbortPeer     = "peer_closed"
	AbortStore    = "record_rejected"
	AbortOther    = "other"
)

// Recorder counts session outcomes. It implements natcheck.Observer and is
// safe for concurrent use.
type Recorder struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewRecorder creates a Recorder with all counters at zero.
func NewRecorder() *Recorder {
	return &Recorder{snap: emptySnapshot()}
}

func emptySnapshot() Snapshot {
	return Snapshot{
		Mapping:   make(map[string]int64),
		Filtering: make(map[string]int64),
		Aborted:   make(map[string]int64),
	}
}

// SessionCompleted counts a classified session.
func (r *Recorder) SessionCompleted(rec natcheck.SessionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.snap.Completed++
	if !rec.NAT.HasNAT {
		r.snap.NoNAT++
		return
	}
	r.snap.Mapping[rec.NAT.Mapping.String()]++
	r.snap.Filtering[rec.NAT.Filtering.String()]++
	if rec.NAT.Predictable {
		r.snap.Predictable++
	} else {
		r.snap.Unpredictable++
	}
}

// SessionAborted counts a session that ended without a record.
func (r *Recorder) SessionAborted(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.Aborted[abortReason(err)]++
}

// Snapshot returns a copy of the current counters.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.snap
	out.Mapping = cloneCounts(r.snap.Mapping)
	out.Filtering = cloneCounts(r.snap.Filtering)
	out.Aborted = cloneCounts(r.snap.Aborted)
	return out
}

func abortReason(err error) string {
	switch {
	case errors.Is(err, natcheck.ErrRecordRejected):
		return AbortStore
	case errors.Is(err, natcheck.ErrProtocolViolation):
		return AbortProtocol
	case errors.Is(err, natcheck.ErrProbeFailed):
		return AbortProbe
	case errors.Is(err, natcheck.ErrPeerClosed):
		return AbortPeer
	default:
		return AbortOther
	}
}

func cloneCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
