package metrics

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/plexsphere/natcheck/internal/natcheck"
)

func TestRecorder_CountsOutcomes(t *testing.T) {
	r := NewRecorder()

	r.SessionCompleted(natcheck.SessionRecord{NAT: natcheck.NoNAT()})
	r.SessionCompleted(natcheck.SessionRecord{NAT: natcheck.NATType{
		HasNAT: true, Mapping: natcheck.EndpointIndependent, Filtering: natcheck.AddressDependent, Predictable: true,
	}})
	r.SessionCompleted(natcheck.SessionRecord{NAT: natcheck.NATType{
		HasNAT: true, Mapping: natcheck.AddressAndPortDependent, Filtering: natcheck.AddressDependent,
	}})
	r.SessionAborted(fmt.Errorf("%w: no IDENTIFIER", natcheck.ErrProtocolViolation))
	r.SessionAborted(fmt.Errorf("%w: bind", natcheck.ErrProbeFailed))
	r.SessionAborted(errors.Join(natcheck.ErrPeerClosed, errors.New("eof")))
	r.SessionAborted(fmt.Errorf("%w: disk full", natcheck.ErrRecordRejected))
	r.SessionAborted(errors.New("context canceled"))

	s := r.Snapshot()
	if s.Completed != 3 || s.NoNAT != 1 {
		t.Errorf("Completed = %d NoNAT = %d, want 3/1", s.Completed, s.NoNAT)
	}
	if s.Mapping["endpoint-independent"] != 1 || s.Mapping["address-and-port-dependent"] != 1 {
		t.Errorf("Mapping = %v", s.Mapping)
	}
	if s.Filtering["address-dependent"] != 2 {
		t.Errorf("Filtering = %v", s.Filtering)
	}
	if s.Predictable != 1 || s.Unpredictable != 1 {
		t.Errorf("Predictable = %d Unpredictable = %d, want 1/1", s.Predictable, s.Unpredictable)
	}
	for _, reason := range []string{AbortProtocol, AbortProbe, AbortPeer, AbortStore, AbortOther} {
		if s.Aborted[reason] != 1 {
			t.Errorf("Aborted[%s] = %d, want 1", reason, s.Aborted[reason])
		}
	}
}

func TestRecorder_SnapshotIsCopy(t *testing.T) {
	r := NewRecorder()
	r.SessionAborted(natcheck.ErrPeerClosed)

	s := r.Snapshot()
	s.Aborted[AbortPeer] = 100

	if got := r.Snapshot().Aborted[AbortPeer]; got != 1 {
		t.Errorf("Aborted[%s] = %d after mutating a snapshot, want 1", AbortPeer, got)
	}
}

func TestRecorder_ConcurrentUse(t *testing.T) {
	r := NewRecorder()
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				r.SessionCompleted(natcheck.SessionRecord{NAT: natcheck.NoNAT()})
				_ = r.Snapshot()
			}
		}()
	}
	wg.Wait()

	if got := r.Snapshot().NoNAT; got != 800 {
		t.Errorf("NoNAT = %d, want 800", got)
	}
}

var _ natcheck.Observer = (*Recorder)(nil)
