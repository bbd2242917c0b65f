package natcheck

import (
	"context"

	"github.com/plexsphere/natcheck/internal/transport"
)

// maxPort is the exclusive upper bound of a predicted external port.
const maxPort = 65535

// portSearch tracks the external ports a NAT allocates for the same internal
// socket across successive destinations and looks for a constant increment.
type portSearch struct {
	deltaPrev int
	deltaCur  int
	last      transport.Address
	rounds    int
}

// newPortSearch seeds the search with the first three observed external addresses.
func newPortSearch(ext, ext2, ext3 transport.Address) *portSearch {
	return &portSearch{
		deltaPrev: int(ext2.Port) - int(ext.Port),
		deltaCur:  int(ext3.Port) - int(ext2.Port),
		last:      ext3,
	}
}

// confirmed reports whether the last two increments agree and the next
// predicted port is in range.
func (s *portSearch) confirmed() bool {
	next := int(s.last.Port) + s.deltaCur
	return s.deltaPrev == s.deltaCur && next > 0 && next < maxPort
}

func (s *portSearch) observe(a transport.Address) {
	s.deltaPrev = s.deltaCur
	s.deltaCur = int(a.Port) - int(s.last.Port)
	s.last = a
	s.rounds++
}

// predicted returns the external address the NAT is expected to allocate next.
func (s *portSearch) predicted() transport.Address {
	return transport.Address{IP: s.last.IP, Port: uint16(int(s.last.Port) + s.deltaCur)}
}

// searchResult is the outcome of the port-increment search.
type searchResult struct {
	Predictable bool
	PortDelta   int
	External    transport.Address
	Rounds      int
}

// roundFunc runs one extra mapping round numbered try (starting at 1) and
// returns the external address observed for it.
type roundFunc func(ctx context.Context, try int) (transport.Address, error)

// run drives extra rounds until two consecutive increments agree or
// maxAttempts rounds have been spent.
func (s *portSearch) run(ctx context.Context, maxAttempts int, round roundFunc) (searchResult, error) {
	for try := 1; !s.confirmed(); try++ {
		if try > maxAttempts {
			return searchResult{
				Predictable: false,
				External:    s.last,
				Rounds:      s.rounds,
			}, nil
		}
		a, err := round(ctx, try)
		if err != nil {
			return searchResult{}, err
		}
		s.observe(a)
	}
	return searchResult{
		Predictable: true,
		PortDelta:   s.deltaCur,
		External:    s.predicted(),
		Rounds:      s.rounds,
	}, nil
}
