package natcheck

import (
	"fmt"
	"time"

	"github.com/plexsphere/natcheck/internal/transport"
)

// Behavior is a NAT filtering or mapping behavior (RFC 4787 terms).
// The numeric values are carried on the wire.
type Behavior int

const (
	BehaviorUnknown Behavior = iota
	EndpointIndependent
	AddressDependent
	AddressAndPortDependent
)

var behaviorNames = map[Behavior]string{
	BehaviorUnknown:         "unknown",
	EndpointIndependent:     "endpoint-independent",
	AddressDependent:        "address-dependent",
	AddressAndPortDependent: "address-and-port-dependent",
}

func (b Behavior) String() string {
	if s, ok := behaviorNames[b]; ok {
		return s
	}
	return fmt.Sprintf("behavior(%d)", int(b))
}

// Valid reports whether b is one of the three classified behaviors.
func (b Behavior) Valid() bool {
	return b >= EndpointIndependent && b <= AddressAndPortDependent
}

// MarshalText implements encoding.TextMarshaler.
func (b Behavior) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Behavior) UnmarshalText(text []byte) error {
	for k, v := range behaviorNames {
		if v == string(text) {
			*b = k
			return nil
		}
	}
	return fmt.Errorf("natcheck: unknown behavior %q", text)
}

// ParseBehavior converts a wire value into a Behavior.
func ParseBehavior(v int64) (Behavior, error) {
	b := Behavior(v)
	if !b.Valid() {
		return BehaviorUnknown, fmt.Errorf("natcheck: invalid behavior value %d", v)
	}
	return b, nil
}

// NATType is the classification result. Mapping, Filtering, Predictable and
// PortDelta are only meaningful when HasNAT is true; PortDelta only when
// Predictable is true.
type NATType struct {
	HasNAT      bool     `json:"has_nat"`
	Mapping     Behavior `json:"mapping,omitempty"`
	Filtering   Behavior `json:"filtering,omitempty"`
	Predictable bool     `json:"predictable,omitempty"`
	PortDelta   int32    `json:"port_delta,omitempty"`
}

// NoNAT is the result for a client on the open internet.
func NoNAT() NATType {
	return NATType{HasNAT: false}
}

// LegacyName returns the RFC 3489 name of the NAT type.
func (n NATType) LegacyName() string {
	if !n.HasNAT {
		return "Open Internet"
	}
	switch n.Mapping {
	case EndpointIndependent:
		switch n.Filtering {
		case EndpointIndependent:
			return "Full Cone"
		case AddressDependent:
			return "Restricted Cone"
		case AddressAndPortDependent:
			return "Port Restricted Cone"
		}
	case AddressDependent, AddressAndPortDependent:
		return "Symmetric"
	}
	return "Unknown"
}

// PredictionString describes the external port allocation pattern.
func (n NATType) PredictionString() string {
	switch {
	case !n.HasNAT:
		return "n/a"
	case !n.Predictable:
		return "unpredictable"
	default:
		return fmt.Sprintf("predictable (delta %+d)", n.PortDelta)
	}
}

// SessionRecord is the persisted outcome of one classification session.
// External is the last external address observed or predicted during the
// session.
type SessionRecord struct {
	Identifier  string            `json:"identifier"`
	SessionID   string            `json:"session_id"`
	Local       transport.Address `json:"local_address"`
	External    transport.Address `json:"external_address"`
	NAT         NATType           `json:"nat"`
	CompletedAt time.Time         `json:"completed_at"`
}
