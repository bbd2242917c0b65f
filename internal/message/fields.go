package message

import "fmt"

// Field names of the NAT checker protocol.
const (
	FieldLocalIP     = "LOCAL_IP"
	FieldLocalPort   = "LOCAL_PORT"
	FieldIdentifier  = "IDENTIFIER"
	FieldContinue    = "CONTINUE"
	FieldFilterType  = "FILTER_TYPE"
	FieldMapType     = "MAP_TYPE"
	FieldExternIP    = "EXTERN_IP"
	FieldExternPort  = "EXTERN_PORT"
	FieldChangeIP    = "CHANGE_IP"
	FieldChangePort  = "CHANGE_PORT"
	FieldDestinyIP   = "DESTINY_IP"
	FieldDestinyPort = "DESTINY_PORT"
	FieldType        = "TYPE"
)

// Port returns the integer field stored under key as a TCP port.
// Values outside 1..65535 are reported as ErrFieldType.
func (m *Message) Port(key string) (uint16, error) {
	i, err := m.Int(key)
	if err != nil {
		return 0, err
	}
	if i <= 0 || i > 65535 {
		return 0, portRangeError(key, i)
	}
	return uint16(i), nil
}

// Continue reports the CONTINUE field. A message without CONTINUE is an error.
func (m *Message) Continue() (bool, error) {
	return m.Bool(FieldContinue)
}

func portRangeError(key string, v int64) error {
	return fmt.Errorf("%w: %s=%d is not a valid port", ErrFieldType, key, v)
}
