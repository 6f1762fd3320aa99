package vm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Canonical mode keeps encodings deterministic so identical units produce
// identical bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type unitEnvelope struct {
	Version int   `cbor:"1,keyasint"`
	Unit    *Unit `cbor:"2,keyasint"`
}

// MarshalUnit serializes a unit, including nested templates, to CBOR.
func MarshalUnit(u *Unit) ([]byte, error) {
	data, err := cborEncMode.Marshal(unitEnvelope{Version: FormatVersion, Unit: u})
	if err != nil {
		return nil, fmt.Errorf("vm: marshal unit: %w", err)
	}
	return data, nil
}

// UnmarshalUnit deserializes and validates a unit. Units written by another
// FormatVersion are rejected.
func UnmarshalUnit(data []byte) (*Unit, error) {
	var env unitEnvelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("vm: unmarshal unit: %w", err)
	}
	if env.Version != FormatVersion {
		return nil, fmt.Errorf("vm: unit format version %d, want %d", env.Version, FormatVersion)
	}
	if env.Unit == nil {
		return nil, fmt.Errorf("vm: unmarshal unit: empty envelope")
	}
	if err := env.Unit.Validate(); err != nil {
		return nil, fmt.Errorf("vm: unmarshal unit: %w", err)
	}
	return env.Unit, nil
}
