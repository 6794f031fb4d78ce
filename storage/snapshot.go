package storage

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/yarnvm/vm"
)

// SnapshotVersion is the current snapshot format version.
const SnapshotVersion = 1

var ErrMalformedSnapshot = errors.New("malformed variable snapshot")

// Snapshot is the serialized form of a variable store.
type Snapshot struct {
	Version   int                      `cbor:"1,keyasint"`
	Session   string                   `cbor:"2,keyasint,omitempty"`
	Variables map[string]SnapshotValue `cbor:"3,keyasint"`
}

// SnapshotValue is one variable. Exactly one of Num, Str and Bool is
// meaningful, selected by Kind.
type SnapshotValue struct {
	Kind uint8   `cbor:"1,keyasint"`
	Num  float64 `cbor:"2,keyasint,omitempty"`
	Str  string  `cbor:"3,keyasint,omitempty"`
	Bool bool    `cbor:"4,keyasint,omitempty"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("storage: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalVariables encodes vars as a canonical CBOR snapshot. Equal
// variable sets always produce identical bytes.
func MarshalVariables(session string, vars map[string]vm.Value) ([]byte, error) {
	snap := Snapshot{
		Version:   SnapshotVersion,
		Session:   session,
		Variables: make(map[string]SnapshotValue, len(vars)),
	}
	for name, v := range vars {
		sv := SnapshotValue{Kind: uint8(v.Kind())}
		switch v.Kind() {
		case vm.KindNumber:
			sv.Num = v.AsNumber()
		case vm.KindString:
			sv.Str = v.AsString()
		case vm.KindBool:
			sv.Bool = v.AsBool()
		default:
			return nil, fmt.Errorf("%w: variable %s has no value", vm.ErrTypeMismatch, name)
		}
		snap.Variables[name] = sv
	}
	return cborEncMode.Marshal(&snap)
}

// UnmarshalVariables decodes a snapshot produced by MarshalVariables.
func UnmarshalVariables(data []byte) (*Snapshot, map[string]vm.Value, error) {
	var snap Snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	if snap.Version != SnapshotVersion {
		return nil, nil, fmt.Errorf("%w: version %d, want %d", ErrMalformedSnapshot, snap.Version, SnapshotVersion)
	}

	vars := make(map[string]vm.Value, len(snap.Variables))
	for name, sv := range snap.Variables {
		switch vm.Kind(sv.Kind) {
		case vm.KindNumber:
			vars[name] = vm.NumberValue(sv.Num)
		case vm.KindString:
			vars[name] = vm.StringValue(sv.Str)
		case vm.KindBool:
			vars[name] = vm.BoolValue(sv.Bool)
		default:
			return nil, nil, fmt.Errorf("%w: variable %s has kind %d", ErrMalformedSnapshot, name, sv.Kind)
		}
	}
	return &snap, vars, nil
}

// Save writes a snapshot of every variable in s to w.
func Save(s vm.BulkStorage, session string, w io.Writer) error {
	vars, err := s.Export()
	if err != nil {
		return fmt.Errorf("exporting variables: %w", err)
	}
	data, err := MarshalVariables(session, vars)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Replacer is a BulkStorage that can swap its whole contents atomically.
type Replacer interface {
	Replace(vars map[string]vm.Value) error
}

// Restore replaces the contents of s with the snapshot read from r. If the
// snapshot cannot be stored, s keeps its previous contents.
func Restore(s vm.BulkStorage, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	_, vars, err := UnmarshalVariables(data)
	if err != nil {
		return err
	}
	if rep, ok := s.(Replacer); ok {
		return rep.Replace(vars)
	}

	previous, err := s.Export()
	if err != nil {
		return fmt.Errorf("exporting variables: %w", err)
	}
	if err := s.Clear(); err != nil {
		return err
	}
	if err := s.Import(vars); err != nil {
		if rerr := errors.Join(s.Clear(), s.Import(previous)); rerr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rerr)
		}
		return err
	}
	return nil
}
