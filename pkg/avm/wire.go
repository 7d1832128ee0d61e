package avm

import (
	"crypto/sha256"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode uses canonical options so that equal programs always produce
// identical bytes, which keeps report blobs and hashes stable.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("avm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Envelope is the CBOR form of a Program. The code is carried in the binary
// instruction encoding, and Hash is the SHA-256 of the full binary form.
type Envelope struct {
	Version   uint16   `cbor:"1,keyasint"`
	Name      string   `cbor:"2,keyasint"`
	Registers uint32   `cbor:"3,keyasint"`
	Params    uint32   `cbor:"4,keyasint"`
	Returns   uint8    `cbor:"5,keyasint"`
	Flags     uint16   `cbor:"6,keyasint"`
	Count     uint32   `cbor:"7,keyasint"`
	Code      []byte   `cbor:"8,keyasint"`
	Hash      [32]byte `cbor:"9,keyasint"`
}

// Hash returns the SHA-256 digest of the program's binary serialization.
func (p *Program) Hash() ([32]byte, error) {
	data, err := p.Serialize()
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}

// MarshalProgram serializes a Program to CBOR bytes.
func MarshalProgram(p *Program) ([]byte, error) {
	data, err := p.Serialize()
	if err != nil {
		return nil, err
	}
	var code []byte
	for _, inst := range p.code {
		code, err = appendInstruction(code, inst)
		if err != nil {
			return nil, err
		}
	}
	env := Envelope{
		Version:   FormatVersion,
		Name:      p.header.Name,
		Registers: uint32(p.header.Registers),
		Params:    uint32(p.header.Params),
		Returns:   uint8(p.header.Returns),
		Flags:     uint16(p.header.Flags),
		Count:     uint32(len(p.code)),
		Code:      code,
		Hash:      sha256.Sum256(data),
	}
	return cborEncMode.Marshal(&env)
}

// UnmarshalProgram deserializes a Program from CBOR bytes and verifies its
// hash.
func UnmarshalProgram(data []byte) (*Program, error) {
	var env Envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("avm: unmarshal program: %w", err)
	}
	if env.Version > FormatVersion {
		return nil, fmt.Errorf("avm: program version %d is newer than supported version %d", env.Version, FormatVersion)
	}
	if len(env.Name) > 0xFFFF {
		return nil, fmt.Errorf("avm: program name too long (%d bytes)", len(env.Name))
	}

	// Rebuild the binary form and let Deserialize validate it.
	h := Header{
		Name:      env.Name,
		Registers: int(env.Registers),
		Params:    int(env.Params),
		Returns:   Kind(env.Returns),
		Flags:     ProgramFlags(env.Flags),
	}
	head, err := (&Program{header: h}).Serialize()
	if err != nil {
		return nil, err
	}
	// Patch the instruction count, which sits just before the code.
	n := len(head)
	head[n-4] = byte(env.Count >> 24)
	head[n-3] = byte(env.Count >> 16)
	head[n-2] = byte(env.Count >> 8)
	head[n-1] = byte(env.Count)
	bin := append(head, env.Code...)

	if sha256.Sum256(bin) != env.Hash {
		return nil, fmt.Errorf("avm: program %q hash mismatch", env.Name)
	}
	return Deserialize(bin)
}

// bundle is the CBOR form of a program collection.
type bundle struct {
	Version  uint16   `cbor:"1,keyasint"`
	Programs [][]byte `cbor:"2,keyasint"`
}

// MarshalBundle encodes several programs, each in its MarshalProgram form,
// into one CBOR document.
func MarshalBundle(progs []*Program) ([]byte, error) {
	b := bundle{Version: FormatVersion}
	for _, p := range progs {
		data, err := MarshalProgram(p)
		if err != nil {
			return nil, fmt.Errorf("avm: bundle %s: %w", p.Name(), err)
		}
		b.Programs = append(b.Programs, data)
	}
	return cborEncMode.Marshal(&b)
}

// UnmarshalBundle decodes a MarshalBundle document, verifying every program.
func UnmarshalBundle(data []byte) ([]*Program, error) {
	var b bundle
	if err := cbor.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("avm: unmarshal bundle: %w", err)
	}
	if b.Version > FormatVersion {
		return nil, fmt.Errorf("avm: bundle version %d is newer than supported version %d", b.Version, FormatVersion)
	}
	progs := make([]*Program, 0, len(b.Programs))
	for i, raw := range b.Programs {
		p, err := UnmarshalProgram(raw)
		if err != nil {
			return nil, fmt.Errorf("avm: bundle entry %d: %w", i, err)
		}
		progs = append(progs, p)
	}
	return progs, nil
}
