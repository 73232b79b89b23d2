// Package vrkai implements the portable serialization units: VRKai wraps one
// resource plus its optional raw source bytes, VRPack bundles many VRKai
// keyed by path.
package vrkai

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/hyperjump/kura/internal/resource"
)

// ErrDecode is returned when VRKai/VRPack bytes fail to decode or carry an
// unsupported version.
var ErrDecode = errors.New("serialization error")

// ErrAlreadyExists is returned when inserting at an occupied pack path
// without allowOverwrite.
var ErrAlreadyExists = errors.New("already exists")

// Version 1 encoding: a 4-byte magic ("KAI\x01" / "PAK\x01") followed by a
// canonical CBOR body. The magic distinguishes the two unit types and pins
// the version so future encodings can evolve.
var (
	vrkaiMagic  = []byte("KAI\x01")
	vrpackMagic = []byte("PAK\x01")
)

// VRKai is one resource, ready for transfer, plus the raw source file bytes
// it was parsed from when those were kept.
type VRKai struct {
	Resource    resource.VectorResource
	SourceBytes []byte
}

// New wraps a resource (and optional source bytes) into a VRKai.
func New(res resource.VectorResource, sourceBytes []byte) *VRKai {
	return &VRKai{Resource: res, SourceBytes: sourceBytes}
}

type vrkaiWire struct {
	Resource []byte `cbor:"r"`
	Source   []byte `cbor:"s,omitempty"`
}

// EncodeBytes serializes the VRKai. The wrapped resource's name, embedding
// model, full node tree, and source bytes round-trip exactly.
func (k *VRKai) EncodeBytes() ([]byte, error) {
	if k.Resource == nil {
		return nil, fmt.Errorf("%w: vrkai has no resource", ErrDecode)
	}
	resBytes, err := resource.Marshal(k.Resource)
	if err != nil {
		return nil, fmt.Errorf("%w: encode resource: %v", ErrDecode, err)
	}
	body, err := cbor.Marshal(vrkaiWire{Resource: resBytes, Source: k.SourceBytes})
	if err != nil {
		return nil, fmt.Errorf("%w: encode vrkai: %v", ErrDecode, err)
	}
	return append(append([]byte(nil), vrkaiMagic...), body...), nil
}

// DecodeBytes deserializes a VRKai encoded by EncodeBytes.
func DecodeBytes(data []byte) (*VRKai, error) {
	if len(data) < len(vrkaiMagic) || !bytes.Equal(data[:len(vrkaiMagic)], vrkaiMagic) {
		return nil, fmt.Errorf("%w: not a vrkai or unsupported version", ErrDecode)
	}
	var w vrkaiWire
	if err := cbor.Unmarshal(data[len(vrkaiMagic):], &w); err != nil {
		return nil, fmt.Errorf("%w: decode vrkai: %v", ErrDecode, err)
	}
	res, err := resource.DecodeResource(w.Resource)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return &VRKai{Resource: res, SourceBytes: w.Source}, nil
}

// EncodeBase64 serializes the VRKai as a base64 string for text transports.
func (k *VRKai) EncodeBase64() (string, error) {
	data, err := k.EncodeBytes()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeBase64 deserializes a VRKai encoded by EncodeBase64.
func DecodeBase64(s string) (*VRKai, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", ErrDecode, err)
	}
	return DecodeBytes(data)
}

// Copy returns a deep copy of the VRKai.
func (k *VRKai) Copy() *VRKai {
	out := &VRKai{}
	if k.Resource != nil {
		out.Resource = k.Resource.Copy()
	}
	out.SourceBytes = append([]byte(nil), k.SourceBytes...)
	if len(out.SourceBytes) == 0 {
		out.SourceBytes = nil
	}
	return out
}
