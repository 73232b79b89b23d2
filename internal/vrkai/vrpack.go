package vrkai

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/hyperjump/kura/internal/vrpath"
)

// VRPack is a named bundle of VRKai units keyed by path, used for bulk
// transfer of a subtree between nodes.
type VRPack struct {
	Name    string
	entries map[string]*VRKai
}

// PackEntry is one (path, VRKai) pair yielded by Entries.
type PackEntry struct {
	Path  vrpath.Path
	VRKai *VRKai
}

// NewEmpty creates an empty pack with the given name.
func NewEmpty(name string) *VRPack {
	return &VRPack{Name: name, entries: make(map[string]*VRKai)}
}

// InsertVRKai stores v at path. When the path is occupied and allowOverwrite
// is false, the insert fails with ErrAlreadyExists and the pack is unchanged.
func (p *VRPack) InsertVRKai(v *VRKai, path vrpath.Path, allowOverwrite bool) error {
	key := path.String()
	if _, occupied := p.entries[key]; occupied && !allowOverwrite {
		return fmt.Errorf("vrpack %q: path %s: %w", p.Name, key, ErrAlreadyExists)
	}
	p.entries[key] = v
	return nil
}

// Get returns the VRKai at path.
func (p *VRPack) Get(path vrpath.Path) (*VRKai, bool) {
	v, ok := p.entries[path.String()]
	return v, ok
}

// Remove deletes the entry at path, returning whether one was present.
func (p *VRPack) Remove(path vrpath.Path) bool {
	key := path.String()
	_, ok := p.entries[key]
	delete(p.entries, key)
	return ok
}

// Len returns the number of entries.
func (p *VRPack) Len() int {
	return len(p.entries)
}

// Entries yields all (path, VRKai) pairs in stable path order: shallower
// paths first, then component-lexicographic.
func (p *VRPack) Entries() []PackEntry {
	paths := make([]vrpath.Path, 0, len(p.entries))
	for key := range p.entries {
		parsed, err := vrpath.FromString(key)
		if err != nil {
			continue
		}
		paths = append(paths, parsed)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i].Compare(paths[j]) < 0 })
	out := make([]PackEntry, len(paths))
	for i, path := range paths {
		out[i] = PackEntry{Path: path, VRKai: p.entries[path.String()]}
	}
	return out
}

type vrpackWire struct {
	Name    string            `cbor:"n"`
	Entries map[string][]byte `cbor:"e"`
}

// EncodeBytes serializes the pack: every VRKai is encoded independently so a
// receiver can unpack entries selectively.
func (p *VRPack) EncodeBytes() ([]byte, error) {
	wire := vrpackWire{Name: p.Name, Entries: make(map[string][]byte, len(p.entries))}
	for key, v := range p.entries {
		data, err := v.EncodeBytes()
		if err != nil {
			return nil, fmt.Errorf("%w: vrpack entry %s: %v", ErrDecode, key, err)
		}
		wire.Entries[key] = data
	}
	body, err := cbor.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("%w: encode vrpack: %v", ErrDecode, err)
	}
	return append(append([]byte(nil), vrpackMagic...), body...), nil
}

// DecodePackBytes deserializes a pack encoded by EncodeBytes.
func DecodePackBytes(data []byte) (*VRPack, error) {
	if len(data) < len(vrpackMagic) || !bytes.Equal(data[:len(vrpackMagic)], vrpackMagic) {
		return nil, fmt.Errorf("%w: not a vrpack or unsupported version", ErrDecode)
	}
	var wire vrpackWire
	if err := cbor.Unmarshal(data[len(vrpackMagic):], &wire); err != nil {
		return nil, fmt.Errorf("%w: decode vrpack: %v", ErrDecode, err)
	}
	pack := NewEmpty(wire.Name)
	for key, entryBytes := range wire.Entries {
		path, err := vrpath.FromString(key)
		if err != nil {
			return nil, fmt.Errorf("%w: vrpack entry path %q: %v", ErrDecode, key, err)
		}
		v, err := DecodeBytes(entryBytes)
		if err != nil {
			return nil, fmt.Errorf("vrpack entry %s: %w", key, err)
		}
		if err := pack.InsertVRKai(v, path, false); err != nil {
			return nil, err
		}
	}
	return pack, nil
}
