package resource

import "github.com/fxamacker/cbor/v2"

// Canonical CBOR options shared by node and resource serialization. Canonical
// map-key sorting keeps encodings byte-stable, which matters because VRKai and
// VRPack blobs are content-addressed by their bytes in the backend.
var encOptions = cbor.EncOptions{
	Sort:        cbor.SortCanonical,
	Time:        cbor.TimeRFC3339Nano,
	TimeTag:     cbor.EncTagNone,
	IndefLength: cbor.IndefLengthForbidden,
}

var decOptions = cbor.DecOptions{
	MaxArrayElements: 1 << 20,
	MaxMapPairs:      1 << 20,
	MaxNestedLevels:  256,
	IndefLength:      cbor.IndefLengthForbidden,
	DupMapKey:        cbor.DupMapKeyEnforcedAPF,
	TimeTag:          cbor.DecTagIgnored,
}

var (
	em, _ = encOptions.EncMode()
	dm, _ = decOptions.DecMode()
)

// Marshal encodes v with the canonical resource encoding.
func Marshal(v any) ([]byte, error) {
	return em.Marshal(v)
}

// Unmarshal decodes canonical resource bytes into v.
func Unmarshal(data []byte, v any) error {
	return dm.Unmarshal(data, v)
}
