package codec

import "fmt"

// Registry is a fixed map from magic byte to codec variant. Unlike an
// open plugin registry, codecs are only ever one of the three Algorithm
// variants; Registry exists to let a process configure per-algorithm
// level/context once and look codecs up by the byte a stored blob
// actually carries.
type Registry struct {
	codecs map[byte]Codec
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[byte]Codec, 3)}
}

// Register adds c to the registry. It fails if a codec with the same
// magic byte is already registered, enforcing the invariant that every
// compressed blob's first byte uniquely identifies its codec.
func (r *Registry) Register(c Codec) error {
	if _, exists := r.codecs[c.Magic()]; exists {
		return fmt.Errorf("codec registry: magic byte 0x%02X already registered", c.Magic())
	}

	r.codecs[c.Magic()] = c

	return nil
}

// Lookup resolves magic to a registered codec. The legacy zlib alias
// (0x01) resolves to whatever is registered under the canonical 0x78.
func (r *Registry) Lookup(magic byte) (Codec, bool) {
	if magic == MagicZlibLegacy {
		magic = MagicZlib
	}

	c, ok := r.codecs[magic]

	return c, ok
}

// NewDefault builds a registry with all three algorithms registered at
// their default levels for ctx. Callers that need custom per-algorithm
// levels should build a Registry manually with Register.
func NewDefault(ctx Context) (*Registry, error) {
	r := NewRegistry()

	defaults := []Codec{
		NewLZ4(6, ctx),
		NewZstd(3, ctx),
		NewZlib(6, ctx),
	}

	for _, c := range defaults {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// defaultInstance returns a fresh, default-level codec for a known
// algorithm magic byte that isn't currently registered. This backs the
// service's decode fallback: a recognized but
// unregistered magic byte still decodes, it just uses default settings.
func defaultInstance(magic byte, ctx Context) (Codec, bool) {
	switch magic {
	case MagicLZ4:
		return NewLZ4(6, ctx), true
	case MagicZstd:
		return NewZstd(3, ctx), true
	case MagicZlib, MagicZlibLegacy:
		return NewZlib(6, ctx), true
	default:
		return nil, false
	}
}
