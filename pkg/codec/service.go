package codec

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/pyroclast-games/chunkengine/pkg/errkind"
	"github.com/rs/zerolog"
)

// ErrUnknownFormat is returned when a blob's magic byte does not match
// any known algorithm, registered or not.
var ErrUnknownFormat = errors.New("codec: unknown blob format")

// Service is the process-wide compression service: a
// primary codec used for every compress call, and an optional fallback
// engaged when the primary fails. Decode dispatches by the blob's own
// magic byte rather than by the configured primary/fallback pair.
type Service struct {
	primary  Codec
	fallback Codec
	registry *Registry
	ctx      Context

	fallbackEnabled bool
	fallbackCount   atomic.Int64

	log zerolog.Logger
}

// NewService builds a compression service. registry is used to resolve
// the algorithm a stored blob's magic byte names on Decompress; primary
// is always used for Compress.
func NewService(primary, fallback Codec, registry *Registry, fallbackEnabled bool, ctx Context, log zerolog.Logger) *Service {
	return &Service{
		primary:         primary,
		fallback:        fallback,
		registry:        registry,
		ctx:             ctx,
		fallbackEnabled: fallbackEnabled,
		log:             log.With().Str("component", "codec_service").Logger(),
	}
}

// Compress always compresses with the primary codec. If the primary
// fails and a fallback is configured and enabled, it retries with the
// fallback and records a fallback event.
func (s *Service) Compress(data []byte) ([]byte, error) {
	out, err := s.primary.Compress(data)
	if err == nil {
		return out, nil
	}

	if !s.fallbackEnabled || s.fallback == nil {
		return nil, errkind.New(errkind.Codec, "compress", err)
	}

	s.log.Warn().Err(err).Str("primary", s.primary.Name()).Str("fallback", s.fallback.Name()).
		Msg("primary codec failed, retrying with fallback")

	out, fallbackErr := s.fallback.Compress(data)
	if fallbackErr != nil {
		return nil, errkind.New(errkind.Codec, "compress", fmt.Errorf("primary: %w; fallback: %w", err, fallbackErr))
	}

	s.fallbackCount.Add(1)

	return out, nil
}

// Decompress dispatches by the blob's first byte: the registered codec
// for that magic, a default-settings instance for a known-but-unregistered
// magic, or ErrUnknownFormat. No silent success: an unrecognized magic
// byte is always an error.
func (s *Service) Decompress(blob []byte) ([]byte, error) {
	if len(blob) == 0 {
		return nil, errkind.New(errkind.Codec, "decompress", errors.New("empty blob has no magic byte"))
	}

	magic := blob[0]

	if c, ok := s.registry.Lookup(magic); ok {
		out, err := c.Decompress(blob)
		if err != nil {
			return nil, errkind.New(errkind.Codec, "decompress", err)
		}

		return out, nil
	}

	if c, ok := defaultInstance(magic, s.ctx); ok {
		out, err := c.Decompress(blob)
		if err != nil {
			return nil, errkind.New(errkind.Codec, "decompress", err)
		}

		return out, nil
	}

	return nil, errkind.New(errkind.Format, "decompress", fmt.Errorf("%w: magic 0x%02X", ErrUnknownFormat, magic))
}

// FallbackCount returns how many times Compress has fallen back to the
// secondary codec since service construction.
func (s *Service) FallbackCount() int64 {
	return s.fallbackCount.Load()
}

// Primary returns the configured primary codec.
func (s *Service) Primary() Codec {
	return s.primary
}
