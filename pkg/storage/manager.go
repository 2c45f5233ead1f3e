package storage

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/pyroclast-games/chunkengine/pkg/codec"
	"github.com/pyroclast-games/chunkengine/pkg/errkind"
	"github.com/pyroclast-games/chunkengine/pkg/region"
	"github.com/pyroclast-games/chunkengine/pkg/region/lrf"
	"github.com/pyroclast-games/chunkengine/pkg/region/mca"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Future is the result of an async storage operation, delivered once on
// Done.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) complete(val T, err error) {
	f.val, f.err = val, err
	close(f.done)
}

// Wait blocks until the future completes and returns its result.
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.val, f.err
}

// Done exposes the completion channel for select-based callers.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// regionHandle owns one region file's reader/writer state behind a
// single coarse lock: readers may share (RLock), a writer is exclusive
// (Lock).
type regionHandle struct {
	mu   sync.RWMutex
	path string
}

// Manager is the storage manager: the sole integration point the
// unified queue calls.
type Manager struct {
	svc *codec.Service
	log zerolog.Logger

	cache Cache

	loadPool       *Pool
	writePool      *Pool
	compressPool   *Pool
	decompressPool *Pool

	handlesMu sync.Mutex
	handles   map[string]*regionHandle

	loadGroup singleflight.Group
}

// NewManager builds a storage manager around a compression service and
// cache, starting its four pools at the given sizes.
func NewManager(svc *codec.Service, cache Cache, loads, writes, compresses, decompresses int, log zerolog.Logger) *Manager {
	log = log.With().Str("component", "storage_manager").Logger()

	return &Manager{
		svc:            svc,
		log:            log,
		cache:          cache,
		loadPool:       NewPool("load", loads, log),
		writePool:      NewPool("write", writes, log),
		compressPool:   NewPool("compress", compresses, log),
		decompressPool: NewPool("decompress", decompresses, log),
		handles:        make(map[string]*regionHandle),
	}
}

// UpdateExecutors resizes the four pools without dropping in-flight
// tasks; each pool shrinks by attrition.
func (m *Manager) UpdateExecutors(loads, writes, compresses, decompresses int) {
	m.loadPool.Resize(loads)
	m.writePool.Resize(writes)
	m.compressPool.Resize(compresses)
	m.decompressPool.Resize(decompresses)
}

func (m *Manager) handleFor(regionPath string) *regionHandle {
	m.handlesMu.Lock()
	defer m.handlesMu.Unlock()

	h, ok := m.handles[regionPath]
	if !ok {
		h = &regionHandle{path: regionPath}
		m.handles[regionPath] = h
	}

	return h
}

// LoadChunk returns a future resolving to the chunk's uncompressed
// payload. A cache hit resolves immediately; otherwise it reads via the
// load pool and decompresses via the decompress pool, then repopulates
// the cache.
func (m *Manager) LoadChunk(regionPath string, cx, cz int32) *Future[region.ChunkEntry] {
	future := newFuture[region.ChunkEntry]()

	key := CacheKey{RegionPath: regionPath, CX: cx, CZ: cz}

	if raw, ok := m.cache.Get(key); ok {
		future.complete(region.ChunkEntry{ChunkX: cx, ChunkZ: cz, Payload: raw}, nil)
		return future
	}

	h := m.handleFor(regionPath)

	m.loadPool.Submit(func() {
		h.mu.RLock()
		defer h.mu.RUnlock()

		sfKey := regionPath + ":" + strconv.Itoa(int(cx)) + ":" + strconv.Itoa(int(cz))

		val, err, _ := m.loadGroup.Do(sfKey, func() (any, error) {
			raw, alreadyDecoded, dispatchErr := m.readRaw(regionPath, cx, cz)
			if dispatchErr != nil {
				return nil, dispatchErr
			}

			type decodeResult struct {
				out []byte
				err error
			}

			resultCh := make(chan decodeResult, 1)

			m.decompressPool.Submit(func() {
				if alreadyDecoded {
					resultCh <- decodeResult{out: raw}
					return
				}

				decoded, decErr := m.svc.Decompress(raw)
				resultCh <- decodeResult{out: decoded, err: decErr}
			})

			res := <-resultCh
			if res.err != nil {
				return nil, errkind.New(errkind.Codec, "load_chunk", res.err)
			}

			m.cache.Put(key, res.out)

			return res.out, nil
		})

		if err != nil {
			future.complete(region.ChunkEntry{}, err)
			return
		}

		future.complete(region.ChunkEntry{ChunkX: cx, ChunkZ: cz, Payload: val.([]byte)}, nil)
	})

	return future
}

// readRaw returns a chunk's on-disk bytes plus whether they are already
// fully decoded. LRF and vendor-tagged MCA chunks are codec-service
// envelopes (alreadyDecoded=false); legacy GZip/Zlib MCA chunks are
// inflated on the spot, since they are not addressable by any codec
// magic byte the service recognizes (alreadyDecoded=true).
func (m *Manager) readRaw(regionPath string, cx, cz int32) ([]byte, bool, error) {
	switch region.DetectFormat(regionPath) {
	case region.FormatLRF:
		r, err := lrf.Open(regionPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, false, errkind.New(errkind.NotFound, "load_chunk", err)
			}
			return nil, false, errkind.New(errkind.IO, "load_chunk", err)
		}
		defer r.Close()

		lx, lz := uint32(cx)&31, uint32(cz)&31
		blob, err := r.ReadChunk(int32(lx), int32(lz))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, false, errkind.New(errkind.NotFound, "load_chunk", err)
			}
			return nil, false, errkind.New(errkind.Format, "load_chunk", err)
		}

		return blob, false, nil
	case region.FormatMCA:
		r, err := mca.Open(regionPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, false, errkind.New(errkind.NotFound, "load_chunk", err)
			}
			return nil, false, errkind.New(errkind.IO, "load_chunk", err)
		}
		defer r.Close()

		lx, lz := int32(uint32(cx)&31), int32(uint32(cz)&31)
		raw, compression, err := r.ChunkRaw(lx, lz)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, false, errkind.New(errkind.NotFound, "load_chunk", err)
			}
			return nil, false, errkind.New(errkind.Format, "load_chunk", err)
		}

		if compression == mca.CompressionService {
			return raw, false, nil
		}

		decoded, err := mca.Decompress(raw, compression)
		if err != nil {
			return nil, false, errkind.New(errkind.Codec, "load_chunk", err)
		}

		return decoded, true, nil
	default:
		return nil, false, errkind.New(errkind.Format, "load_chunk", fmt.Errorf("unrecognized region format: %s", regionPath))
	}
}

// SaveChunk compresses entry via the compress pool and writes it via the
// write pool, invalidating the cache key on success. Writes to the same
// region are serialized by the region's exclusive lock.
func (m *Manager) SaveChunk(regionPath string, entry region.ChunkEntry) *Future[struct{}] {
	future := newFuture[struct{}]()

	h := m.handleFor(regionPath)

	m.compressPool.Submit(func() {
		blob, err := m.svc.Compress(entry.Payload)
		if err != nil {
			future.complete(struct{}{}, errkind.New(errkind.Codec, "save_chunk", err))
			return
		}

		m.writePool.Submit(func() {
			h.mu.Lock()
			defer h.mu.Unlock()

			if err := m.writeChunkLocked(regionPath, entry.ChunkX, entry.ChunkZ, blob, len(entry.Payload)); err != nil {
				future.complete(struct{}{}, err)
				return
			}

			m.cache.Invalidate(CacheKey{RegionPath: regionPath, CX: entry.ChunkX, CZ: entry.ChunkZ})
			future.complete(struct{}{}, nil)
		})
	})

	return future
}

// writeChunkLocked rewrites regionPath with the updated chunk merged
// into whatever chunks it already held. LRF and MCA are both
// whole-file-oriented formats in this implementation: an update reads
// the current set (if any), replaces/inserts the target chunk, and
// rewrites the file in one writer session.
func (m *Manager) writeChunkLocked(regionPath string, cx, cz int32, blob []byte, uncompressedSize int) error {
	switch region.DetectFormat(regionPath) {
	case region.FormatLRF:
		existing := map[[2]int32]lrf.Entry{}

		if r, err := lrf.Open(regionPath); err == nil {
			all, readErr := r.ReadAll()
			r.Close()
			if readErr != nil {
				return errkind.New(errkind.Format, "save_chunk", readErr)
			}
			for _, e := range all {
				existing[[2]int32{e.ChunkX, e.ChunkZ}] = e
			}
		}

		w, err := lrf.NewWriter(regionPath+".tmp", m.svc.Primary().Magic(), true)
		if err != nil {
			return errkind.New(errkind.IO, "save_chunk", err)
		}

		lx, lz := int32(uint32(cx)&31), int32(uint32(cz)&31)
		existing[[2]int32{lx, lz}] = lrf.Entry{
			DirEntry: lrf.DirEntry{ChunkX: lx, ChunkZ: lz, UncompressedSize: uint32(uncompressedSize)},
			Payload:  blob,
		}

		for _, e := range existing {
			if err := w.Add(e.ChunkX, e.ChunkZ, e.Payload, e.UncompressedSize); err != nil {
				_ = w.Close()
				return errkind.New(errkind.Format, "save_chunk", err)
			}
		}

		if err := w.Close(); err != nil {
			return errkind.New(errkind.IO, "save_chunk", err)
		}

		return os.Rename(regionPath+".tmp", regionPath)
	case region.FormatMCA:
		lx, lz := int32(uint32(cx)&31), int32(uint32(cz)&31)

		type mcaChunk struct {
			raw         []byte
			compression byte
		}
		entries := map[[2]int32]mcaChunk{}

		if r, err := mca.Open(regionPath); err == nil {
			for _, slot := range r.AllSlots() {
				raw, compression, readErr := r.ChunkRaw(slot[0], slot[1])
				if readErr != nil {
					continue
				}
				entries[[2]int32{slot[0], slot[1]}] = mcaChunk{raw: raw, compression: compression}
			}
			r.Close()
		}

		entries[[2]int32{lx, lz}] = mcaChunk{raw: blob, compression: mca.CompressionService}

		w, err := mca.Create(regionPath + ".tmp")
		if err != nil {
			return errkind.New(errkind.IO, "save_chunk", err)
		}

		for coord, c := range entries {
			if err := w.WriteChunk(coord[0], coord[1], c.raw, c.compression, 0); err != nil {
				_ = w.Close()
				return errkind.New(errkind.Format, "save_chunk", err)
			}
		}

		if err := w.Close(); err != nil {
			return errkind.New(errkind.IO, "save_chunk", err)
		}

		return os.Rename(regionPath+".tmp", regionPath)
	default:
		return errkind.New(errkind.Format, "save_chunk", fmt.Errorf("unrecognized region format: %s", regionPath))
	}
}

// Invalidate drops one chunk from the cache without touching disk.
func (m *Manager) Invalidate(regionPath string, cx, cz int32) {
	m.cache.Invalidate(CacheKey{RegionPath: regionPath, CX: cx, CZ: cz})
}

// ClearRegion drops every cached chunk belonging to regionPath.
func (m *Manager) ClearRegion(regionPath string) {
	m.cache.ClearRegion(regionPath)
}

// Cache exposes the manager's cache for diagnostics/stats callers.
func (m *Manager) Cache() Cache { return m.cache }

// PoolTargets reports the four pools' requested worker counts, for
// diagnostics and for verifying governor adjustments took effect.
func (m *Manager) PoolTargets() (load, write, compress, decompress int) {
	return m.loadPool.Target(), m.writePool.Target(), m.compressPool.Target(), m.decompressPool.Target()
}
