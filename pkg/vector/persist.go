package vector

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/x448/float16"
	"golang.org/x/crypto/blake2b"

	"github.com/ocentra/TabAgentServer-sub005/pkg/storage"
)

// Snapshot file layout:
//
//	[0:4]   magic "TBXV"
//	[4]     format version
//	[5]     codec      (0 none, 1 zstd, 2 lz4)
//	[6]     precision  (0 float32, 1 float16)
//	[7]     reserved
//	[8:40]  blake2b-256 of the body
//	[40:]   body: compressed msgpack snapshot
const (
	snapshotMagic   = "TBXV"
	snapshotVersion = 1
	headerLen       = 8 + blake2b.Size256
)

var codecIDs = map[Codec]byte{CodecNone: 0, CodecZstd: 1, CodecLZ4: 2}
var precisionIDs = map[Precision]byte{Float32: 0, Float16: 1}

// snapshot is the serializable form of the index.
type snapshot struct {
	Dimensions     int       `msgpack:"dim"`
	Metric         string    `msgpack:"metric"`
	M              int       `msgpack:"m"`
	EfConstruction int       `msgpack:"ef_construction"`
	EfSearch       int       `msgpack:"ef_search"`
	Seed           int64     `msgpack:"seed"`
	Generation     uint64    `msgpack:"gen"`
	IDs            []string  `msgpack:"ids"`
	Levels         []uint8   `msgpack:"levels"`
	Links          []uint32  `msgpack:"links"` // per slot, per level: count then slots
	Tombstones     []byte    `msgpack:"tombstones"`
	Vectors        []float32 `msgpack:"vectors,omitempty"`
	Vectors16      []uint16  `msgpack:"vectors16,omitempty"`
	Entry          uint32    `msgpack:"entry"`
	HasEntry       bool      `msgpack:"has_entry"`
	MaxLevel       int       `msgpack:"max_level"`
}

func corrupt(path, format string, args ...any) error {
	return fmt.Errorf("%w: vector snapshot %s: %s", storage.ErrCorruption, path, fmt.Sprintf(format, args...))
}

// Persist writes the index to path atomically (temp file, fsync, rename).
// The directory is created if needed. The index stays readable and
// writable while the file is encoded.
func (h *Index) Persist(path string) error {
	snap, err := h.snapshot()
	if err != nil {
		return err
	}

	size, err := writeSnapshot(path, snap, h.cfg.Codec, h.cfg.Precision)
	if err != nil {
		return err
	}
	h.log.Info("vector index persisted", "path", path, "slots", len(snap.IDs), "bytes", size)
	return nil
}

// writeSnapshot encodes snap and writes header and body to path. It
// returns the file size.
func writeSnapshot(path string, snap *snapshot, codec Codec, precision Precision) (int, error) {
	raw, err := msgpack.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("encode vector snapshot: %w", err)
	}
	body, err := compress(codec, raw)
	if err != nil {
		return 0, fmt.Errorf("compress vector snapshot: %w", err)
	}

	digest := blake2b.Sum256(body)
	header := make([]byte, headerLen)
	copy(header, snapshotMagic)
	header[4] = snapshotVersion
	header[5] = codecIDs[codec]
	header[6] = precisionIDs[precision]
	copy(header[8:], digest[:])

	if err := writeAtomic(path, header, body); err != nil {
		return 0, fmt.Errorf("persist vector index: %w", err)
	}
	return headerLen + len(body), nil
}

func (h *Index) snapshot() (*snapshot, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	tomb, err := h.tombstones.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("encode tombstones: %w", err)
	}

	n := len(h.ids)
	snap := &snapshot{
		Dimensions:     h.cfg.Dimensions,
		Metric:         string(h.cfg.Metric),
		M:              h.cfg.M,
		EfConstruction: h.cfg.EfConstruction,
		EfSearch:       h.cfg.EfSearch,
		Seed:           h.cfg.Seed,
		Generation:     h.gen,
		IDs:            append([]string(nil), h.ids...),
		Levels:         append([]uint8(nil), h.levels...),
		Tombstones:     tomb,
		Entry:          h.entry,
		HasEntry:       h.hasEntry,
		MaxLevel:       h.maxLevel,
	}

	for s := 0; s < n; s++ {
		for _, layer := range h.links[s] {
			snap.Links = append(snap.Links, uint32(len(layer)))
			snap.Links = append(snap.Links, layer...)
		}
	}

	if h.cfg.Precision == Float16 {
		snap.Vectors16 = make([]uint16, 0, n*h.cfg.Dimensions)
		for _, v := range h.vectors {
			for _, x := range v {
				snap.Vectors16 = append(snap.Vectors16, float16.Fromfloat32(x).Bits())
			}
		}
	} else {
		snap.Vectors = make([]float32, 0, n*h.cfg.Dimensions)
		for _, v := range h.vectors {
			snap.Vectors = append(snap.Vectors, v...)
		}
	}
	return snap, nil
}

// Load reads an index persisted with Persist.
//
// A missing file returns ErrNoSnapshot. A file that fails the digest or
// cannot be decoded returns storage.ErrCorruption. cfg supplies the
// logger, snapshot codec/precision for later Persist calls and an optional
// EfSearch override; a non-zero cfg.Dimensions must match the snapshot.
func Load(path string, cfg Config) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoSnapshot, path)
		}
		return nil, fmt.Errorf("read vector snapshot: %w", err)
	}

	if len(data) < headerLen || string(data[:4]) != snapshotMagic {
		return nil, corrupt(path, "bad header")
	}
	if data[4] != snapshotVersion {
		return nil, corrupt(path, "unsupported version %d", data[4])
	}
	codec, ok := codecByID(data[5])
	if !ok {
		return nil, corrupt(path, "unknown codec %d", data[5])
	}
	body := data[headerLen:]
	if digest := blake2b.Sum256(body); !bytes.Equal(digest[:], data[8:headerLen]) {
		return nil, corrupt(path, "digest mismatch")
	}

	raw, err := decompress(codec, body)
	if err != nil {
		return nil, corrupt(path, "decompress: %v", err)
	}
	var snap snapshot
	if err := msgpack.Unmarshal(raw, &snap); err != nil {
		return nil, corrupt(path, "decode: %v", err)
	}

	if cfg.Dimensions != 0 && cfg.Dimensions != snap.Dimensions {
		return nil, &DimensionMismatchError{Expected: cfg.Dimensions, Actual: snap.Dimensions}
	}
	loaded := Config{
		Dimensions:     snap.Dimensions,
		Metric:         Metric(snap.Metric),
		M:              snap.M,
		EfConstruction: snap.EfConstruction,
		EfSearch:       snap.EfSearch,
		Seed:           snap.Seed,
		Codec:          cfg.Codec,
		Precision:      cfg.Precision,
		Logger:         cfg.Logger,
	}
	if cfg.EfSearch > 0 {
		loaded.EfSearch = cfg.EfSearch
	}
	h, err := New(loaded)
	if err != nil {
		return nil, corrupt(path, "%v", err)
	}
	if err := h.restore(&snap); err != nil {
		return nil, corrupt(path, "%v", err)
	}
	h.log.Info("vector index loaded", "path", path, "live", h.slots.Len(), "slots", len(h.ids))
	return h, nil
}

// restore fills a fresh index from a decoded snapshot, validating every
// cross reference.
func (h *Index) restore(snap *snapshot) error {
	n := len(snap.IDs)
	dim := snap.Dimensions
	if len(snap.Levels) != n {
		return fmt.Errorf("%d levels for %d ids", len(snap.Levels), n)
	}

	vectors := make([][]float32, n)
	switch {
	case snap.Vectors16 != nil:
		if len(snap.Vectors16) != n*dim {
			return fmt.Errorf("%d half-precision values for %d×%d", len(snap.Vectors16), n, dim)
		}
		for s := range vectors {
			v := make([]float32, dim)
			for i, bits := range snap.Vectors16[s*dim : (s+1)*dim] {
				v[i] = float16.Frombits(bits).Float32()
			}
			vectors[s] = v
		}
	default:
		if len(snap.Vectors) != n*dim {
			return fmt.Errorf("%d values for %d×%d", len(snap.Vectors), n, dim)
		}
		for s := range vectors {
			vectors[s] = snap.Vectors[s*dim : (s+1)*dim : (s+1)*dim]
		}
	}

	for s, level := range snap.Levels {
		if int(level) > maxLevelCap {
			return fmt.Errorf("slot %d has level %d above %d", s, level, maxLevelCap)
		}
	}

	links := make([][][]uint32, n)
	rest := snap.Links
	for s := 0; s < n; s++ {
		layers := make([][]uint32, int(snap.Levels[s])+1)
		for l := range layers {
			if len(rest) == 0 {
				return fmt.Errorf("links truncated at slot %d", s)
			}
			count := int(rest[0])
			if len(rest) < 1+count {
				return fmt.Errorf("links truncated at slot %d", s)
			}
			layer := append([]uint32(nil), rest[1:1+count]...)
			for _, nb := range layer {
				if int(nb) >= n {
					return fmt.Errorf("slot %d links to %d of %d", s, nb, n)
				}
				if int(snap.Levels[nb]) < l {
					return fmt.Errorf("slot %d links to slot %d at level %d above its level %d", s, nb, l, snap.Levels[nb])
				}
			}
			layers[l] = layer
			rest = rest[1+count:]
		}
		links[s] = layers
	}
	if len(rest) != 0 {
		return fmt.Errorf("%d trailing link words", len(rest))
	}

	tomb := roaring.New()
	if len(snap.Tombstones) > 0 {
		if err := tomb.UnmarshalBinary(snap.Tombstones); err != nil {
			return fmt.Errorf("tombstones: %w", err)
		}
	}
	if !tomb.IsEmpty() && int(tomb.Maximum()) >= n {
		return fmt.Errorf("tombstone %d out of range", tomb.Maximum())
	}
	switch {
	case snap.HasEntry && int(snap.Entry) >= n:
		return fmt.Errorf("entry point %d out of range", snap.Entry)
	case snap.HasEntry && int(snap.Levels[snap.Entry]) != snap.MaxLevel:
		return fmt.Errorf("max level %d but entry point has level %d", snap.MaxLevel, snap.Levels[snap.Entry])
	case !snap.HasEntry && n > 0:
		return fmt.Errorf("%d slots without an entry point", n)
	}

	for s, id := range snap.IDs {
		if tomb.Contains(uint32(s)) {
			continue
		}
		if _, dup := h.slots.Get(id); dup {
			return fmt.Errorf("id %q live in two slots", id)
		}
		h.slots.Set(id, uint32(s))
	}

	h.ids = snap.IDs
	h.levels = snap.Levels
	h.vectors = vectors
	h.links = links
	h.tombstones = tomb
	h.entry = snap.Entry
	h.hasEntry = snap.HasEntry
	h.maxLevel = snap.MaxLevel
	h.gen = snap.Generation
	h.rng = newRNG(h.cfg.Seed, snap.Generation^uint64(n))
	return nil
}

func codecByID(id byte) (Codec, bool) {
	for c, b := range codecIDs {
		if b == id {
			return c, true
		}
	}
	return "", false
}

func compress(codec Codec, raw []byte) ([]byte, error) {
	switch codec {
	case CodecZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(raw, nil), nil
	case CodecLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return raw, nil
	}
}

func decompress(codec Codec, body []byte) ([]byte, error) {
	switch codec {
	case CodecZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(body, nil)
	case CodecLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(body)))
	default:
		return body, nil
	}
}

func writeAtomic(path string, parts ...[]byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	for _, p := range parts {
		if _, err := tmp.Write(p); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
