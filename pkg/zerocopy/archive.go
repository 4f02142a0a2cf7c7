// Package zerocopy implements the archived record format shared by the
// structural and graph indexes, and the guards that iterate those records
// in place.
//
// A record is laid out so that it can be validated and walked without
// decoding it into Go values:
//
//	[0]     kind     ('I' id list, 'P' pair list)
//	[1]     version  (1)
//	[2:6]   count    uint32, little endian
//	[6:14]  checksum uint64, xxhash64 of the payload
//	[14:]   payload  uvarint(len) + bytes, once per id or twice per pair
//
// Every read validates the header, the checksum and the entry count before
// a guard is handed out, so a damaged record surfaces as
// storage.ErrCorruption instead of garbage ids.
//
// Strings yielded by guards alias the record bytes. They are valid only
// while the guard (and the scope behind it) is open. Call ToOwned, or
// strings.Clone, to keep a value longer.
package zerocopy

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/cespare/xxhash/v2"

	"github.com/ocentra/TabAgentServer-sub005/pkg/storage"
)

// Record kinds.
const (
	KindIDs   byte = 'I'
	KindPairs byte = 'P'
)

const (
	// Version is the current record layout version.
	Version byte = 1

	// HeaderSize is the fixed prefix before the payload.
	HeaderSize = 14
)

// Pair is one adjacency entry: the relationship id and the entity on the
// other end of it.
type Pair struct {
	Rel string
	Nbr string
}

// record is a validated view over an archived buffer.
type record struct {
	count   int
	payload []byte
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", storage.ErrCorruption, fmt.Sprintf(format, args...))
}

// parse validates buf as a record of the given kind. It does not allocate
// on success.
func parse(buf []byte, kind byte) (record, error) {
	if len(buf) < HeaderSize {
		return record{}, corrupt("record too short (%d bytes)", len(buf))
	}
	if buf[0] != kind {
		return record{}, corrupt("unexpected record kind %q, want %q", buf[0], kind)
	}
	if buf[1] != Version {
		return record{}, corrupt("unsupported record version %d", buf[1])
	}
	count := int(binary.LittleEndian.Uint32(buf[2:6]))
	sum := binary.LittleEndian.Uint64(buf[6:14])
	payload := buf[HeaderSize:]
	if xxhash.Sum64(payload) != sum {
		return record{}, corrupt("checksum mismatch")
	}

	fields := count
	if kind == KindPairs {
		fields = count * 2
	}
	rest := payload
	for i := 0; i < fields; i++ {
		_, next, ok := readField(rest)
		if !ok {
			return record{}, corrupt("truncated entry %d of %d", i/fieldsPerEntry(kind), count)
		}
		rest = next
	}
	if len(rest) != 0 {
		return record{}, corrupt("%d trailing bytes", len(rest))
	}
	return record{count: count, payload: payload}, nil
}

func fieldsPerEntry(kind byte) int {
	if kind == KindPairs {
		return 2
	}
	return 1
}

// readField splits one length-prefixed field off the front of b.
func readField(b []byte) (field, rest []byte, ok bool) {
	n, w := binary.Uvarint(b)
	if w <= 0 || uint64(len(b)-w) < n {
		return nil, nil, false
	}
	end := w + int(n)
	return b[w:end], b[end:], true
}

// borrow converts record bytes into a string without copying.
func borrow(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(unsafe.SliceData(b), len(b))
}

func appendField(dst []byte, s string) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}

// seal writes the header in front of payload. buf must have HeaderSize
// bytes reserved at the front.
func seal(buf []byte, kind byte, count int) []byte {
	buf[0] = kind
	buf[1] = Version
	binary.LittleEndian.PutUint32(buf[2:6], uint32(count))
	binary.LittleEndian.PutUint64(buf[6:14], xxhash.Sum64(buf[HeaderSize:]))
	return buf
}

func newBuffer(size int) []byte {
	return make([]byte, HeaderSize, HeaderSize+size)
}

// EncodeIDs archives ids in order. Duplicates are not filtered.
func EncodeIDs(ids []string) []byte {
	size := 0
	for _, id := range ids {
		size += binary.MaxVarintLen32 + len(id)
	}
	buf := newBuffer(size)
	for _, id := range ids {
		buf = appendField(buf, id)
	}
	return seal(buf, KindIDs, len(ids))
}

// EncodePairs archives pairs in order.
func EncodePairs(pairs []Pair) []byte {
	size := 0
	for _, p := range pairs {
		size += 2*binary.MaxVarintLen32 + len(p.Rel) + len(p.Nbr)
	}
	buf := newBuffer(size)
	for _, p := range pairs {
		buf = appendField(buf, p.Rel)
		buf = appendField(buf, p.Nbr)
	}
	return seal(buf, KindPairs, len(pairs))
}

// Count returns the entry count of a validated record of the given kind.
func Count(buf []byte, kind byte) (int, error) {
	rec, err := parse(buf, kind)
	if err != nil {
		return 0, err
	}
	return rec.count, nil
}

// AppendID returns a new id record with id added at the end. If id is
// already present the original record is returned with added=false.
// A nil record is treated as empty. The input is never modified.
func AppendID(buf []byte, id string) (out []byte, added bool, err error) {
	var rec record
	if buf != nil {
		if rec, err = parse(buf, KindIDs); err != nil {
			return nil, false, err
		}
	}
	for rest := rec.payload; len(rest) > 0; {
		var f []byte
		f, rest, _ = readField(rest)
		if borrow(f) == id {
			return buf, false, nil
		}
	}

	out = newBuffer(len(rec.payload) + binary.MaxVarintLen32 + len(id))
	out = append(out, rec.payload...)
	out = appendField(out, id)
	return seal(out, KindIDs, rec.count+1), true, nil
}

// RemoveID returns a new id record without id. When the result would be
// empty out is nil. removed reports whether id was present.
func RemoveID(buf []byte, id string) (out []byte, removed bool, err error) {
	if buf == nil {
		return nil, false, nil
	}
	rec, err := parse(buf, KindIDs)
	if err != nil {
		return nil, false, err
	}

	out = newBuffer(len(rec.payload))
	kept := 0
	for rest := rec.payload; len(rest) > 0; {
		start := rest
		var f []byte
		f, rest, _ = readField(rest)
		if !removed && borrow(f) == id {
			removed = true
			continue
		}
		out = append(out, start[:len(start)-len(rest)]...)
		kept++
	}
	if !removed {
		return buf, false, nil
	}
	if kept == 0 {
		return nil, true, nil
	}
	return seal(out, KindIDs, kept), true, nil
}

// AppendPair returns a new pair record with p added at the end. Parallel
// entries are allowed, so nothing is deduplicated.
func AppendPair(buf []byte, p Pair) ([]byte, error) {
	var rec record
	if buf != nil {
		var err error
		if rec, err = parse(buf, KindPairs); err != nil {
			return nil, err
		}
	}
	out := newBuffer(len(rec.payload) + 2*binary.MaxVarintLen32 + len(p.Rel) + len(p.Nbr))
	out = append(out, rec.payload...)
	out = appendField(out, p.Rel)
	out = appendField(out, p.Nbr)
	return seal(out, KindPairs, rec.count+1), nil
}

// RemovePair returns a new pair record without any entry equal to p. When
// the result would be empty out is nil.
func RemovePair(buf []byte, p Pair) (out []byte, removed bool, err error) {
	if buf == nil {
		return nil, false, nil
	}
	rec, err := parse(buf, KindPairs)
	if err != nil {
		return nil, false, err
	}

	out = newBuffer(len(rec.payload))
	kept := 0
	for rest := rec.payload; len(rest) > 0; {
		start := rest
		var rel, nbr []byte
		rel, rest, _ = readField(rest)
		nbr, rest, _ = readField(rest)
		if borrow(rel) == p.Rel && borrow(nbr) == p.Nbr {
			removed = true
			continue
		}
		out = append(out, start[:len(start)-len(rest)]...)
		kept++
	}
	if !removed {
		return buf, false, nil
	}
	if kept == 0 {
		return nil, true, nil
	}
	return seal(out, KindPairs, kept), true, nil
}

// RemovePairsWith returns a new pair record without any entry whose
// neighbor is nbr. Used when an entity disappears.
func RemovePairsWith(buf []byte, nbr string) (out []byte, removed []Pair, err error) {
	if buf == nil {
		return nil, nil, nil
	}
	rec, err := parse(buf, KindPairs)
	if err != nil {
		return nil, nil, err
	}

	out = newBuffer(len(rec.payload))
	kept := 0
	for rest := rec.payload; len(rest) > 0; {
		start := rest
		var rel, n []byte
		rel, rest, _ = readField(rest)
		n, rest, _ = readField(rest)
		if borrow(n) == nbr {
			removed = append(removed, Pair{Rel: string(rel), Nbr: string(n)})
			continue
		}
		out = append(out, start[:len(start)-len(rest)]...)
		kept++
	}
	if len(removed) == 0 {
		return buf, nil, nil
	}
	if kept == 0 {
		return nil, removed, nil
	}
	return seal(out, KindPairs, kept), removed, nil
}

// DecodePairs copies every pair out of a record.
func DecodePairs(buf []byte) ([]Pair, error) {
	rec, err := parse(buf, KindPairs)
	if err != nil {
		return nil, err
	}
	pairs := make([]Pair, 0, rec.count)
	for rest := rec.payload; len(rest) > 0; {
		var rel, nbr []byte
		rel, rest, _ = readField(rest)
		nbr, rest, _ = readField(rest)
		pairs = append(pairs, Pair{Rel: string(rel), Nbr: string(nbr)})
	}
	return pairs, nil
}

// HasPair reports whether the record contains p. A nil record is empty.
func HasPair(buf []byte, p Pair) (bool, error) {
	if buf == nil {
		return false, nil
	}
	rec, err := parse(buf, KindPairs)
	if err != nil {
		return false, err
	}
	for rest := rec.payload; len(rest) > 0; {
		var rel, nbr []byte
		rel, rest, _ = readField(rest)
		nbr, rest, _ = readField(rest)
		if borrow(rel) == p.Rel && borrow(nbr) == p.Nbr {
			return true, nil
		}
	}
	return false, nil
}
