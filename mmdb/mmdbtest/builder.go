// Package mmdbtest builds small database files in memory. It is the
// write-side counterpart of package mmdb and exists for tests only:
// fixtures are generated instead of being committed as binary blobs.
package mmdbtest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"net"
	"sort"
	"time"
)

var metadataMarker = []byte("\xab\xcd\xefMaxMind.com")

// Pointer marks a value which should be encoded as a format-level
// pointer to the given data section offset.
type Pointer uint

// Builder assembles a database file from a set of networks. Zero
// value is not usable, construct it with New.
type Builder struct {
	// IPVersion is 4 or 6. A 6 tree stores v4 networks behind 96
	// leading zero bits.
	IPVersion int

	// RecordSize is a search tree record width in bits: 24, 28 or 32.
	RecordSize int

	// BuildTime becomes the build_epoch metadata field.
	BuildTime time.Time

	// DatabaseType goes to metadata verbatim.
	DatabaseType string

	// Padding appends this many zero bytes after the encoded records
	// so tests can control a resulting file size.
	Padding int

	networks []network
}

type network struct {
	cidr   string
	record map[string]interface{}
}

// New returns a builder with defaults suitable for most tests: a
// dual-stack tree with 32-bit records built "now".
func New() *Builder {
	return &Builder{
		IPVersion:    6,
		RecordSize:   32,
		BuildTime:    time.Now().UTC().Truncate(time.Second),
		DatabaseType: "Pinpoint-City-Test",
	}
}

// Add registers a network with its record. Networks must not overlap.
func (b *Builder) Add(cidr string, record map[string]interface{}) *Builder {
	b.networks = append(b.networks, network{cidr: cidr, record: record})

	return b
}

// Build serializes the tree, the data section and the metadata block
// into a complete database file.
func (b *Builder) Build() ([]byte, error) {
	root := &trieNode{}

	for _, v := range b.networks {
		addr, prefixLength, err := b.parseCIDR(v.cidr)
		if err != nil {
			return nil, err
		}

		if err := root.insert(addr, 0, prefixLength, v.record); err != nil {
			return nil, fmt.Errorf("cannot insert %s: %w", v.cidr, err)
		}
	}

	internal := []*trieNode{}
	root.enumerate(&internal)
	nodeCount := len(internal)

	data := &encoder{}
	leafOffsets := map[*trieNode]uint{}

	for _, v := range internal {
		for _, child := range v.children {
			if child == nil || !child.isLeaf() {
				continue
			}

			leafOffsets[child] = uint(data.buf.Len())

			if err := data.encode(child.record); err != nil {
				return nil, fmt.Errorf("cannot encode a record: %w", err)
			}
		}
	}

	tree, err := b.serializeTree(internal, nodeCount, leafOffsets)
	if err != nil {
		return nil, err
	}

	meta := &encoder{}
	if err := meta.encode(b.metadataMapping(nodeCount)); err != nil {
		return nil, fmt.Errorf("cannot encode metadata: %w", err)
	}

	out := &bytes.Buffer{}
	out.Write(tree)
	out.Write(make([]byte, 16))
	out.Write(data.buf.Bytes())

	if b.Padding > 0 {
		out.Write(make([]byte, b.Padding))
	}

	out.Write(metadataMarker)
	out.Write(meta.buf.Bytes())

	return out.Bytes(), nil
}

func (b *Builder) parseCIDR(cidr string) ([]byte, int, error) {
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, 0, fmt.Errorf("cannot parse cidr %s: %w", cidr, err)
	}

	prefixLength, _ := ipNet.Mask.Size()
	addr := ipNet.IP

	if v4 := addr.To4(); v4 != nil {
		if b.IPVersion == 4 {
			return v4, prefixLength, nil
		}

		// v4 networks live behind 96 zero bits of a dual tree.
		expanded := make([]byte, 16)
		copy(expanded[12:], v4)

		return expanded, prefixLength + 96, nil
	}

	if b.IPVersion == 4 {
		return nil, 0, fmt.Errorf("cannot put a v6 network %s into a v4 tree", cidr)
	}

	return addr.To16(), prefixLength, nil
}

func (b *Builder) metadataMapping(nodeCount int) map[string]interface{} {
	return map[string]interface{}{
		"binary_format_major_version": uint16(2),
		"binary_format_minor_version": uint16(0),
		"build_epoch":                 uint64(b.BuildTime.Unix()),
		"database_type":               b.DatabaseType,
		"description":                 map[string]interface{}{"en": "test database"},
		"ip_version":                  uint16(b.IPVersion),
		"languages":                   []interface{}{"en"},
		"node_count":                  uint32(nodeCount),
		"record_size":                 uint16(b.RecordSize),
	}
}

func (b *Builder) serializeTree(internal []*trieNode,
	nodeCount int,
	leafOffsets map[*trieNode]uint) ([]byte, error) {
	out := &bytes.Buffer{}

	for _, v := range internal {
		records := [2]uint{}

		for i, child := range v.children {
			switch {
			case child == nil:
				records[i] = uint(nodeCount)
			case child.isLeaf():
				records[i] = uint(nodeCount) + 16 + leafOffsets[child]
			default:
				records[i] = uint(child.index)
			}

			if records[i] >= 1<<uint(b.RecordSize) {
				return nil, fmt.Errorf("record value %d does not fit %d bits",
					records[i],
					b.RecordSize)
			}
		}

		switch b.RecordSize {
		case 24:
			for _, record := range records {
				out.Write([]byte{byte(record >> 16), byte(record >> 8), byte(record)})
			}
		case 28:
			left, right := records[0], records[1]

			out.Write([]byte{
				byte(left >> 16), byte(left >> 8), byte(left),
				byte(left>>24)<<4 | byte(right>>24)&0x0f,
				byte(right >> 16), byte(right >> 8), byte(right),
			})
		case 32:
			for _, record := range records {
				chunk := make([]byte, 4)
				binary.BigEndian.PutUint32(chunk, uint32(record))
				out.Write(chunk)
			}
		default:
			return nil, fmt.Errorf("unsupported record size %d", b.RecordSize)
		}
	}

	return out.Bytes(), nil
}

type trieNode struct {
	children [2]*trieNode
	record   map[string]interface{}
	index    int
}

func (t *trieNode) isLeaf() bool {
	return t.record != nil
}

func (t *trieNode) insert(addr []byte, depth, prefixLength int, record map[string]interface{}) error {
	if t.isLeaf() {
		return fmt.Errorf("networks overlap at depth %d", depth)
	}

	if depth == prefixLength {
		if t.children[0] != nil || t.children[1] != nil {
			return fmt.Errorf("networks overlap at depth %d", depth)
		}

		t.record = record

		return nil
	}

	bit := addr[depth>>3] >> (7 - depth&7) & 1

	if t.children[bit] == nil {
		t.children[bit] = &trieNode{}
	}

	return t.children[bit].insert(addr, depth+1, prefixLength, record)
}

// enumerate assigns indexes to internal nodes in pre-order. The root
// always gets index 0, even when the tree is empty.
func (t *trieNode) enumerate(internal *[]*trieNode) {
	t.index = len(*internal)
	*internal = append(*internal, t)

	for _, child := range t.children {
		if child != nil && !child.isLeaf() {
			child.enumerate(internal)
		}
	}
}

// encoder is the write side of the value format.
type encoder struct {
	buf bytes.Buffer
}

const (
	tagPointer = 1
	tagString  = 2
	tagFloat64 = 3
	tagBytes   = 4
	tagUint16  = 5
	tagUint32  = 6
	tagMap     = 7
	tagInt32   = 8
	tagUint64  = 9
	tagUint128 = 10
	tagSlice   = 11
	tagBool    = 14
	tagFloat32 = 15
)

func (e *encoder) encode(value interface{}) error {
	switch v := value.(type) {
	case string:
		e.writeCtrl(tagString, len(v))
		e.buf.WriteString(v)
	case []byte:
		e.writeCtrl(tagBytes, len(v))
		e.buf.Write(v)
	case float64:
		e.writeCtrl(tagFloat64, 8)

		chunk := make([]byte, 8)
		binary.BigEndian.PutUint64(chunk, math.Float64bits(v))
		e.buf.Write(chunk)
	case float32:
		e.writeCtrl(tagFloat32, 4)

		chunk := make([]byte, 4)
		binary.BigEndian.PutUint32(chunk, math.Float32bits(v))
		e.buf.Write(chunk)
	case bool:
		size := 0
		if v {
			size = 1
		}

		e.writeCtrl(tagBool, size)
	case uint16:
		e.writeCtrl(tagUint16, uintLength(uint64(v)))
		e.writeUintBytes(uint64(v))
	case uint32:
		e.writeCtrl(tagUint32, uintLength(uint64(v)))
		e.writeUintBytes(uint64(v))
	case uint64:
		e.writeCtrl(tagUint64, uintLength(v))
		e.writeUintBytes(v)
	case *big.Int:
		chunk := v.Bytes()
		e.writeCtrl(tagUint128, len(chunk))
		e.buf.Write(chunk)
	case int32:
		e.writeCtrl(tagInt32, 4)

		chunk := make([]byte, 4)
		binary.BigEndian.PutUint32(chunk, uint32(v))
		e.buf.Write(chunk)
	case Pointer:
		e.writePointer(uint(v))
	case map[string]interface{}:
		e.writeCtrl(tagMap, len(v))

		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		for _, k := range keys {
			e.writeCtrl(tagString, len(k))
			e.buf.WriteString(k)

			if err := e.encode(v[k]); err != nil {
				return err
			}
		}
	case []interface{}:
		e.writeCtrl(tagSlice, len(v))

		for _, item := range v {
			if err := e.encode(item); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("cannot encode a value of type %T", value)
	}

	return nil
}

func (e *encoder) writeCtrl(tag, size int) {
	first := byte(0)
	extended := byte(0)

	if tag < 8 {
		first = byte(tag) << 5
	} else {
		extended = byte(tag - 7)
	}

	spill := []byte{}

	switch {
	case size < 29:
		first |= byte(size)
	case size < 29+256:
		first |= 29
		spill = []byte{byte(size - 29)}
	case size < 285+65536:
		first |= 30
		spill = []byte{byte((size - 285) >> 8), byte(size - 285)}
	default:
		first |= 31

		rest := size - 65821
		spill = []byte{byte(rest >> 16), byte(rest >> 8), byte(rest)}
	}

	e.buf.WriteByte(first)

	if tag >= 8 {
		e.buf.WriteByte(extended)
	}

	e.buf.Write(spill)
}

func (e *encoder) writePointer(target uint) {
	switch {
	case target < 1<<11:
		e.buf.WriteByte(byte(tagPointer)<<5 | byte(target>>8)&0x7)
		e.buf.WriteByte(byte(target))
	case target < 2048+1<<19:
		rest := target - 2048

		e.buf.WriteByte(byte(tagPointer)<<5 | 1<<3 | byte(rest>>16)&0x7)
		e.buf.WriteByte(byte(rest >> 8))
		e.buf.WriteByte(byte(rest))
	case target < 526336+1<<27:
		rest := target - 526336

		e.buf.WriteByte(byte(tagPointer)<<5 | 2<<3 | byte(rest>>24)&0x7)
		e.buf.WriteByte(byte(rest >> 16))
		e.buf.WriteByte(byte(rest >> 8))
		e.buf.WriteByte(byte(rest))
	default:
		e.buf.WriteByte(byte(tagPointer)<<5 | 3<<3)

		chunk := make([]byte, 4)
		binary.BigEndian.PutUint32(chunk, uint32(target))
		e.buf.Write(chunk)
	}
}

func (e *encoder) writeUintBytes(value uint64) {
	for shift := (uintLength(value) - 1) * 8; shift >= 0; shift -= 8 {
		e.buf.WriteByte(byte(value >> uint(shift)))
	}
}

func uintLength(value uint64) int {
	length := 0

	for ; value > 0; value >>= 8 {
		length++
	}

	return length
}
