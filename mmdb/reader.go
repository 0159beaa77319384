package mmdb

import (
	"encoding/binary"
	"fmt"
	"io/ioutil"
	"net"
)

const ipv4PrefixBitLength = 96

// Reader answers lookups against a single immutable database buffer.
type Reader struct {
	Metadata Metadata

	tree      []byte
	data      decoder
	ipv4Start uint
}

// Open reads a whole database file into memory and parses it. The
// resulting reader does not keep the file open, so the file may be
// renamed or deleted while lookups proceed.
func Open(path string) (*Reader, error) {
	buffer, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read a database file: %w", err)
	}

	return FromBytes(buffer)
}

// FromBytes parses a database from a raw buffer.
func FromBytes(buffer []byte) (*Reader, error) {
	meta, metadataStart, err := readMetadata(buffer)
	if err != nil {
		return nil, fmt.Errorf("cannot read metadata: %w", err)
	}

	if err := meta.validate(uint(len(buffer)), metadataStart); err != nil {
		return nil, err
	}

	reader := &Reader{
		Metadata: *meta,
		tree:     buffer[:meta.TreeLength()],
		data:     decoder{buffer: buffer[meta.DataSectionStart():metadataStart]},
	}

	if meta.IPVersion == 6 {
		reader.ipv4Start = reader.findIPv4Start()
	}

	return reader, nil
}

// Lookup walks the search tree with bits of the given address and
// decodes the matched record into a mapping. ErrNotFound is returned
// if the tree has no entry for the address.
func (r *Reader) Lookup(ip net.IP) (map[string]interface{}, error) {
	node := uint(0)
	bitLength := 128

	if v4 := ip.To4(); v4 != nil {
		ip = v4
		bitLength = 32
		node = r.ipv4Start
	} else if r.Metadata.IPVersion == 4 {
		// a v4-only generation provably has no entry for a v6
		// address.
		return nil, ErrNotFound
	} else {
		ip = ip.To16()
	}

	nodeCount := r.Metadata.NodeCount

	for i := 0; i < bitLength && node < nodeCount; i++ {
		bit := ip[i>>3] >> (7 - i&7) & 1
		node = r.readNodeRecord(node, bit)
	}

	switch {
	case node == nodeCount:
		return nil, ErrNotFound
	case node > nodeCount:
		return r.decodeRecord(node)
	}

	// address bits exhausted inside the tree.
	return nil, ErrNotFound
}

func (r *Reader) decodeRecord(nodeRecord uint) (map[string]interface{}, error) {
	nodeCount := r.Metadata.NodeCount

	if nodeRecord < nodeCount+dataSectionSeparatorSize {
		return nil, fmt.Errorf("record %d points into the separator: %w",
			nodeRecord,
			ErrCorruptDatabase)
	}

	offset := nodeRecord - nodeCount - dataSectionSeparatorSize

	value, _, err := r.data.decode(offset)
	if err != nil {
		return nil, fmt.Errorf("cannot decode a record at %d: %w", offset, err)
	}

	mapping, ok := value.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("record at %d is not a mapping: %w", offset, ErrCorruptDatabase)
	}

	return mapping, nil
}

// findIPv4Start resolves the node where lookups of v4 addresses start
// in a dual-stack tree: the subtree behind 96 leading zero bits.
func (r *Reader) findIPv4Start() uint {
	node := uint(0)

	for i := 0; i < ipv4PrefixBitLength && node < r.Metadata.NodeCount; i++ {
		node = r.readNodeRecord(node, 0)
	}

	return node
}

func (r *Reader) readNodeRecord(node uint, bit byte) uint {
	switch r.Metadata.RecordSize {
	case 24:
		base := node*6 + uint(bit)*3

		return uint(r.tree[base])<<16 | uint(r.tree[base+1])<<8 | uint(r.tree[base+2])
	case 28:
		base := node * 7

		if bit == 0 {
			return uint(r.tree[base+3]>>4)<<24 |
				uint(r.tree[base])<<16 |
				uint(r.tree[base+1])<<8 |
				uint(r.tree[base+2])
		}

		return uint(r.tree[base+3]&0x0f)<<24 |
			uint(r.tree[base+4])<<16 |
			uint(r.tree[base+5])<<8 |
			uint(r.tree[base+6])
	default:
		base := node*8 + uint(bit)*4

		return uint(binary.BigEndian.Uint32(r.tree[base : base+4]))
	}
}
