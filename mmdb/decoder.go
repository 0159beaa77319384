package mmdb

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
)

type dataType byte

const (
	typeExtended dataType = iota
	typePointer
	typeString
	typeFloat64
	typeBytes
	typeUint16
	typeUint32
	typeMap
	typeInt32
	typeUint64
	typeUint128
	typeSlice
	typeContainer
	typeEndMarker
	typeBool
	typeFloat32
)

const (
	// maxPointerDepth bounds transparent pointer resolution. Real
	// records nest a handful of pointers at most; a chase this long
	// can only be a loop in a malformed file.
	maxPointerDepth = 32

	extendedTypeBias = 7
)

// decoder decodes values of a single data section. All offsets and
// format-level pointers are relative to the start of its buffer.
type decoder struct {
	buffer []byte
}

func (d decoder) decode(offset uint) (interface{}, uint, error) {
	return d.decodeValue(offset, maxPointerDepth)
}

func (d decoder) decodeValue(offset uint, depth int) (interface{}, uint, error) {
	if depth <= 0 {
		return nil, 0, ErrPointerTooDeep
	}

	typeTag, size, offset, err := d.decodeCtrl(offset)
	if err != nil {
		return nil, 0, err
	}

	switch typeTag {
	case typePointer:
		target, newOffset, err := d.decodePointer(size, offset)
		if err != nil {
			return nil, 0, err
		}

		value, _, err := d.decodeValue(target, depth-1)
		if err != nil {
			return nil, 0, fmt.Errorf("cannot follow a pointer to %d: %w", target, err)
		}

		return value, newOffset, nil
	case typeString:
		chunk, newOffset, err := d.chunk(offset, size)
		if err != nil {
			return nil, 0, err
		}

		return string(chunk), newOffset, nil
	case typeBytes:
		chunk, newOffset, err := d.chunk(offset, size)
		if err != nil {
			return nil, 0, err
		}

		value := make([]byte, len(chunk))
		copy(value, chunk)

		return value, newOffset, nil
	case typeFloat64:
		return d.decodeFloat64(offset, size)
	case typeFloat32:
		return d.decodeFloat32(offset, size)
	case typeUint16:
		value, newOffset, err := d.decodeUint(offset, size, 2)
		if err != nil {
			return nil, 0, err
		}

		return uint16(value), newOffset, nil
	case typeUint32:
		value, newOffset, err := d.decodeUint(offset, size, 4)
		if err != nil {
			return nil, 0, err
		}

		return uint32(value), newOffset, nil
	case typeUint64:
		return d.decodeUint(offset, size, 8)
	case typeUint128:
		chunk, newOffset, err := d.chunk(offset, size)
		if err != nil {
			return nil, 0, err
		}

		if size > 16 {
			return nil, 0, fmt.Errorf("incorrect uint128 length %d: %w", size, ErrCorruptDatabase)
		}

		return new(big.Int).SetBytes(chunk), newOffset, nil
	case typeInt32:
		value, newOffset, err := d.decodeUint(offset, size, 4)
		if err != nil {
			return nil, 0, err
		}

		return int32(value), newOffset, nil
	case typeBool:
		switch size {
		case 0:
			return false, offset, nil
		case 1:
			return true, offset, nil
		}

		return nil, 0, fmt.Errorf("incorrect boolean length %d: %w", size, ErrCorruptDatabase)
	case typeMap:
		return d.decodeMap(offset, size, depth)
	case typeSlice:
		return d.decodeSlice(offset, size, depth)
	}

	return nil, 0, fmt.Errorf("unexpected type tag %d: %w", typeTag, ErrCorruptDatabase)
}

func (d decoder) decodeCtrl(offset uint) (dataType, uint, uint, error) {
	ctrlChunk, offset, err := d.chunk(offset, 1)
	if err != nil {
		return 0, 0, 0, err
	}

	ctrl := ctrlChunk[0]
	typeTag := dataType(ctrl >> 5)

	if typeTag == typeExtended {
		extChunk, newOffset, err := d.chunk(offset, 1)
		if err != nil {
			return 0, 0, 0, err
		}

		extended := uint(extChunk[0]) + extendedTypeBias
		if extended <= uint(typeMap) || extended > uint(typeFloat32) {
			return 0, 0, 0, fmt.Errorf("unknown extended type tag %d: %w", extended, ErrCorruptDatabase)
		}

		typeTag = dataType(extended)
		offset = newOffset
	}

	size := uint(ctrl & 0x1f)

	// pointers reuse the length bits for their size class and value
	// prefix, decodePointer deals with them.
	if typeTag == typePointer {
		return typeTag, size, offset, nil
	}

	switch size {
	case 29:
		chunk, newOffset, err := d.chunk(offset, 1)
		if err != nil {
			return 0, 0, 0, err
		}

		size = 29 + uint(chunk[0])
		offset = newOffset
	case 30:
		chunk, newOffset, err := d.chunk(offset, 2)
		if err != nil {
			return 0, 0, 0, err
		}

		size = 285 + uint(binary.BigEndian.Uint16(chunk))
		offset = newOffset
	case 31:
		chunk, newOffset, err := d.chunk(offset, 3)
		if err != nil {
			return 0, 0, 0, err
		}

		size = 65821 + uint(chunk[0])<<16 + uint(chunk[1])<<8 + uint(chunk[2])
		offset = newOffset
	}

	return typeTag, size, offset, nil
}

func (d decoder) decodePointer(size, offset uint) (uint, uint, error) {
	sizeClass := size >> 3
	prefix := size & 0x7

	chunk, newOffset, err := d.chunk(offset, sizeClass+1)
	if err != nil {
		return 0, 0, err
	}

	var target uint

	switch sizeClass {
	case 0:
		target = prefix<<8 | uint(chunk[0])
	case 1:
		target = (prefix<<16 | uint(chunk[0])<<8 | uint(chunk[1])) + 2048
	case 2:
		target = (prefix<<24 | uint(chunk[0])<<16 | uint(chunk[1])<<8 | uint(chunk[2])) + 526336
	default:
		target = uint(binary.BigEndian.Uint32(chunk))
	}

	return target, newOffset, nil
}

func (d decoder) decodeFloat64(offset, size uint) (interface{}, uint, error) {
	if size != 8 {
		return nil, 0, fmt.Errorf("incorrect double length %d: %w", size, ErrCorruptDatabase)
	}

	chunk, newOffset, err := d.chunk(offset, size)
	if err != nil {
		return nil, 0, err
	}

	return math.Float64frombits(binary.BigEndian.Uint64(chunk)), newOffset, nil
}

func (d decoder) decodeFloat32(offset, size uint) (interface{}, uint, error) {
	if size != 4 {
		return nil, 0, fmt.Errorf("incorrect float length %d: %w", size, ErrCorruptDatabase)
	}

	chunk, newOffset, err := d.chunk(offset, size)
	if err != nil {
		return nil, 0, err
	}

	return math.Float32frombits(binary.BigEndian.Uint32(chunk)), newOffset, nil
}

func (d decoder) decodeUint(offset, size, maxBytes uint) (uint64, uint, error) {
	if size > maxBytes {
		return 0, 0, fmt.Errorf("incorrect integer length %d: %w", size, ErrCorruptDatabase)
	}

	chunk, newOffset, err := d.chunk(offset, size)
	if err != nil {
		return 0, 0, err
	}

	var value uint64
	for _, v := range chunk {
		value = value<<8 | uint64(v)
	}

	return value, newOffset, nil
}

func (d decoder) decodeMap(offset, size uint, depth int) (interface{}, uint, error) {
	value := make(map[string]interface{}, size)

	for i := uint(0); i < size; i++ {
		keyValue, newOffset, err := d.decodeValue(offset, depth-1)
		if err != nil {
			return nil, 0, fmt.Errorf("cannot decode a map key: %w", err)
		}

		key, ok := keyValue.(string)
		if !ok {
			return nil, 0, fmt.Errorf("map key %v is not a string: %w", keyValue, ErrCorruptDatabase)
		}

		item, newOffset, err := d.decodeValue(newOffset, depth-1)
		if err != nil {
			return nil, 0, fmt.Errorf("cannot decode a value of key %s: %w", key, err)
		}

		value[key] = item
		offset = newOffset
	}

	return value, offset, nil
}

func (d decoder) decodeSlice(offset, size uint, depth int) (interface{}, uint, error) {
	value := make([]interface{}, 0, size)

	for i := uint(0); i < size; i++ {
		item, newOffset, err := d.decodeValue(offset, depth-1)
		if err != nil {
			return nil, 0, fmt.Errorf("cannot decode an array element %d: %w", i, err)
		}

		value = append(value, item)
		offset = newOffset
	}

	return value, offset, nil
}

func (d decoder) chunk(offset, size uint) ([]byte, uint, error) {
	end := offset + size

	if end > uint(len(d.buffer)) || end < offset {
		return nil, 0, fmt.Errorf("cannot read %d bytes at %d: %w", size, offset, ErrBufferOverrun)
	}

	return d.buffer[offset:end], end, nil
}
