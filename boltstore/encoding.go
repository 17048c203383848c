package boltstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/mstrYoda/graphmatch"
)

// errCorrupt is returned for records whose checksum or framing is invalid.
var errCorrupt = errors.New("boltstore: corrupted record")

const sep byte = 0x00

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeUint64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// joinKey builds "a\x00b\x00...". Parts must not contain the separator.
func joinKey(parts ...string) []byte {
	n := 0
	for _, p := range parts {
		n += len(p) + 1
	}
	buf := make([]byte, 0, n)
	for i, p := range parts {
		if i > 0 {
			buf = append(buf, sep)
		}
		buf = append(buf, p...)
	}
	return buf
}

// keyPrefix builds "a\x00b\x00" for prefix scans.
func keyPrefix(parts ...string) []byte {
	return append(joinKey(parts...), sep)
}

// lastPart returns the segment after the final separator.
func lastPart(key []byte) string {
	i := bytes.LastIndexByte(key, sep)
	return string(key[i+1:])
}

// validID rejects ids and labels that would break the key layout.
func validID(kind, s string) error {
	if bytes.IndexByte([]byte(s), sep) >= 0 {
		return fmt.Errorf("boltstore: %s %q contains a NUL byte", kind, s)
	}
	return nil
}

// Magic byte for the property encoding.
const propsMagicCRC byte = 0x02

var crc32Table = crc32.MakeTable(crc32.Castagnoli)

// encodeProps serializes properties to MessagePack with a CRC32 checksum.
// Format: magic(1) + msgpack_data + crc32(4)
func encodeProps(props graphmatch.Props) ([]byte, error) {
	if props == nil {
		props = graphmatch.Props{}
	}
	raw, err := msgpack.Marshal(map[string]any(props))
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 1+len(raw)+4)
	buf[0] = propsMagicCRC
	copy(buf[1:], raw)
	checksum := crc32.Checksum(buf[:1+len(raw)], crc32Table)
	binary.BigEndian.PutUint32(buf[1+len(raw):], checksum)
	return buf, nil
}

func decodeProps(data []byte) (graphmatch.Props, error) {
	if len(data) < 5 || data[0] != propsMagicCRC {
		return nil, fmt.Errorf("%w: props header", errCorrupt)
	}
	payload := data[:len(data)-4]
	stored := binary.BigEndian.Uint32(data[len(data)-4:])
	if actual := crc32.Checksum(payload, crc32Table); stored != actual {
		return nil, fmt.Errorf("%w: props checksum mismatch (stored=%08x actual=%08x)", errCorrupt, stored, actual)
	}
	var raw map[string]any
	if err := msgpack.Unmarshal(payload[1:], &raw); err != nil {
		return nil, err
	}
	// msgpack hands back the narrowest integer type; normalise to int64.
	return graphmatch.NormalizeProps(raw), nil
}

// encodeRecord frames length-prefixed string fields followed by the
// encoded props: len(4) + field ... + props.
func encodeRecord(props graphmatch.Props, fields ...string) ([]byte, error) {
	propsData, err := encodeProps(props)
	if err != nil {
		return nil, err
	}
	n := len(propsData)
	for _, f := range fields {
		n += 4 + len(f)
	}
	buf := make([]byte, 0, n)
	for _, f := range fields {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(f)))
		buf = append(buf, f...)
	}
	return append(buf, propsData...), nil
}

func decodeRecord(data []byte, nfields int) ([]string, graphmatch.Props, error) {
	fields := make([]string, nfields)
	off := 0
	for i := range fields {
		if off+4 > len(data) {
			return nil, nil, fmt.Errorf("%w: truncated field %d", errCorrupt, i)
		}
		l := int(binary.BigEndian.Uint32(data[off : off+4]))
		off += 4
		if off+l > len(data) {
			return nil, nil, fmt.Errorf("%w: field %d overruns record", errCorrupt, i)
		}
		fields[i] = string(data[off : off+l])
		off += l
	}
	props, err := decodeProps(data[off:])
	if err != nil {
		return nil, nil, err
	}
	return fields, props, nil
}

// Vertex record: label + props.
func encodeVertex(v *graphmatch.DataVertex) ([]byte, error) {
	return encodeRecord(v.Props, v.Label)
}

func decodeVertex(id graphmatch.VertexID, data []byte) (*graphmatch.DataVertex, error) {
	f, props, err := decodeRecord(data, 1)
	if err != nil {
		return nil, fmt.Errorf("vertex %s: %w", id, err)
	}
	return &graphmatch.DataVertex{ID: id, Label: f[0], Props: props}, nil
}

// Edge record: src + dst + label + props.
func encodeEdge(e *graphmatch.DataEdge) ([]byte, error) {
	return encodeRecord(e.Props, string(e.Src), string(e.Dst), e.Label)
}

func decodeEdge(id graphmatch.EdgeID, data []byte) (*graphmatch.DataEdge, error) {
	f, props, err := decodeRecord(data, 3)
	if err != nil {
		return nil, fmt.Errorf("edge %s: %w", id, err)
	}
	return &graphmatch.DataEdge{
		ID:    id,
		Src:   graphmatch.VertexID(f[0]),
		Dst:   graphmatch.VertexID(f[1]),
		Label: f[2],
		Props: props,
	}, nil
}
