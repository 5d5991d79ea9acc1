package fragstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/zstd"

	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
)

// FormatVersion is written into every fragment header.
const FormatVersion = 1

// Codec errors.
var (
	ErrCorrupt            = errors.New("fragstore: corrupt payload")
	ErrUnsupportedVersion = errors.New("fragstore: unsupported format version")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Header is the persisted description of a fragment.
type Header struct {
	Version int                   `json:"version"`
	Meta    terrain.FragmentMeta  `json:"meta"`
	Chunks  []terrain.ChunkRecord `json:"chunks"`
}

// codec compresses payloads. EncodeAll and DecodeAll are safe for concurrent
// use, so one codec serves the whole store.
type codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newCodec() (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &codec{enc: enc, dec: dec}, nil
}

func (c *codec) close() {
	c.enc.Close()
	c.dec.Close()
}

func (c *codec) compress(raw []byte) []byte {
	return c.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2))
}

func (c *codec) decompress(blob []byte) ([]byte, error) {
	raw, err := c.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return raw, nil
}

func (c *codec) encodeHeader(h *Header) ([]byte, error) {
	raw, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return c.compress(raw), nil
}

func (c *codec) decodeHeader(blob []byte) (*Header, error) {
	raw, err := c.decompress(blob)
	if err != nil {
		return nil, err
	}
	var h Header
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	if h.Version != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	return &h, nil
}

func (c *codec) encodeIndices(indices []uint16) []byte {
	raw := make([]byte, 2*len(indices))
	for i, v := range indices {
		binary.LittleEndian.PutUint16(raw[2*i:], v)
	}
	return c.compress(raw)
}

func (c *codec) decodeIndices(blob []byte) ([]uint16, error) {
	raw, err := c.decompress(blob)
	if err != nil {
		return nil, err
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("%w: index payload of %d bytes", ErrCorrupt, len(raw))
	}
	out := make([]uint16, len(raw)/2)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(raw[2*i:])
	}
	return out, nil
}

func (c *codec) encodeVertices(verts []terrain.Vertex) []byte {
	raw := make([]byte, terrain.VertexSize*len(verts))
	for i, v := range verts {
		b := raw[terrain.VertexSize*i:]
		binary.LittleEndian.PutUint16(b[0:], v.X)
		binary.LittleEndian.PutUint16(b[2:], v.Z)
		binary.LittleEndian.PutUint32(b[4:], math.Float32bits(v.Y))
		binary.LittleEndian.PutUint16(b[8:], uint16(v.NX))
		binary.LittleEndian.PutUint16(b[10:], uint16(v.NZ))
	}
	return c.compress(raw)
}

func (c *codec) decodeVertices(blob []byte) ([]terrain.Vertex, error) {
	raw, err := c.decompress(blob)
	if err != nil {
		return nil, err
	}
	if len(raw)%terrain.VertexSize != 0 {
		return nil, fmt.Errorf("%w: vertex payload of %d bytes", ErrCorrupt, len(raw))
	}
	out := make([]terrain.Vertex, len(raw)/terrain.VertexSize)
	for i := range out {
		b := raw[terrain.VertexSize*i:]
		out[i] = terrain.Vertex{
			X:  binary.LittleEndian.Uint16(b[0:]),
			Z:  binary.LittleEndian.Uint16(b[2:]),
			Y:  math.Float32frombits(binary.LittleEndian.Uint32(b[4:])),
			NX: int16(binary.LittleEndian.Uint16(b[8:])),
			NZ: int16(binary.LittleEndian.Uint16(b[10:])),
		}
	}
	return out, nil
}
