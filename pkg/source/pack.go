package source

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"weak"

	"github.com/klauspost/compress/zstd"
	"lukechampine.com/blake3"

	"github.com/marmos91/dittobundle/pkg/bufpool"
)

// Packed unit layout, before compression:
//
//	magic   [4]byte "DBPK"
//	version uint32
//	idxLen  uint32
//	index   [idxLen]byte JSON packIndex
//	payload []byte, assets addressed by offset/length
//
// The whole thing is one zstd frame. The content hash is BLAKE3-256 over the
// compressed bytes, hex encoded.

const (
	packMagic   = "DBPK"
	packVersion = 1
	headerSize  = 12
)

// Asset is an input to EncodePack.
type Asset struct {
	Path string
	Name string
	Type Type
	Data []byte
}

type packEntry struct {
	Path   string `json:"path"`
	Name   string `json:"name"`
	Type   Type   `json:"type"`
	Offset int64  `json:"offset"`
	Length int64  `json:"length"`
}

type packIndex struct {
	Unit   string      `json:"unit"`
	Assets []packEntry `json:"assets"`
}

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	decoderOnce sync.Once
	decoder     *zstd.Decoder
)

func getEncoder() *zstd.Encoder {
	encoderOnce.Do(func() {
		encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return encoder
}

func getDecoder() *zstd.Decoder {
	decoderOnce.Do(func() {
		decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return decoder
}

// Hash returns the content hash of raw unit bytes.
func Hash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// EncodePack builds the packed form of a unit. Assets keep the order given.
func EncodePack(unit string, assets []Asset) ([]byte, error) {
	idx := packIndex{Unit: unit, Assets: make([]packEntry, 0, len(assets))}
	var payload bytes.Buffer
	for _, a := range assets {
		if a.Path == "" {
			return nil, fmt.Errorf("asset in unit %q has empty path", unit)
		}
		idx.Assets = append(idx.Assets, packEntry{
			Path:   a.Path,
			Name:   a.Name,
			Type:   a.Type,
			Offset: int64(payload.Len()),
			Length: int64(len(a.Data)),
		})
		payload.Write(a.Data)
	}

	idxBytes, err := json.Marshal(idx)
	if err != nil {
		return nil, fmt.Errorf("encode pack index: %w", err)
	}

	plain := make([]byte, headerSize, headerSize+len(idxBytes)+payload.Len())
	copy(plain, packMagic)
	binary.BigEndian.PutUint32(plain[4:], packVersion)
	binary.BigEndian.PutUint32(plain[8:], uint32(len(idxBytes)))
	plain = append(plain, idxBytes...)
	plain = append(plain, payload.Bytes()...)

	return getEncoder().EncodeAll(plain, nil), nil
}

// DecodePack opens packed unit bytes. raw is not retained. Decode failures
// wrap ErrProtocol.
func DecodePack(raw []byte) (Handle, error) {
	buf := bufpool.Get(len(raw) * 4)[:0]
	plain, err := getDecoder().DecodeAll(raw, buf)
	if err != nil {
		bufpool.Put(buf)
		return nil, fmt.Errorf("%w: decompress unit: %v", ErrProtocol, err)
	}
	// DecodeAll reallocates when the pooled buffer is too small; only a
	// buffer that came from Get goes back with Put.
	pooled := cap(plain) == cap(buf)
	if !pooled {
		bufpool.Put(buf)
	}

	h, err := parsePack(plain)
	if err != nil {
		if pooled {
			bufpool.Put(plain)
		}
		return nil, err
	}
	h.pooled = pooled
	return h, nil
}

func parsePack(plain []byte) (*packHandle, error) {
	if len(plain) < headerSize || string(plain[:4]) != packMagic {
		return nil, fmt.Errorf("%w: bad pack header", ErrProtocol)
	}
	if v := binary.BigEndian.Uint32(plain[4:]); v != packVersion {
		return nil, fmt.Errorf("%w: unsupported pack version %d", ErrProtocol, v)
	}
	idxLen := int(binary.BigEndian.Uint32(plain[8:]))
	if headerSize+idxLen > len(plain) {
		return nil, fmt.Errorf("%w: truncated pack index", ErrProtocol)
	}

	var idx packIndex
	if err := json.Unmarshal(plain[headerSize:headerSize+idxLen], &idx); err != nil {
		return nil, fmt.Errorf("%w: decode pack index: %v", ErrProtocol, err)
	}

	payload := plain[headerSize+idxLen:]
	for _, e := range idx.Assets {
		if e.Offset < 0 || e.Length < 0 || e.Offset+e.Length > int64(len(payload)) {
			return nil, fmt.Errorf("%w: asset %q out of bounds", ErrProtocol, e.Path)
		}
	}

	return &packHandle{
		unit:      idx.Unit,
		entries:   idx.Assets,
		buf:       plain,
		payload:   payload,
		extracted: make(map[int]weak.Pointer[Object]),
	}, nil
}

// packHandle is the Handle for a decoded pack. When pooled, buf came from
// bufpool and is returned on Unload.
type packHandle struct {
	unit    string
	entries []packEntry
	buf     []byte
	payload []byte
	pooled  bool

	// extracted maps entry index to the live object for that asset.
	extracted map[int]weak.Pointer[Object]
	unloaded  bool
}

func (h *packHandle) Unit() string { return h.unit }

func (h *packHandle) Size() int64 { return int64(len(h.payload)) }

func (h *packHandle) Assets() []AssetInfo {
	out := make([]AssetInfo, 0, len(h.entries))
	for _, e := range h.entries {
		out = append(out, AssetInfo{Path: e.Path, Name: e.Name, Type: e.Type, Size: e.Length})
	}
	return out
}

func (h *packHandle) match(i int, path string, t Type) bool {
	e := h.entries[i]
	return (path == "" || e.Path == path) && e.Type.Is(t)
}

func (h *packHandle) object(i int) *Object {
	if wp, ok := h.extracted[i]; ok {
		if o := wp.Value(); o != nil && !o.Destroyed() {
			return o
		}
	}
	e := h.entries[i]
	data := make([]byte, e.Length)
	copy(data, h.payload[e.Offset:e.Offset+e.Length])
	o := &Object{Path: e.Path, Name: e.Name, Type: e.Type, Unit: h.unit, Data: data}
	h.extracted[i] = weak.Make(o)
	return o
}

func (h *packHandle) Extract(path string, t Type) *Object {
	if h.unloaded {
		return nil
	}
	for i := range h.entries {
		if h.match(i, path, t) {
			return h.object(i)
		}
	}
	return nil
}

func (h *packHandle) ExtractAll(path string, t Type) []*Object {
	out := []*Object{}
	if h.unloaded {
		return out
	}
	for i := range h.entries {
		if h.match(i, path, t) {
			out = append(out, h.object(i))
		}
	}
	return out
}

func (h *packHandle) Unload(force bool) {
	if h.unloaded {
		return
	}
	h.unloaded = true

	if force {
		keys := make([]int, 0, len(h.extracted))
		for i := range h.extracted {
			keys = append(keys, i)
		}
		sort.Ints(keys)
		for _, i := range keys {
			if o := h.extracted[i].Value(); o != nil {
				o.Destroy()
			}
		}
	}
	clear(h.extracted)

	if h.pooled {
		bufpool.Put(h.buf)
	}
	h.buf, h.payload = nil, nil
}
