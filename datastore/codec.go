package datastore

import (
	"encoding/binary"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/narwhaldb/narwhal/dberr"
)

// Codec compresses payload records before they hit the store.
// Sys-records always stay uncompressed for recoverability.
type Codec interface {
	Name() string
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
}

// CodecByName resolves a codec from the namespace config. Unknown
// names fail with CodeParams.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "none":
		return noneCodec{}, nil
	case "lz4":
		return lz4Codec{}, nil
	case "zstd":
		return newZstdCodec()
	}
	return nil, dberr.Newf(dberr.CodeParams, "unknown storage codec '%s'", name)
}

type noneCodec struct{}

func (noneCodec) Name() string                            { return "none" }
func (noneCodec) Compress(src []byte) ([]byte, error)     { return src, nil }
func (noneCodec) Decompress(src []byte) ([]byte, error)   { return src, nil }

// lz4Codec block-compresses with an uncompressed-size prefix.
type lz4Codec struct{}

func (lz4Codec) Name() string { return "lz4" }

func (lz4Codec) Compress(src []byte) ([]byte, error) {
	dst := make([]byte, binary.MaxVarintLen64+lz4.CompressBlockBound(len(src)))
	n := binary.PutUvarint(dst, uint64(len(src)))
	var c lz4.Compressor
	sz, err := c.CompressBlock(src, dst[n:])
	if err != nil {
		return nil, dberr.Wrap(dberr.CodeLogic, err, "lz4 compress")
	}
	if sz == 0 {
		// Incompressible: store raw with a zero marker.
		out := make([]byte, 0, len(src)+1)
		out = append(out, 0)
		return append(out, src...), nil
	}
	return dst[:n+sz], nil
}

func (lz4Codec) Decompress(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return nil, nil
	}
	if src[0] == 0 {
		return src[1:], nil
	}
	size, n := binary.Uvarint(src)
	if n <= 0 {
		return nil, dberr.New(dberr.CodeLogic, "lz4 record truncated")
	}
	dst := make([]byte, size)
	if _, err := lz4.UncompressBlock(src[n:], dst); err != nil {
		return nil, dberr.Wrap(dberr.CodeLogic, err, "lz4 decompress")
	}
	return dst, nil
}

type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCodec() (Codec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, dberr.Wrap(dberr.CodeLogic, err, "zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, dberr.Wrap(dberr.CodeLogic, err, "zstd decoder")
	}
	return &zstdCodec{enc: enc, dec: dec}, nil
}

func (c *zstdCodec) Name() string { return "zstd" }

func (c *zstdCodec) Compress(src []byte) ([]byte, error) {
	return c.enc.EncodeAll(src, nil), nil
}

func (c *zstdCodec) Decompress(src []byte) ([]byte, error) {
	out, err := c.dec.DecodeAll(src, nil)
	if err != nil {
		return nil, dberr.Wrap(dberr.CodeLogic, err, "zstd decompress")
	}
	return out, nil
}
