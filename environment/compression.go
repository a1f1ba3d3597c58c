// Package environment implements C2, the process-wide handle binding a
// config, a kv.Engine, a log channel, and the set of currently open
// Index handles.
package environment

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"ternstore/dberr"
)

// snapshotAlgorithm compresses a checkpoint snapshot blob. Only the
// environment's periodic snapshot uses this; postings and document blobs
// pass through the kv layer uncompressed.
type snapshotAlgorithm interface {
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

type lz4Algorithm struct{}

func (lz4Algorithm) Name() string { return "lz4" }

func (lz4Algorithm) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lz4Algorithm) Decompress(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	return io.ReadAll(r)
}

type snappyAlgorithm struct{}

func (snappyAlgorithm) Name() string { return "snappy" }

func (snappyAlgorithm) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyAlgorithm) Decompress(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}

type zstdAlgorithm struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func (a *zstdAlgorithm) Name() string { return "zstd" }

func (a *zstdAlgorithm) Compress(data []byte) ([]byte, error) {
	if a.encoder == nil {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		a.encoder = enc
	}
	return a.encoder.EncodeAll(data, nil), nil
}

func (a *zstdAlgorithm) Decompress(data []byte) ([]byte, error) {
	if a.decoder == nil {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		a.decoder = dec
	}
	return a.decoder.DecodeAll(data, nil)
}

// snapshotCompressor selects an algorithm by size, the way the teacher's
// SizeBasedPolicy does, but collapsed to the one policy a checkpoint
// snapshot (small, bursty, written on a timer) actually needs: skip
// compression below a threshold, otherwise prefer the best ratio.
type snapshotCompressor struct {
	minSize    int64
	algorithms map[string]snapshotAlgorithm
	selected   string
}

func newSnapshotCompressor() *snapshotCompressor {
	return &snapshotCompressor{
		minSize: 1024,
		algorithms: map[string]snapshotAlgorithm{
			"lz4":    lz4Algorithm{},
			"snappy": snappyAlgorithm{},
			"zstd":   &zstdAlgorithm{},
		},
		selected: "zstd",
	}
}

// compress returns the algorithm name used (possibly "" for "stored
// uncompressed below threshold") alongside the resulting bytes.
func (c *snapshotCompressor) compress(data []byte) (string, []byte, error) {
	if int64(len(data)) < c.minSize {
		return "", data, nil
	}
	algo, ok := c.algorithms[c.selected]
	if !ok {
		return "", data, nil
	}
	out, err := algo.Compress(data)
	if err != nil {
		return "", nil, dberr.NewError("snapshot compression failed", err)
	}
	return algo.Name(), out, nil
}

func (c *snapshotCompressor) decompress(name string, data []byte) ([]byte, error) {
	if name == "" {
		return data, nil
	}
	algo, ok := c.algorithms[name]
	if !ok {
		return nil, dberr.NewError(fmt.Sprintf("unknown snapshot compression algorithm %q", name), nil)
	}
	out, err := algo.Decompress(data)
	if err != nil {
		return nil, dberr.NewError("snapshot decompression failed", err)
	}
	return out, nil
}

// snapshotStats is recorded per checkpoint, mirroring the teacher's
// CompressionStats shape cut down to the fields a checkpoint cares about.
type snapshotStats struct {
	Algorithm    string
	OriginalSize int
	StoredSize   int
	Took         time.Duration
}
