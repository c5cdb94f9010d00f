package vectorindex

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// File layout (little-endian):
//
//	[6]byte magic "PETIDX" | uint16 version | uint16 model length | model bytes
//	uint32 dimension | uint32 count | count*dimension float32
//	count * (uint32 text length | text bytes)
const (
	formatVersion = 1
	maxModelLen   = 1 << 10
	maxTextLen    = 1 << 24
	maxDimension  = 1 << 16
)

var magic = [6]byte{'P', 'E', 'T', 'I', 'D', 'X'}

var (
	// ErrCorrupt marks an index file that cannot be parsed.
	ErrCorrupt = errors.New("corrupt index file")
	// ErrDimensionMismatch marks vectors or files whose dimension differs from the expected one.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrModelMismatch marks files written with a different embedding model.
	ErrModelMismatch = errors.New("embedding model mismatch")
)

// Header stamps an index file with the embedding model that produced it.
type Header struct {
	Model     string
	Dimension int
}

// Encode writes the collection to w using the stamped header.
func Encode(w io.Writer, h Header, c *Collection) error {
	if h.Dimension != c.Dimension() {
		return fmt.Errorf("%w: header %d collection %d", ErrDimensionMismatch, h.Dimension, c.Dimension())
	}
	if len(h.Model) > maxModelLen {
		return fmt.Errorf("model id too long: %d", len(h.Model))
	}

	bw := bufio.NewWriter(w)
	le := binary.LittleEndian
	buf := make([]byte, 0, 16)
	buf = append(buf, magic[:]...)
	buf = le.AppendUint16(buf, formatVersion)
	buf = le.AppendUint16(buf, uint16(len(h.Model)))
	if _, err := bw.Write(buf); err != nil {
		return err
	}
	if _, err := bw.WriteString(h.Model); err != nil {
		return err
	}

	buf = le.AppendUint32(buf[:0], uint32(h.Dimension))
	buf = le.AppendUint32(buf, uint32(c.Size()))
	if _, err := bw.Write(buf); err != nil {
		return err
	}

	for _, v := range c.index.data {
		buf = le.AppendUint32(buf[:0], math.Float32bits(v))
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	for _, text := range c.texts {
		buf = le.AppendUint32(buf[:0], uint32(len(text)))
		if _, err := bw.Write(buf); err != nil {
			return err
		}
		if _, err := bw.WriteString(text); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Decode reads a collection from r. Non-empty fields of expect must match the
// stored header.
func Decode(r io.Reader, expect Header) (*Collection, Header, error) {
	br := bufio.NewReader(r)
	le := binary.LittleEndian

	fixed := make([]byte, 10)
	if _, err := io.ReadFull(br, fixed); err != nil {
		return nil, Header{}, corrupt("read header", err)
	}
	if [6]byte(fixed[:6]) != magic {
		return nil, Header{}, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if v := le.Uint16(fixed[6:8]); v != formatVersion {
		return nil, Header{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}
	modelLen := int(le.Uint16(fixed[8:10]))
	if modelLen > maxModelLen {
		return nil, Header{}, fmt.Errorf("%w: model id length %d", ErrCorrupt, modelLen)
	}
	model := make([]byte, modelLen)
	if _, err := io.ReadFull(br, model); err != nil {
		return nil, Header{}, corrupt("read model id", err)
	}

	sizes := make([]byte, 8)
	if _, err := io.ReadFull(br, sizes); err != nil {
		return nil, Header{}, corrupt("read sizes", err)
	}
	h := Header{Model: string(model), Dimension: int(le.Uint32(sizes[:4]))}
	count := int(le.Uint32(sizes[4:]))
	if h.Dimension <= 0 || h.Dimension > maxDimension {
		return nil, h, fmt.Errorf("%w: dimension %d", ErrCorrupt, h.Dimension)
	}
	if expect.Dimension != 0 && expect.Dimension != h.Dimension {
		return nil, h, fmt.Errorf("%w: file %d want %d", ErrDimensionMismatch, h.Dimension, expect.Dimension)
	}
	if expect.Model != "" && expect.Model != h.Model {
		return nil, h, fmt.Errorf("%w: file %q want %q", ErrModelMismatch, h.Model, expect.Model)
	}

	c := NewCollection(h.Dimension)
	vectors := make([][]float32, 0, min(count, 1<<12))
	word := make([]byte, 4)
	for i := 0; i < count; i++ {
		vec := make([]float32, h.Dimension)
		for j := range vec {
			if _, err := io.ReadFull(br, word); err != nil {
				return nil, h, corrupt("read vector", err)
			}
			vec[j] = math.Float32frombits(le.Uint32(word))
		}
		vectors = append(vectors, vec)
	}
	for i := 0; i < count; i++ {
		if _, err := io.ReadFull(br, word); err != nil {
			return nil, h, corrupt("read text length", err)
		}
		n := int(le.Uint32(word))
		if n > maxTextLen {
			return nil, h, fmt.Errorf("%w: text length %d", ErrCorrupt, n)
		}
		text := make([]byte, n)
		if _, err := io.ReadFull(br, text); err != nil {
			return nil, h, corrupt("read text", err)
		}
		if _, added, err := c.Add(string(text), vectors[i]); err != nil {
			return nil, h, fmt.Errorf("%w: record %d: %v", ErrCorrupt, i, err)
		} else if !added {
			return nil, h, fmt.Errorf("%w: duplicate text at record %d", ErrCorrupt, i)
		}
	}
	if _, err := br.ReadByte(); err != io.EOF {
		return nil, h, fmt.Errorf("%w: trailing data", ErrCorrupt)
	}
	return c, h, nil
}

func corrupt(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrCorrupt, op, err)
}
