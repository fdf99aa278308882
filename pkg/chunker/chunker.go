// Package chunker splits a byte stream into fixed-size chunks, per spec
// §4.5. The final chunk may be short and is left unpadded here; any padding
// needed for a uniform Merkle leaf length is the hash/Merkle layer's
// concern, not the chunker's.
package chunker

import (
	"io"

	"github.com/beenet-project/storagenode/pkg/errs"
)

// Chunker reads fixed-size chunks from an underlying reader, tracking the
// cumulative offset consumed so far.
type Chunker struct {
	r         io.Reader
	blockSize int
	offset    uint64
}

// New creates a Chunker over r, producing chunks of exactly blockSize bytes
// except the final one. blockSize must be positive.
func New(r io.Reader, blockSize int) (*Chunker, error) {
	if blockSize <= 0 {
		return nil, errs.New(errs.InvalidArgument, "chunker: blockSize must be positive")
	}
	return &Chunker{r: r, blockSize: blockSize}, nil
}

// Next returns the next chunk, or io.EOF once the stream is exhausted. The
// final chunk may be shorter than blockSize.
func (c *Chunker) Next() ([]byte, error) {
	buf := make([]byte, c.blockSize)
	n, err := io.ReadFull(c.r, buf)
	switch {
	case err == nil:
		c.offset += uint64(n)
		return buf, nil
	case err == io.ErrUnexpectedEOF:
		c.offset += uint64(n)
		return buf[:n], nil
	case err == io.EOF:
		return nil, io.EOF
	default:
		return nil, errs.Wrap(errs.IoFailure, "chunker: read from stream", err)
	}
}

// Offset returns the number of bytes consumed so far. At EOF this equals the
// total dataset size.
func (c *Chunker) Offset() uint64 {
	return c.offset
}
