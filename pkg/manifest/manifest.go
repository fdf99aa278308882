// Package manifest implements the dataset manifest record and its
// length-prefixed, tagged binary encoding, per spec §3/§4.3. The encoding
// mirrors the tag-and-length discipline pkg/wire uses for CBOR framing, but
// manifests are a small fixed record set so a plain TLV layout (rather than
// pulling in the CBOR codec) keeps decode failure modes explicit per tag.
package manifest

import (
	"encoding/binary"
	"fmt"

	"github.com/beenet-project/storagenode/pkg/cid"
	"github.com/beenet-project/storagenode/pkg/errs"
	"github.com/beenet-project/storagenode/pkg/hash"
)

// Tag identifies a manifest field in the binary encoding.
type Tag uint8

const (
	TagTreeCID      Tag = 1
	TagBlockSize    Tag = 2
	TagDatasetSize  Tag = 3
	TagCodec        Tag = 4
	TagHashCodec    Tag = 5
	TagCIDVersion   Tag = 6
	TagFilename     Tag = 7
	TagMimetype     Tag = 8
)

// requiredTags must be present for a decode to succeed, per spec §4.3.
var requiredTags = []Tag{TagTreeCID, TagBlockSize, TagDatasetSize, TagCodec, TagHashCodec, TagCIDVersion}

// Manifest describes a dataset stored as a sequence of fixed-size blocks
// under a Merkle tree.
type Manifest struct {
	TreeCID     cid.CID
	DatasetSize uint64
	BlockSize   uint32
	Codec       cid.DataCodec
	HashCodec   hash.Codec
	CIDVersion  cid.Version
	Filename    string
	Mimetype    string
}

// BlocksCount returns ceil(DatasetSize / BlockSize).
func (m Manifest) BlocksCount() uint64 {
	if m.BlockSize == 0 {
		return 0
	}
	return (m.DatasetSize + uint64(m.BlockSize) - 1) / uint64(m.BlockSize)
}

// Equal reports whether two manifests carry identical encoded fields.
func (m Manifest) Equal(o Manifest) bool {
	return m.TreeCID.Equal(o.TreeCID) &&
		m.DatasetSize == o.DatasetSize &&
		m.BlockSize == o.BlockSize &&
		m.Codec == o.Codec &&
		m.HashCodec == o.HashCodec &&
		m.CIDVersion == o.CIDVersion &&
		m.Filename == o.Filename &&
		m.Mimetype == o.Mimetype
}

func writeTLV(buf []byte, tag Tag, value []byte) []byte {
	buf = append(buf, byte(tag))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(value)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, value...)
	return buf
}

// Encode serializes m into the tagged binary record described in spec §4.3.
func Encode(m Manifest) []byte {
	var buf []byte

	buf = writeTLV(buf, TagTreeCID, []byte(m.TreeCID.String()))

	var blockSizeBuf [4]byte
	binary.BigEndian.PutUint32(blockSizeBuf[:], m.BlockSize)
	buf = writeTLV(buf, TagBlockSize, blockSizeBuf[:])

	var datasetSizeBuf [8]byte
	binary.BigEndian.PutUint64(datasetSizeBuf[:], m.DatasetSize)
	buf = writeTLV(buf, TagDatasetSize, datasetSizeBuf[:])

	var codecBuf [4]byte
	binary.BigEndian.PutUint32(codecBuf[:], uint32(m.Codec))
	buf = writeTLV(buf, TagCodec, codecBuf[:])

	var hashCodecBuf [4]byte
	binary.BigEndian.PutUint32(hashCodecBuf[:], uint32(m.HashCodec))
	buf = writeTLV(buf, TagHashCodec, hashCodecBuf[:])

	var versionBuf [4]byte
	binary.BigEndian.PutUint32(versionBuf[:], uint32(m.CIDVersion))
	buf = writeTLV(buf, TagCIDVersion, versionBuf[:])

	if m.Filename != "" {
		buf = writeTLV(buf, TagFilename, []byte(m.Filename))
	}
	if m.Mimetype != "" {
		buf = writeTLV(buf, TagMimetype, []byte(m.Mimetype))
	}

	return buf
}

// Decode parses a manifest record produced by Encode. Returns
// errs.MalformedManifest if any required tag (1-6) is missing or malformed.
func Decode(data []byte) (Manifest, error) {
	fields := make(map[Tag][]byte)

	for len(data) > 0 {
		if len(data) < 5 {
			return Manifest{}, errs.New(errs.MalformedManifest, "manifest: truncated TLV header")
		}
		tag := Tag(data[0])
		length := binary.BigEndian.Uint32(data[1:5])
		data = data[5:]
		if uint64(length) > uint64(len(data)) {
			return Manifest{}, errs.New(errs.MalformedManifest, "manifest: TLV length exceeds remaining data")
		}
		fields[tag] = data[:length]
		data = data[length:]
	}

	for _, t := range requiredTags {
		if _, ok := fields[t]; !ok {
			return Manifest{}, errs.New(errs.MalformedManifest, fmt.Sprintf("manifest: missing required tag %d", t))
		}
	}

	treeCID, err := cid.Parse(string(fields[TagTreeCID]))
	if err != nil {
		return Manifest{}, errs.Wrap(errs.MalformedManifest, "manifest: bad treeCid", err)
	}

	blockSizeBytes := fields[TagBlockSize]
	if len(blockSizeBytes) != 4 {
		return Manifest{}, errs.New(errs.MalformedManifest, "manifest: blockSize must be 4 bytes")
	}

	datasetSizeBytes := fields[TagDatasetSize]
	if len(datasetSizeBytes) != 8 {
		return Manifest{}, errs.New(errs.MalformedManifest, "manifest: datasetSize must be 8 bytes")
	}

	codecBytes := fields[TagCodec]
	if len(codecBytes) != 4 {
		return Manifest{}, errs.New(errs.MalformedManifest, "manifest: codec must be 4 bytes")
	}

	hashCodecBytes := fields[TagHashCodec]
	if len(hashCodecBytes) != 4 {
		return Manifest{}, errs.New(errs.MalformedManifest, "manifest: hashCodec must be 4 bytes")
	}

	versionBytes := fields[TagCIDVersion]
	if len(versionBytes) != 4 {
		return Manifest{}, errs.New(errs.MalformedManifest, "manifest: cidVersion must be 4 bytes")
	}

	m := Manifest{
		TreeCID:     treeCID,
		BlockSize:   binary.BigEndian.Uint32(blockSizeBytes),
		DatasetSize: binary.BigEndian.Uint64(datasetSizeBytes),
		Codec:       cid.DataCodec(binary.BigEndian.Uint32(codecBytes)),
		HashCodec:   hash.Codec(binary.BigEndian.Uint32(hashCodecBytes)),
		CIDVersion:  cid.Version(binary.BigEndian.Uint32(versionBytes)),
	}
	if v, ok := fields[TagFilename]; ok {
		m.Filename = string(v)
	}
	if v, ok := fields[TagMimetype]; ok {
		m.Mimetype = string(v)
	}

	return m, nil
}

// AsBlockCID computes the CID a manifest's encoding addresses under
// ManifestCodec, per spec §3 ("a manifest is itself stored as a block").
func AsBlockCID(encoded []byte, hashCodec hash.Codec) (cid.CID, error) {
	return cid.FromBlock(cid.ManifestCodec, hashCodec, encoded)
}
