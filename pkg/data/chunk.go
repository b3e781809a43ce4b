package data

import (
	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
	"github.com/SystemsGenetics/ACE-sub002/pkg/stream"
)

// ChunkKindID is the reserved type tag of partial outputs.
const ChunkKindID uint16 = 0xFFF0

// ChunkKind holds the result records of one chunk of a partitioned run.
var ChunkKind = Kind{
	ID:        ChunkKindID,
	Name:      "chunk",
	Extension: "abd",
	New:       func() Payload { return &ChunkPayload{} },
}

// ChunkPayload is a sequence of records, each an int32 block index followed
// by a length-prefixed byte string.
type ChunkPayload struct {
	Records int
}

func (c *ChunkPayload) ReadData(o *Object) error {
	c.Records = 0
	s := stream.New(o.Stream().Medium())
	for s.Remaining() > 0 {
		if _, _, err := ReadRecord(s); err != nil {
			return err
		}
		c.Records++
	}
	return nil
}

func (c *ChunkPayload) WriteNewData(*Object) error {
	c.Records = 0
	return nil
}

func (c *ChunkPayload) Finish(*Object) error { return nil }

// WriteRecord appends one block result at the stream position.
func WriteRecord(s *stream.Stream, index int, data []byte) error {
	s.WriteInt32(int32(index))
	s.WriteBytes(data)
	return s.Err()
}

// ReadRecord reads the record at the stream position.
func ReadRecord(s *stream.Stream) (int, []byte, error) {
	index := s.ReadInt32()
	data := s.ReadBytes()
	if err := s.Err(); err != nil {
		return 0, nil, err
	}
	if index < 0 {
		return 0, nil, errors.Newf(errors.ErrorTypeCorruptData, "negative block index %d in chunk record", index)
	}
	return int(index), data, nil
}
