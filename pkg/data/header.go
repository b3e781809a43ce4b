package data

import (
	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
	"github.com/SystemsGenetics/ACE-sub002/pkg/metadata"
	"github.com/SystemsGenetics/ACE-sub002/pkg/stream"
)

const (
	// Magic opens every data object file ("ACE1").
	Magic uint32 = 0x41434531
	// FormatVersion is the header layout written by this package.
	FormatVersion uint16 = 1
)

// header is the fixed prefix of a data object file. The payload starts
// right after the user metadata.
type header struct {
	version   uint16
	typeID    uint16
	flags     uint16
	kindName  string
	extension string
	system    *metadata.Value
	user      *metadata.Value
}

func (h *header) encode(s *stream.Stream) error {
	sys, err := metadata.Marshal(h.system)
	if err != nil {
		return err
	}
	usr, err := metadata.Marshal(h.user)
	if err != nil {
		return err
	}
	s.WriteUint32(Magic)
	s.WriteUint16(h.version)
	s.WriteUint16(h.typeID)
	s.WriteUint16(h.flags)
	s.WriteString(h.kindName)
	s.WriteString(h.extension)
	s.WriteBytes(sys)
	s.WriteBytes(usr)
	return s.Err()
}

func (h *header) bytes() ([]byte, error) {
	buf := &stream.Buffer{}
	if err := h.encode(stream.New(buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeHeader reads a header from the start of m and returns it with the
// payload offset.
func decodeHeader(m stream.Medium) (*header, int64, error) {
	s := stream.New(m)
	magic := s.ReadUint32()
	if s.Ok() && magic != Magic {
		return nil, 0, errors.Newf(errors.ErrorTypeCorruptData, "bad magic 0x%08x", magic)
	}
	h := &header{}
	h.version = s.ReadUint16()
	if s.Ok() && (h.version == 0 || h.version > FormatVersion) {
		return nil, 0, errors.Newf(errors.ErrorTypeCorruptData, "unsupported format version %d", h.version)
	}
	h.typeID = s.ReadUint16()
	h.flags = s.ReadUint16()
	h.kindName = s.ReadString()
	h.extension = s.ReadString()
	sys := s.ReadBytes()
	usr := s.ReadBytes()
	if err := s.Err(); err != nil {
		if errors.IsType(err, errors.ErrorTypeIO) {
			return nil, 0, err
		}
		return nil, 0, errors.Wrap(err, errors.ErrorTypeCorruptData, "truncated header")
	}

	var err error
	if h.system, err = metadata.Unmarshal(sys); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrorTypeCorruptData, "bad system metadata")
	}
	if h.user, err = metadata.Unmarshal(usr); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrorTypeCorruptData, "bad user metadata")
	}
	if h.system.Kind() != metadata.KindObject || h.user.Kind() != metadata.KindObject {
		return nil, 0, errors.New(errors.ErrorTypeCorruptData, "metadata root is not an object")
	}
	return h, s.Pos(), nil
}
