// Package data implements data objects, the file-backed resources analytics
// read and write, and the Manager that shares one live object per path.
//
// A data object file is a header followed by the payload:
//
//	magic "ACE1"  uint32
//	format        uint16
//	type tag      uint16
//	flags         uint16
//	kind name     string
//	extension     string
//	system meta   bytes (encoded metadata tree)
//	user meta     bytes (encoded metadata tree)
//	payload       remaining bytes
//
// Payload writes go straight to the file. Metadata writes rewrite the whole
// file through a temporary file and a rename, so a crash leaves either the
// old or the new header in place.
package data

import (
	"io"
	"os"

	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
	"github.com/SystemsGenetics/ACE-sub002/pkg/metadata"
	"github.com/SystemsGenetics/ACE-sub002/pkg/metrics"
	"github.com/SystemsGenetics/ACE-sub002/pkg/mmap"
	"github.com/SystemsGenetics/ACE-sub002/pkg/stream"
	"go.uber.org/zap"
)

// System metadata keys maintained by the framework.
const (
	MetaType          = "type"
	MetaKind          = "kind"
	MetaFormatVersion = "format_version"
	MetaDataSize      = "data_size"
)

// Object is one data object file. It is either new (nothing committed yet)
// or valid. Payload I/O is not synchronized; one writer per object.
type Object struct {
	path     string
	kinds    *Kinds
	readOnly bool
	log      *zap.Logger

	file   *os.File
	mapped *mmap.Reader
	medium stream.Medium
	offset int64

	isNew   bool
	typeID  uint16
	kind    *Kind
	payload Payload
	flags   uint16
	system  *metadata.Value
	user    *metadata.Value
	dirty   bool

	cursor *stream.Stream
}

func newObject(path string, kinds *Kinds, readOnly bool, log *zap.Logger) *Object {
	if log == nil {
		log = zap.NewNop()
	}
	o := &Object{
		path:     path,
		kinds:    kinds,
		readOnly: readOnly,
		log:      log.With(zap.String("path", path)),
		isNew:    true,
		system:   metadata.NewObject(),
		user:     metadata.NewObject(),
	}
	o.cursor = stream.New(payloadMedium{o})
	return o
}

// Open opens the object at path for reading and writing. A missing or
// empty file yields a new object; an unreadable file fails with io and a
// malformed header with corrupt_data.
func Open(path string, kinds *Kinds, log *zap.Logger) (*Object, error) {
	o := newObject(path, kinds, false, log)
	err := o.load()
	metrics.DataObjectOpens.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		return nil, err
	}
	return o, nil
}

// OpenReadOnly maps the object at path read-only. The file must exist.
func OpenReadOnly(path string, kinds *Kinds, log *zap.Logger) (*Object, error) {
	o := newObject(path, kinds, true, log)
	err := o.load()
	metrics.DataObjectOpens.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		return nil, err
	}
	return o, nil
}

// Create returns a new object at path without reading what the file holds,
// so corrupt files can be replaced. Nothing changes on disk until Clear.
func Create(path string, kinds *Kinds, log *zap.Logger) *Object {
	return newObject(path, kinds, false, log)
}

func (o *Object) load() error {
	if o.readOnly {
		r, err := mmap.Open(o.path)
		if err != nil {
			return err
		}
		o.mapped = r
		o.medium = r
	} else {
		f, err := os.OpenFile(o.path, os.O_RDWR, 0)
		if os.IsNotExist(err) {
			o.log.Debug("object does not exist yet")
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, errors.ErrorTypeIO, "failed to open %s", o.path).WithDetail("path", o.path)
		}
		o.file = f
		o.medium = stream.FileMedium{File: f}
	}

	size, err := o.medium.Size()
	if err != nil {
		o.closeHandle()
		return errors.Wrap(err, errors.ErrorTypeIO, "failed to stat object").WithDetail("path", o.path)
	}
	if size == 0 {
		if o.readOnly {
			o.closeHandle()
			return errors.Newf(errors.ErrorTypeCorruptData, "%s is empty", o.path).WithDetail("path", o.path)
		}
		return nil
	}

	if err := o.readHeader(); err != nil {
		o.closeHandle()
		return err
	}
	if err := o.payload.ReadData(o); err != nil {
		o.closeHandle()
		return errors.Wrapf(err, errors.TypeOf(err), "failed to read %s payload", o.kind.Name).
			WithDetail("path", o.path)
	}
	return nil
}

// readHeader parses the header from the current medium and binds the
// stamped kind.
func (o *Object) readHeader() error {
	h, offset, err := decodeHeader(o.medium)
	if err != nil {
		return errors.Wrapf(err, errors.TypeOf(err), "invalid header in %s", o.path).WithDetail("path", o.path)
	}
	kind, ok := o.kinds.Lookup(h.typeID)
	if !ok || kind.Name != h.kindName {
		return errors.Newf(errors.ErrorTypeTypeMismatch, "%s holds unknown kind %q (type %d)", o.path, h.kindName, h.typeID).
			WithDetail("path", o.path)
	}
	if o.kind == nil || o.kind.ID != kind.ID {
		o.payload = kind.New()
	}
	o.kind = kind
	o.typeID = h.typeID
	o.flags = h.flags
	o.system = h.system
	o.user = h.user
	o.offset = offset
	o.isNew = false
	o.dirty = false
	return nil
}

func (o *Object) closeHandle() error {
	var err error
	if o.file != nil {
		err = o.file.Close()
		o.file = nil
	}
	if o.mapped != nil {
		err = o.mapped.Close()
		o.mapped = nil
	}
	o.medium = nil
	return err
}

func (o *Object) reopen() error {
	if err := o.closeHandle(); err != nil {
		o.log.Warn("failed to close replaced file", zap.Error(err))
	}
	f, err := os.OpenFile(o.path, os.O_RDWR, 0)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeIO, "failed to reopen %s", o.path).WithDetail("path", o.path)
	}
	o.file = f
	o.medium = stream.FileMedium{File: f}
	return nil
}

func (o *Object) writable(op string) error {
	if o.readOnly {
		return errors.Newf(errors.ErrorTypeIO, "%s on read-only object %s", op, o.path).WithDetail("path", o.path)
	}
	return nil
}

// Clear reinitializes the object as kind kindID: fresh header, empty
// payload, empty metadata trees. Clearing a valid object stamped with a
// different type fails with type_mismatch and changes nothing.
func (o *Object) Clear(kindID uint16) error {
	if !o.isNew && o.typeID != kindID {
		return errors.Newf(errors.ErrorTypeTypeMismatch, "%s is stamped with type %d, cannot clear as %d", o.path, o.typeID, kindID).
			WithDetail("path", o.path)
	}
	return o.reset(kindID)
}

// reset is Clear without the stamped type check.
func (o *Object) reset(kindID uint16) error {
	if err := o.writable("clear"); err != nil {
		return err
	}
	kind, ok := o.kinds.Lookup(kindID)
	if !ok {
		return errors.Newf(errors.ErrorTypeInvalidArgument, "unknown kind %d", kindID)
	}

	h := &header{
		version:   FormatVersion,
		typeID:    kind.ID,
		kindName:  kind.Name,
		extension: kind.Extension,
		system:    metadata.NewObject(),
		user:      metadata.NewObject(),
	}
	stampSystem(h.system, kind, 0)
	raw, err := h.bytes()
	if err != nil {
		return err
	}
	if err := writeAtomic(o.path, func(f *os.File) error {
		_, err := f.Write(raw)
		return err
	}); err != nil {
		return err
	}
	if err := o.reopen(); err != nil {
		return err
	}

	o.kind = kind
	o.typeID = kind.ID
	o.flags = 0
	o.payload = kind.New()
	o.system = h.system
	o.user = h.user
	o.offset = int64(len(raw))
	o.isNew = false
	o.dirty = false
	o.cursor.Seek(0)
	o.cursor.Reset()
	o.log.Debug("object cleared", zap.String("kind", kind.Name))

	return o.payload.WriteNewData(o)
}

func stampSystem(sys *metadata.Value, kind *Kind, size int64) {
	_ = sys.Set(MetaType, metadata.Double(float64(kind.ID)))
	_ = sys.Set(MetaKind, metadata.String(kind.Name))
	_ = sys.Set(MetaFormatVersion, metadata.Double(float64(FormatVersion)))
	_ = sys.Set(MetaDataSize, metadata.Double(float64(size)))
}

// Allocate sets the payload to exactly n bytes, zero filling on growth.
func (o *Object) Allocate(n int64) error {
	if err := o.valid("allocate"); err != nil {
		return err
	}
	if err := o.writable("allocate"); err != nil {
		return err
	}
	if n < 0 {
		return errors.Newf(errors.ErrorTypeInvalidArgument, "negative allocation %d", n)
	}
	if err := o.file.Truncate(o.offset + n); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "failed to resize object").WithDetail("path", o.path)
	}
	return nil
}

func (o *Object) valid(op string) error {
	if o.isNew {
		return errors.Newf(errors.ErrorTypeInvalidArgument, "%s on new object %s; clear it first", op, o.path).
			WithDetail("path", o.path)
	}
	if o.medium == nil {
		return errors.Newf(errors.ErrorTypeIO, "%s on closed object %s", op, o.path).WithDetail("path", o.path)
	}
	return nil
}

// Seek moves the payload cursor to n. It reports false, leaving the cursor
// where it was, unless 0 <= n < Size.
func (o *Object) Seek(n int64) bool {
	if n < 0 || n >= o.Size() {
		return false
	}
	o.cursor.Seek(n)
	return true
}

// Pos returns the payload cursor.
func (o *Object) Pos() int64 { return o.cursor.Pos() }

// Size returns the payload length in bytes.
func (o *Object) Size() int64 {
	if o.medium == nil {
		return 0
	}
	n, err := o.medium.Size()
	if err != nil || n < o.offset {
		return 0
	}
	return n - o.offset
}

// Stream returns the payload stream. Its position is the object cursor.
func (o *Object) Stream() *stream.Stream { return o.cursor }

// ReadMeta reloads both metadata trees from disk, dropping unsaved edits.
func (o *Object) ReadMeta() error {
	if err := o.valid("read metadata"); err != nil {
		return err
	}
	kind := o.kind
	if err := o.readHeader(); err != nil {
		return err
	}
	if kind != o.kind {
		return errors.Newf(errors.ErrorTypeTypeMismatch, "%s changed kind on disk", o.path).WithDetail("path", o.path)
	}
	return nil
}

// WriteMeta atomically rewrites the header with the current metadata trees
// and copies the payload behind it.
func (o *Object) WriteMeta() (err error) {
	defer func() { metrics.MetadataWrites.WithLabelValues(metrics.Result(err)).Inc() }()

	if err := o.valid("write metadata"); err != nil {
		return err
	}
	if err := o.writable("write metadata"); err != nil {
		return err
	}

	size := o.Size()
	stampSystem(o.system, o.kind, size)
	h := &header{
		version:   FormatVersion,
		typeID:    o.typeID,
		flags:     o.flags,
		kindName:  o.kind.Name,
		extension: o.kind.Extension,
		system:    o.system,
		user:      o.user,
	}
	raw, err := h.bytes()
	if err != nil {
		return err
	}

	src := io.NewSectionReader(o.file, o.offset, size)
	if err := writeAtomic(o.path, func(f *os.File) error {
		if _, err := f.Write(raw); err != nil {
			return err
		}
		_, err := io.Copy(f, src)
		return err
	}); err != nil {
		return err
	}
	if err := o.reopen(); err != nil {
		return err
	}
	o.offset = int64(len(raw))
	o.dirty = false
	o.log.Debug("metadata written", zap.Int64("data_size", size))
	return nil
}

// SystemMeta returns the framework metadata tree.
func (o *Object) SystemMeta() *metadata.Value { return o.system }

// UserMeta returns the live user metadata tree. In-place edits persist only
// through WriteMeta.
func (o *Object) UserMeta() *metadata.Value { return o.user }

// SetUserMeta replaces the user tree and marks the object for flushing.
func (o *Object) SetUserMeta(v *metadata.Value) error {
	if v.Kind() != metadata.KindObject {
		return errors.Newf(errors.ErrorTypeTypeMismatch, "user metadata root must be an object, got %s", v.Kind())
	}
	o.user = v.Clone()
	o.dirty = true
	return nil
}

// SetSystemMeta replaces the system tree and marks the object for flushing.
func (o *Object) SetSystemMeta(v *metadata.Value) error {
	if v.Kind() != metadata.KindObject {
		return errors.Newf(errors.ErrorTypeTypeMismatch, "system metadata root must be an object, got %s", v.Kind())
	}
	o.system = v.Clone()
	o.dirty = true
	return nil
}

// Finish runs the payload's Finish hook and writes the metadata.
func (o *Object) Finish() error {
	if err := o.valid("finish"); err != nil {
		return err
	}
	if err := o.payload.Finish(o); err != nil {
		return err
	}
	return o.WriteMeta()
}

// Expect fails with type_mismatch unless the object is valid and stamped
// with kindID.
func (o *Object) Expect(kindID uint16) error {
	if o.isNew {
		return errors.Newf(errors.ErrorTypeTypeMismatch, "%s is new, expected type %d", o.path, kindID).
			WithDetail("path", o.path)
	}
	if o.typeID != kindID {
		return errors.Newf(errors.ErrorTypeTypeMismatch, "%s has type %d (%s), expected %d", o.path, o.typeID, o.kind.Name, kindID).
			WithDetail("path", o.path)
	}
	return nil
}

// Flush writes metadata if it was replaced since the last write, then
// syncs the file.
func (o *Object) Flush() error {
	if o.isNew || o.readOnly || o.medium == nil {
		return nil
	}
	if o.dirty {
		if err := o.WriteMeta(); err != nil {
			return err
		}
	}
	if err := o.file.Sync(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "failed to sync object").WithDetail("path", o.path)
	}
	return nil
}

// Close releases the file handle without flushing.
func (o *Object) Close() error {
	if err := o.closeHandle(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "failed to close object").WithDetail("path", o.path)
	}
	return nil
}

// IsNew reports whether the object has no valid header yet.
func (o *Object) IsNew() bool { return o.isNew }

// IsReadOnly reports whether the object was opened with OpenReadOnly.
func (o *Object) IsReadOnly() bool { return o.readOnly }

// IsDirty reports whether metadata changed since the last WriteMeta.
func (o *Object) IsDirty() bool { return o.dirty }

// Path returns the file path the object was opened at.
func (o *Object) Path() string { return o.path }

// TypeID returns the payload kind the header is stamped with.
func (o *Object) TypeID() uint16 { return o.typeID }

// Kind returns the registered kind for TypeID, or nil for a new object.
func (o *Object) Kind() *Kind { return o.kind }

// Payload returns the kind's payload instance.
func (o *Object) Payload() Payload { return o.payload }

// HeaderSize returns the byte offset at which the payload starts.
func (o *Object) HeaderSize() int64 { return o.offset }

// payloadMedium addresses the payload of whatever file currently backs the
// object, so the cursor survives header rewrites.
type payloadMedium struct{ o *Object }

func (p payloadMedium) ReadAt(b []byte, off int64) (int, error) {
	if p.o.medium == nil {
		return 0, errors.New(errors.ErrorTypeIO, "object has no committed payload")
	}
	return p.o.medium.ReadAt(b, p.o.offset+off)
}

func (p payloadMedium) WriteAt(b []byte, off int64) (int, error) {
	if p.o.medium == nil || p.o.isNew {
		return 0, errors.New(errors.ErrorTypeIO, "object has no committed payload")
	}
	return p.o.medium.WriteAt(b, p.o.offset+off)
}

func (p payloadMedium) Size() (int64, error) {
	return p.o.Size(), nil
}
