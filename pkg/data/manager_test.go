package data

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
	"github.com/SystemsGenetics/ACE-sub002/pkg/metadata"
	"github.com/SystemsGenetics/ACE-sub002/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	return NewManager(testKinds(t), WithLogger(testutil.TestLogger(t)))
}

func TestManagerSharesObjects(t *testing.T) {
	m := newTestManager(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "a.vec")

	a, err := m.Open(path)
	require.NoError(t, err)
	b, err := m.Open(filepath.Join(dir, ".", "a.vec"))
	require.NoError(t, err)

	assert.Same(t, a.Object(), b.Object())
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, 2, m.RefCount(path))

	require.NoError(t, a.Release())
	require.NoError(t, a.Release())
	assert.Equal(t, 1, m.RefCount(path))

	require.NoError(t, b.Release())
	assert.Zero(t, m.Len())
	assert.Zero(t, m.RefCount(path))
}

func TestManagerResolvesSymlinks(t *testing.T) {
	m := newTestManager(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "a.vec")

	ref, err := m.Create(path, vectorID, nil)
	require.NoError(t, err)
	defer ref.Release()

	link := filepath.Join(dir, "link.vec")
	require.NoError(t, os.Symlink(path, link))

	other, err := m.Open(link)
	require.NoError(t, err)
	defer other.Release()

	assert.Same(t, ref.Object(), other.Object())
	assert.Equal(t, 2, m.RefCount(path))
}

func TestManagerReleaseKeepsOnlyDurableState(t *testing.T) {
	m := newTestManager(t)
	path := filepath.Join(t.TempDir(), "a.vec")

	ref, err := m.Open(path)
	require.NoError(t, err)
	require.NoError(t, ref.Object().Clear(vectorID))
	require.NoError(t, ref.Object().UserMeta().Set("scratch", metadata.Bool(true)))
	require.NoError(t, ref.Release())

	ref, err = m.Open(path)
	require.NoError(t, err)
	_, ok := ref.Object().UserMeta().Get("scratch")
	assert.False(t, ok)

	user := metadata.NewObject()
	require.NoError(t, user.Set("kept", metadata.String("yes")))
	require.NoError(t, ref.Object().SetUserMeta(user))
	require.NoError(t, ref.Release())

	ref, err = m.Open(path)
	require.NoError(t, err)
	defer ref.Release()
	v, ok := ref.Object().UserMeta().Get("kept")
	require.True(t, ok)
	assert.True(t, v.Equal(metadata.String("yes")))
}

func TestManagerCreate(t *testing.T) {
	m := newTestManager(t)
	path := testutil.WriteFile(t, t.TempDir(), "a.vec", []byte("corrupt bytes"))

	_, err := m.Open(path)
	require.True(t, errors.IsType(err, errors.ErrorTypeCorruptData))
	assert.Zero(t, m.Len())

	events, cancel, err := m.Watch(path)
	require.NoError(t, err)
	defer cancel()

	sys := metadata.NewObject()
	require.NoError(t, sys.Set("uuid", metadata.String("run-1")))
	ref, err := m.Create(path, vectorID, sys)
	require.NoError(t, err)

	ev := <-events
	assert.Equal(t, EventOverwritten, ev.Type)

	obj := ref.Object()
	assert.Equal(t, vectorID, obj.TypeID())
	v, ok := obj.SystemMeta().Get("uuid")
	require.True(t, ok)
	assert.True(t, v.Equal(metadata.String("run-1")))
	_, ok = obj.SystemMeta().Get(MetaType)
	assert.True(t, ok)
	require.NoError(t, ref.Release())

	// System metadata set by Create is flushed on release.
	ro, err := OpenReadOnly(path, m.Kinds(), nil)
	require.NoError(t, err)
	defer ro.Close()
	v, ok = ro.SystemMeta().Get("uuid")
	require.True(t, ok)
	assert.True(t, v.Equal(metadata.String("run-1")))
}

func TestManagerCreateClearsSharedObjectInPlace(t *testing.T) {
	m := newTestManager(t)
	path := filepath.Join(t.TempDir(), "a.vec")

	first, err := m.Create(path, vectorID, nil)
	require.NoError(t, err)
	defer first.Release()
	writeVector(t, first.Object(), 1, 2)
	require.NoError(t, first.Object().WriteMeta())

	second, err := m.Create(path, matrixID, nil)
	require.NoError(t, err)
	defer second.Release()

	assert.Same(t, first.Object(), second.Object())
	assert.Equal(t, matrixID, first.Object().TypeID())
	assert.Zero(t, first.Object().Size())
	assert.Equal(t, 2, m.RefCount(path))
}

func TestManagerWatchSingleSlot(t *testing.T) {
	m := newTestManager(t)
	path := filepath.Join(t.TempDir(), "a.vec")

	events, cancel, err := m.Watch(path)
	require.NoError(t, err)

	ref, err := m.Create(path, vectorID, nil)
	require.NoError(t, err)
	require.NoError(t, ref.Release())
	ref, err = m.Create(path, vectorID, nil)
	require.NoError(t, err)
	defer ref.Release()

	// The overwrite is dropped while the close event is still pending.
	ev := <-events
	assert.Equal(t, EventClosed, ev.Type)
	select {
	case ev := <-events:
		t.Fatalf("unexpected queued event %v", ev)
	default:
	}

	cancel()
	cancel()
	_, open := <-events
	assert.False(t, open)
}

func TestManagerCreateUnknownKind(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Create(filepath.Join(t.TempDir(), "a.vec"), 1234, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument))
	assert.Zero(t, m.Len())
}
