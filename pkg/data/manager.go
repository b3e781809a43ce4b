package data

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
	"github.com/SystemsGenetics/ACE-sub002/pkg/logger"
	"github.com/SystemsGenetics/ACE-sub002/pkg/metadata"
	"github.com/SystemsGenetics/ACE-sub002/pkg/metrics"
	"go.uber.org/zap"
)

// EventType identifies a change to a managed path.
type EventType string

const (
	// EventOverwritten is sent when Create replaces the object at a path.
	EventOverwritten EventType = "overwritten"
	// EventClosed is sent when the last reference to a path is released.
	EventClosed EventType = "closed"
)

// Event is delivered to watchers of a path.
type Event struct {
	Type EventType
	Path string
}

type entry struct {
	obj  *Object
	refs int
}

type watcher struct {
	id int
	ch chan Event
}

// Manager shares one live Object per canonical path among any number of
// references. The last release flushes and closes the object.
type Manager struct {
	mu       sync.Mutex
	kinds    *Kinds
	entries  map[string]*entry
	watchers map[string][]watcher
	nextID   int
	log      *zap.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(log *zap.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// NewManager returns an empty manager over kinds.
func NewManager(kinds *Kinds, opts ...ManagerOption) *Manager {
	m := &Manager{
		kinds:    kinds,
		entries:  make(map[string]*entry),
		watchers: make(map[string][]watcher),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logger.Named("data")
	}
	return m
}

// Kinds returns the payload kind registry.
func (m *Manager) Kinds() *Kinds { return m.kinds }

// Canonical returns the absolute, symlink-resolved form of path. Paths that
// do not exist yet resolve through their parent directory.
func Canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrapf(err, errors.ErrorTypeInvalidArgument, "invalid path %q", path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	dir, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		return abs, nil
	}
	return filepath.Join(dir, filepath.Base(abs)), nil
}

// Open returns a reference to the object at path, opening it if no other
// reference holds it.
func (m *Manager) Open(path string) (*Reference, error) {
	key, err := Canonical(path)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok {
		e.refs++
		return m.newReference(key), nil
	}

	obj, err := Open(key, m.kinds, m.log)
	if err != nil {
		return nil, err
	}
	m.entries[key] = &entry{obj: obj, refs: 1}
	metrics.DataObjectsOpen.Inc()
	m.log.Debug("object opened", zap.String("path", key), zap.Bool("new", obj.IsNew()))
	return m.newReference(key), nil
}

// Create replaces the object at path with a fresh object of kindID whose
// system metadata is system. A shared object is cleared in place; otherwise
// prior contents, corrupt or not, are ignored. Watchers are notified when
// something was replaced.
func (m *Manager) Create(path string, kindID uint16, system *metadata.Value) (*Reference, error) {
	key, err := Canonical(path)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	_, statErr := os.Stat(key)
	existed := statErr == nil

	e, shared := m.entries[key]
	if shared {
		if err := e.obj.reset(kindID); err != nil {
			return nil, err
		}
	} else {
		obj := Create(key, m.kinds, m.log)
		if err := obj.reset(kindID); err != nil {
			obj.Close()
			return nil, err
		}
		e = &entry{obj: obj}
		m.entries[key] = e
		metrics.DataObjectsOpen.Inc()
	}
	e.refs++

	if system != nil {
		sys := e.obj.SystemMeta().Clone()
		for _, k := range system.Keys() {
			v, _ := system.Get(k)
			if err := sys.Set(k, v); err != nil {
				m.releaseLocked(key)
				return nil, err
			}
		}
		if err := e.obj.SetSystemMeta(sys); err != nil {
			m.releaseLocked(key)
			return nil, err
		}
	}

	if existed || shared {
		m.notifyLocked(key, EventOverwritten)
	}
	m.log.Debug("object created", zap.String("path", key), zap.Uint16("type", kindID), zap.Bool("replaced", existed))
	return m.newReference(key), nil
}

// Watch subscribes to events for path. Each watcher holds at most one
// pending event; later events are dropped while it is full.
func (m *Manager) Watch(path string) (<-chan Event, func(), error) {
	key, err := Canonical(path)
	if err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	w := watcher{id: m.nextID, ch: make(chan Event, 1)}
	m.watchers[key] = append(m.watchers[key], w)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			ws := m.watchers[key]
			for i := range ws {
				if ws[i].id == w.id {
					m.watchers[key] = append(ws[:i], ws[i+1:]...)
					break
				}
			}
			if len(m.watchers[key]) == 0 {
				delete(m.watchers, key)
			}
			close(w.ch)
		})
	}
	return w.ch, cancel, nil
}

func (m *Manager) notifyLocked(key string, t EventType) {
	for _, w := range m.watchers[key] {
		select {
		case w.ch <- Event{Type: t, Path: key}:
		default:
		}
	}
}

// Len returns the number of live objects.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// RefCount returns the number of references held on path.
func (m *Manager) RefCount(path string) int {
	key, err := Canonical(path)
	if err != nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		return e.refs
	}
	return 0
}

func (m *Manager) newReference(key string) *Reference {
	return &Reference{m: m, path: key, obj: m.entries[key].obj}
}

func (m *Manager) release(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseLocked(key)
}

func (m *Manager) releaseLocked(key string) error {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	e.refs--
	if e.refs > 0 {
		return nil
	}

	delete(m.entries, key)
	metrics.DataObjectsOpen.Dec()

	flushErr := e.obj.Flush()
	if flushErr != nil {
		m.log.Error("failed to flush object", zap.String("path", key), zap.Error(flushErr))
	}
	closeErr := e.obj.Close()
	m.notifyLocked(key, EventClosed)
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// Reference is a handle on a managed object. Release it exactly once;
// further calls are no-ops.
type Reference struct {
	m    *Manager
	path string
	obj  *Object
	once sync.Once
}

// Object returns the shared object.
func (r *Reference) Object() *Object { return r.obj }

// Path returns the canonical path.
func (r *Reference) Path() string { return r.path }

// Release drops the reference. Releasing the last reference flushes
// replaced metadata and closes the file.
func (r *Reference) Release() error {
	var err error
	r.once.Do(func() { err = r.m.release(r.path) })
	return err
}
