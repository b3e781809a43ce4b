package data

import (
	"sort"
	"sync"

	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
)

// Payload is the capability set of a payload kind. One instance is bound
// to an object when it is opened or cleared.
type Payload interface {
	// ReadData is called once after an existing object is opened.
	ReadData(o *Object) error
	// WriteNewData is called after the object is cleared to this kind.
	WriteNewData(o *Object) error
	// Finish is called once all payload has been written, before the final
	// metadata write.
	Finish(o *Object) error
}

// Kind declares a payload format stamped into object headers.
type Kind struct {
	ID        uint16
	Name      string
	Extension string
	New       func() Payload
}

// Kinds is a registry of payload kinds keyed by type tag.
type Kinds struct {
	mu   sync.RWMutex
	byID map[uint16]*Kind
}

// NewKinds returns a registry holding ChunkKind plus kinds.
func NewKinds(kinds ...Kind) (*Kinds, error) {
	r := &Kinds{byID: make(map[uint16]*Kind)}
	if err := r.Register(ChunkKind); err != nil {
		return nil, err
	}
	for _, k := range kinds {
		if err := r.Register(k); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a kind. Type tag 0 is reserved; duplicate tags or names
// are conflicts.
func (r *Kinds) Register(k Kind) error {
	if k.ID == 0 {
		return errors.New(errors.ErrorTypeInvalidArgument, "type tag 0 is reserved")
	}
	if k.Name == "" || k.New == nil {
		return errors.Newf(errors.ErrorTypeInvalidArgument, "kind %d needs a name and a payload constructor", k.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[k.ID]; exists {
		return errors.Newf(errors.ErrorTypeConflict, "type tag %d already registered", k.ID).
			WithDetail("kind", k.Name)
	}
	for _, other := range r.byID {
		if other.Name == k.Name {
			return errors.Newf(errors.ErrorTypeConflict, "kind %q already registered", k.Name)
		}
	}
	kind := k
	r.byID[k.ID] = &kind
	return nil
}

// Lookup returns the kind with type tag id.
func (r *Kinds) Lookup(id uint16) (*Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.byID[id]
	return k, ok
}

// ByName returns the kind named name.
func (r *Kinds) ByName(name string) (*Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, k := range r.byID {
		if k.Name == name {
			return k, true
		}
	}
	return nil, false
}

// List returns all kinds ordered by type tag.
func (r *Kinds) List() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Kind, 0, len(r.byID))
	for _, k := range r.byID {
		out = append(out, *k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
