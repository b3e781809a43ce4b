package analytic

import (
	"encoding/hex"

	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
	"github.com/SystemsGenetics/ACE-sub002/pkg/metadata"
	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// Argument is one typed argument value. Value is a bool, int64, float64
// or string depending on Type.
type Argument struct {
	_     struct{} `cbor:",toarray"`
	Name  string
	Type  Type
	Value interface{}
}

// Arguments is a validated argument set in schema order.
type Arguments struct {
	items []Argument
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("analytic: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("analytic: CBOR decoder initialization failed: " + err.Error())
	}
}

// List returns the arguments in schema order.
func (a *Arguments) List() []Argument {
	out := make([]Argument, len(a.items))
	copy(out, a.items)
	return out
}

func (a *Arguments) find(name string) (Argument, bool) {
	for _, it := range a.items {
		if it.Name == name {
			return it, true
		}
	}
	return Argument{}, false
}

// Has reports whether name was given or defaulted.
func (a *Arguments) Has(name string) bool {
	_, ok := a.find(name)
	return ok
}

// Value returns the raw value of name.
func (a *Arguments) Value(name string) (interface{}, bool) {
	it, ok := a.find(name)
	return it.Value, ok
}

// Bool returns the bool value of name, or false.
func (a *Arguments) Bool(name string) bool {
	v, _ := a.Value(name)
	b, _ := v.(bool)
	return b
}

// Int returns the integer value of name, or 0.
func (a *Arguments) Int(name string) int64 {
	v, _ := a.Value(name)
	n, _ := v.(int64)
	return n
}

// Double returns the double value of name, or 0.
func (a *Arguments) Double(name string) float64 {
	v, _ := a.Value(name)
	f, _ := v.(float64)
	return f
}

// String returns string, selection and path values.
func (a *Arguments) String(name string) string {
	v, _ := a.Value(name)
	s, _ := v.(string)
	return s
}

// Canonical returns the deterministic CBOR encoding of the set. Equal
// argument sets always encode to identical bytes.
func (a *Arguments) Canonical() ([]byte, error) {
	b, err := encMode.Marshal(a.items)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode arguments")
	}
	return b, nil
}

// DecodeArguments rebuilds an argument set from its canonical encoding and
// checks it against inputs.
func DecodeArguments(inputs []Input, data []byte) (*Arguments, error) {
	var items []Argument
	if err := decMode.Unmarshal(data, &items); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCorruptData, "failed to decode arguments")
	}

	schema := make(map[string]Input, len(inputs))
	for _, in := range inputs {
		schema[in.Name] = in
	}
	for i := range items {
		it := &items[i]
		in, ok := schema[it.Name]
		if !ok || in.Type != it.Type {
			return nil, errors.Newf(errors.ErrorTypeArgumentMismatch, "argument %q does not match the analytic inputs", it.Name).
				WithDetail("field", it.Name)
		}
		v, ok := normalize(it.Type, it.Value)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeCorruptData, "argument %q has a %T value", it.Name, it.Value).
				WithDetail("field", it.Name)
		}
		it.Value = v
	}
	return &Arguments{items: items}, nil
}

func normalize(t Type, v interface{}) (interface{}, bool) {
	switch t {
	case Bool:
		b, ok := v.(bool)
		return b, ok
	case Integer:
		switch n := v.(type) {
		case uint64:
			return int64(n), true
		case int64:
			return n, true
		}
		return nil, false
	case Double:
		switch f := v.(type) {
		case float64:
			return f, true
		case float32:
			return float64(f), true
		}
		return nil, false
	default:
		s, ok := v.(string)
		return s, ok
	}
}

// Fingerprint identifies an analytic invocation by its name and full
// resolved argument set, input and output paths included.
type Fingerprint [32]byte

var fingerprintKey = [32]byte{
	'a', 'c', 'e', '.', 'a', 'n', 'a', 'l', 'y', 't', 'i', 'c', '.',
	'a', 'r', 'g', 'u', 'm', 'e', 'n', 't', 's', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Fingerprint hashes the canonical form of the set for analytic.
func (a *Arguments) Fingerprint(analytic string) (Fingerprint, error) {
	var fp Fingerprint
	canon, err := a.Canonical()
	if err != nil {
		return fp, err
	}
	name, err := encMode.Marshal(analytic)
	if err != nil {
		return fp, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode analytic name")
	}
	h, err := blake3.NewKeyed(fingerprintKey[:])
	if err != nil {
		return fp, errors.Wrap(err, errors.ErrorTypeInternal, "failed to initialize hash")
	}
	h.Write(name)
	h.Write(canon)
	copy(fp[:], h.Sum(nil))
	return fp, nil
}

// String returns the fingerprint as lowercase hex.
func (f Fingerprint) String() string { return hex.EncodeToString(f[:]) }

// ParseFingerprint decodes the hex form produced by String.
func ParseFingerprint(s string) (Fingerprint, error) {
	var fp Fingerprint
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(fp) {
		return fp, errors.Newf(errors.ErrorTypeCorruptData, "malformed fingerprint %q", s)
	}
	copy(fp[:], b)
	return fp, nil
}

// Metadata returns the command tree recorded in output system metadata.
func (a *Arguments) Metadata() *metadata.Value {
	obj := metadata.NewObject()
	for _, it := range a.items {
		var v *metadata.Value
		switch x := it.Value.(type) {
		case bool:
			v = metadata.Bool(x)
		case int64:
			v = metadata.Double(float64(x))
		case float64:
			v = metadata.Double(x)
		case string:
			v = metadata.String(x)
		default:
			v = metadata.Null()
		}
		_ = obj.Set(it.Name, v)
	}
	return obj
}
