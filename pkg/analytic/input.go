package analytic

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
)

// Type is the value type of an analytic input.
type Type uint8

const (
	Bool Type = iota
	Integer
	Double
	String
	Selection
	FileIn
	FileOut
	DataIn
	DataOut
)

var typeNames = [...]string{"bool", "integer", "double", "string", "selection", "file_in", "file_out", "data_in", "data_out"}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "type(" + strconv.Itoa(int(t)) + ")"
}

// IsPath reports whether values of t are filesystem paths.
func (t Type) IsPath() bool { return t >= FileIn }

// IsOutput reports whether t names something the analytic writes.
func (t Type) IsOutput() bool { return t == FileOut || t == DataOut }

// Input declares one argument of an analytic.
type Input struct {
	Name        string
	Title       string
	Description string
	Type        Type
	// Default is the textual default used when no value is given.
	Default string
	// Min and Max bound Integer and Double values when Bounded is set.
	Min, Max float64
	Bounded  bool
	// Options lists the legal Selection values.
	Options []string
	// Kind is the payload kind a DataIn must have or a DataOut is created as.
	Kind     uint16
	Required bool
}

// Parse validates raw textual values against inputs and returns the typed
// argument set in schema order. Path values are made absolute.
func Parse(inputs []Input, raw map[string]string) (*Arguments, error) {
	known := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		known[in.Name] = true
	}
	for name := range raw {
		if !known[name] {
			return nil, errors.Newf(errors.ErrorTypeInvalidArgument, "unknown argument %q", name).WithDetail("field", name)
		}
	}

	args := &Arguments{}
	for _, in := range inputs {
		text, ok := raw[in.Name]
		if !ok {
			text = in.Default
		}
		if text == "" && in.Type != String {
			if in.Required {
				return nil, errors.Newf(errors.ErrorTypeInvalidArgument, "missing required argument %q", in.Name).
					WithDetail("field", in.Name)
			}
			continue
		}
		v, err := in.parse(text)
		if err != nil {
			return nil, err
		}
		args.items = append(args.items, Argument{Name: in.Name, Type: in.Type, Value: v})
	}
	return args, nil
}

func (in Input) parse(text string) (interface{}, error) {
	invalid := func(format string, a ...interface{}) error {
		return errors.Newf(errors.ErrorTypeInvalidArgument, "argument %q: "+format, append([]interface{}{in.Name}, a...)...).
			WithDetail("field", in.Name)
	}

	switch in.Type {
	case Bool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return nil, invalid("%q is not a boolean", text)
		}
		return b, nil
	case Integer:
		n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return nil, invalid("%q is not an integer", text)
		}
		if in.Bounded && (float64(n) < in.Min || float64(n) > in.Max) {
			return nil, invalid("%d is outside [%g, %g]", n, in.Min, in.Max)
		}
		return n, nil
	case Double:
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return nil, invalid("%q is not a number", text)
		}
		if in.Bounded && (f < in.Min || f > in.Max) {
			return nil, invalid("%g is outside [%g, %g]", f, in.Min, in.Max)
		}
		return f, nil
	case String:
		return text, nil
	case Selection:
		for _, opt := range in.Options {
			if opt == text {
				return text, nil
			}
		}
		return nil, invalid("%q is not one of %s", text, strings.Join(in.Options, ", "))
	case FileIn, FileOut, DataIn, DataOut:
		abs, err := filepath.Abs(text)
		if err != nil {
			return nil, invalid("bad path %q", text)
		}
		return abs, nil
	}
	return nil, invalid("unsupported type %s", in.Type)
}
