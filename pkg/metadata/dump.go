package metadata

import (
	"bytes"
	"encoding/base64"
	"math"
	"strconv"

	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// MarshalJSON renders v as JSON keeping object key order. Bytes are
// skipped inside objects and rendered as null elsewhere; non-finite doubles
// render as null.
func (v *Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSON(buf *bytes.Buffer, v *Value) error {
	switch v.Kind() {
	case KindNull, KindBytes:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindDouble:
		if math.IsNaN(v.d) || math.IsInf(v.d, 0) {
			buf.WriteString("null")
			return nil
		}
		b, err := json.Marshal(v.d)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindString:
		b, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindArray:
		buf.WriteByte('[')
		for i, c := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, c); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		first := true
		for _, k := range v.keys {
			c := v.fields[k]
			if c.Kind() == KindBytes {
				continue
			}
			if !first {
				buf.WriteByte(',')
			}
			first = false
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeJSON(buf, c); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

// DumpJSON renders v as indented JSON.
func DumpJSON(v *Value) ([]byte, error) {
	raw, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to indent JSON")
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// ParseJSON converts a JSON document into a tree. Object keys are sorted
// because the decoded form carries no order.
func ParseJSON(data []byte) (*Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var x interface{}
	if err := dec.Decode(&x); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInvalidArgument, "invalid JSON document")
	}
	v, ok := FromGeneric(x)
	if !ok {
		return nil, errors.New(errors.ErrorTypeInvalidArgument, "unsupported JSON value")
	}
	return v, nil
}

// Inject merges the top-level keys of a JSON object document into target.
// If any imported key already exists in target the call fails with conflict
// and target is left unchanged.
func Inject(target *Value, data []byte) error {
	if target.Kind() != KindObject {
		return errors.Newf(errors.ErrorTypeTypeMismatch, "inject into %s value, want object", target.Kind())
	}
	doc, err := ParseJSON(data)
	if err != nil {
		return err
	}
	if doc.Kind() != KindObject {
		return errors.Newf(errors.ErrorTypeInvalidArgument, "injected document is %s, want object", doc.Kind())
	}
	for _, k := range doc.keys {
		if _, exists := target.fields[k]; exists {
			return errors.Newf(errors.ErrorTypeConflict, "key %q already exists", k).WithDetail("key", k)
		}
	}
	for _, k := range doc.keys {
		target.keys = append(target.keys, k)
		target.fields[k] = doc.fields[k]
	}
	return nil
}

// YAMLNode converts v to a yaml.v3 node keeping key order. Bytes render as
// !!binary scalars.
func YAMLNode(v *Value) *yaml.Node {
	switch v.Kind() {
	case KindBool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(v.b)}
	case KindDouble:
		// untagged so integral doubles print as plain numbers
		return &yaml.Node{Kind: yaml.ScalarNode, Value: formatDouble(v.d)}
	case KindString:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.s}
	case KindBytes:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!binary", Value: base64.StdEncoding.EncodeToString(v.raw)}
	case KindArray:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, c := range v.items {
			n.Content = append(n.Content, YAMLNode(c))
		}
		return n
	case KindObject:
		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, k := range v.keys {
			n.Content = append(n.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
				YAMLNode(v.fields[k]))
		}
		return n
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
}

// DumpYAML renders v as a YAML document.
func DumpYAML(v *Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(YAMLNode(v)); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode YAML")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode YAML")
	}
	return buf.Bytes(), nil
}

func formatDouble(f float64) string {
	switch {
	case math.IsNaN(f):
		return ".nan"
	case math.IsInf(f, 1):
		return ".inf"
	case math.IsInf(f, -1):
		return "-.inf"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
