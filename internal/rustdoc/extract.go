package rustdoc

import (
	"encoding/json"
	"strconv"
	"strings"

	"gitlab.com/tozd/go/errors"

	"github.com/jcdickinson/quarry/internal/errdefs"
)

// StructKind is the shape of a struct declaration.
type StructKind string

const (
	KindNamed StructKind = "named"
	KindTuple StructKind = "tuple"
	KindUnit  StructKind = "unit"
)

// FieldInfo describes one struct field. Tuple fields are named by position.
type FieldInfo struct {
	Name       string `json:"name" yaml:"name"`
	Type       string `json:"type_name" yaml:"type_name"`
	Public     bool   `json:"is_public" yaml:"is_public"`
	Visibility string `json:"visibility" yaml:"visibility"`
	StructName string `json:"struct_name" yaml:"struct_name"`
}

// StructInfo describes a struct declaration. Name is the defining path.
type StructInfo struct {
	Name       string      `json:"name" yaml:"name"`
	SimpleName string      `json:"simple_name" yaml:"simple_name"`
	ModulePath string      `json:"module_path" yaml:"module_path"`
	Kind       StructKind  `json:"kind" yaml:"kind"`
	Generics   []string    `json:"generics" yaml:"generics"`
	Fields     []FieldInfo `json:"fields" yaml:"fields"`
}

// NewStructInfo splits a full path into its module path and simple name.
func NewStructInfo(fullPath string) *StructInfo {
	info := &StructInfo{Name: fullPath, SimpleName: fullPath, Kind: KindNamed}
	if i := strings.LastIndex(fullPath, "::"); i >= 0 {
		info.ModulePath = fullPath[:i]
		info.SimpleName = fullPath[i+2:]
	}
	return info
}

func (s *StructInfo) IsTuple() bool { return s.Kind == KindTuple }

func (s *StructInfo) IsUnit() bool { return s.Kind == KindUnit }

// Clone returns a deep copy.
func (s *StructInfo) Clone() *StructInfo {
	if s == nil {
		return nil
	}
	c := *s
	if s.Generics != nil {
		c.Generics = make([]string, len(s.Generics))
		copy(c.Generics, s.Generics)
	}
	if s.Fields != nil {
		c.Fields = make([]FieldInfo, len(s.Fields))
		copy(c.Fields, s.Fields)
	}
	return &c
}

type structPayload struct {
	Generics struct {
		Params []struct {
			Name string `json:"name"`
		} `json:"params"`
	} `json:"generics"`
	Kind json.RawMessage `json:"kind"`
}

// ExtractStruct builds the StructInfo for item, reported under name.
// Items of another kind yield a NotAStructError; payloads that cannot be
// read yield a StructuralError.
func ExtractStruct(crate *Crate, item *Item, name string) (*StructInfo, error) {
	kind := item.Kind()
	if kind != "struct" {
		return nil, &errdefs.NotAStructError{Path: name, Kind: kind}
	}

	var payload structPayload
	if err := json.Unmarshal(item.Payload("struct"), &payload); err != nil {
		return nil, &errdefs.StructuralError{Path: name, Reason: err.Error()}
	}

	info := NewStructInfo(name)
	info.Generics = make([]string, 0, len(payload.Generics.Params))
	for _, p := range payload.Generics.Params {
		info.Generics = append(info.Generics, p.Name)
	}
	info.Fields = []FieldInfo{}

	structKind, fieldIDs, err := readStructKind(payload.Kind)
	if err != nil {
		return nil, &errdefs.StructuralError{Path: name, Reason: err.Error()}
	}
	info.Kind = structKind

	for pos, fieldID := range fieldIDs {
		if fieldID == nil {
			continue // stripped private field; positions keep counting
		}
		field, err := extractField(crate, *fieldID, info.SimpleName)
		if err != nil {
			return nil, &errdefs.StructuralError{Path: name, Reason: err.Error()}
		}
		if structKind == KindTuple {
			field.Name = strconv.Itoa(pos)
		}
		info.Fields = append(info.Fields, field)
	}
	return info, nil
}

// readStructKind decodes {"plain":{"fields":[...]}}, {"tuple":[...]} or "unit".
func readStructKind(data json.RawMessage) (StructKind, []*ID, error) {
	if isNull(data) {
		return "", nil, errors.New("missing struct kind")
	}

	var tag string
	if err := json.Unmarshal(data, &tag); err == nil {
		if tag == "unit" {
			return KindUnit, nil, nil
		}
		return "", nil, errors.Errorf("unknown struct kind %q", tag)
	}

	var outer map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return "", nil, errors.Errorf("struct kind: %w", err)
	}
	if plain, ok := outer["plain"]; ok {
		var p struct {
			Fields []*ID `json:"fields"`
		}
		if err := json.Unmarshal(plain, &p); err != nil {
			return "", nil, errors.Errorf("plain fields: %w", err)
		}
		return KindNamed, p.Fields, nil
	}
	if tuple, ok := outer["tuple"]; ok {
		var fields []*ID
		if err := json.Unmarshal(tuple, &fields); err != nil {
			// Older formats nest the list under "fields".
			var legacy struct {
				Fields []*ID `json:"fields"`
			}
			if err2 := json.Unmarshal(tuple, &legacy); err2 != nil {
				return "", nil, errors.Errorf("tuple fields: %w", err)
			}
			fields = legacy.Fields
		}
		return KindTuple, fields, nil
	}
	if _, ok := outer["unit"]; ok {
		return KindUnit, nil, nil
	}
	for k := range outer {
		return "", nil, errors.Errorf("unknown struct kind %q", k)
	}
	return "", nil, errors.New("empty struct kind")
}

func extractField(crate *Crate, id ID, structName string) (FieldInfo, error) {
	item, ok := crate.Item(id)
	if !ok {
		return FieldInfo{}, errors.Errorf("field %s not in index", id)
	}
	typ := item.Payload("struct_field")
	if typ == nil {
		return FieldInfo{}, errors.Errorf("field %s is a %s", id, item.Kind())
	}
	return FieldInfo{
		Name:       item.ItemName(),
		Type:       RenderType(typ, crate),
		Public:     item.Visibility.IsPublic(),
		Visibility: item.Visibility.String(),
		StructName: structName,
	}, nil
}
