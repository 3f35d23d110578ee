package rustdoc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"

	"github.com/jcdickinson/quarry/internal/errdefs"
	"github.com/jcdickinson/quarry/internal/rustdoc/rustdoctest"
)

func allocCrate(t *testing.T) *Crate {
	t.Helper()
	decoded, err := Decode([]byte(rustdoctest.Alloc))
	require.NoError(t, err)
	return decoded.Crate
}

func extractByID(t *testing.T, crate *Crate, id int, name string) (*StructInfo, error) {
	t.Helper()
	item, ok := crate.Item(IntID(id))
	require.True(t, ok)
	return ExtractStruct(crate, item, name)
}

func TestExtractStruct_Named(t *testing.T) {
	t.Parallel()
	crate := allocCrate(t)

	info, err := extractByID(t, crate, 20, "alloc::vec::Vec")
	require.NoError(t, err)

	assert.Equal(t, "alloc::vec::Vec", info.Name)
	assert.Equal(t, "Vec", info.SimpleName)
	assert.Equal(t, "alloc::vec", info.ModulePath)
	assert.Equal(t, KindNamed, info.Kind)
	assert.False(t, info.IsTuple())
	assert.False(t, info.IsUnit())
	assert.Equal(t, []string{"T", "A"}, info.Generics)
	assert.Equal(t, []FieldInfo{
		{Name: "buf", Type: "RawVec<T, A>", Public: false, Visibility: "default", StructName: "Vec"},
		{Name: "len", Type: "usize", Public: false, Visibility: "default", StructName: "Vec"},
	}, info.Fields)
}

func TestExtractStruct_Tuple(t *testing.T) {
	t.Parallel()
	crate := allocCrate(t)

	info, err := extractByID(t, crate, 41, "alloc::num::Wrapping")
	require.NoError(t, err)

	assert.True(t, info.IsTuple())
	require.Len(t, info.Fields, 2)
	// The stripped middle field keeps its position.
	assert.Equal(t, "0", info.Fields[0].Name)
	assert.Equal(t, "T", info.Fields[0].Type)
	assert.True(t, info.Fields[0].Public)
	assert.Equal(t, "2", info.Fields[1].Name)
	assert.Equal(t, "&'static str", info.Fields[1].Type)
	assert.False(t, info.Fields[1].Public)
}

func TestExtractStruct_Unit(t *testing.T) {
	t.Parallel()
	crate := allocCrate(t)

	info, err := extractByID(t, crate, 46, "alloc::alloc::Global")
	require.NoError(t, err)

	assert.True(t, info.IsUnit())
	assert.NotNil(t, info.Fields)
	assert.Empty(t, info.Fields)
	assert.Empty(t, info.Generics)
}

func TestExtractStruct_NotAStruct(t *testing.T) {
	t.Parallel()
	crate := allocCrate(t)

	_, err := extractByID(t, crate, 5, "alloc::string::ParseError")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrNotAStruct))

	var notStruct *errdefs.NotAStructError
	require.True(t, errors.As(err, &notStruct))
	assert.Equal(t, "enum", notStruct.Kind)
	assert.Equal(t, "alloc::string::ParseError", notStruct.Path)
}

func TestExtractStruct_Structural(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		inner string
	}{
		{"missing_field", `{"struct":{"generics":{"params":[]},"kind":{"plain":{"fields":[404]}}}}`},
		{"field_wrong_kind", `{"struct":{"generics":{"params":[]},"kind":{"plain":{"fields":[0]}}}}`},
		{"unknown_kind", `{"struct":{"generics":{"params":[]},"kind":{"record":{}}}}`},
		{"missing_kind", `{"struct":{"generics":{"params":[]}}}`},
		{"bad_fields", `{"struct":{"generics":{"params":[]},"kind":{"plain":{"fields":"nope"}}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			crate := &Crate{
				Index: map[string]Item{
					"0": {ID: "0", Name: strPtr("demo"), Inner: json.RawMessage(`{"module":{"items":[]}}`)},
				},
			}
			item := &Item{ID: "1", Name: strPtr("Broken"), Inner: json.RawMessage(tt.inner)}

			_, err := ExtractStruct(crate, item, "demo::Broken")
			require.Error(t, err)
			assert.True(t, errors.Is(err, errdefs.ErrStructural))

			var structural *errdefs.StructuralError
			require.True(t, errors.As(err, &structural))
			assert.Equal(t, "demo::Broken", structural.Path)
		})
	}
}

func TestExtractStruct_LegacyTupleShape(t *testing.T) {
	t.Parallel()

	crate := &Crate{
		Index: map[string]Item{
			"1": {ID: "1", Name: strPtr("0"), Visibility: Visibility{Tag: "public"},
				Inner: json.RawMessage(`{"struct_field":{"primitive":"u64"}}`)},
		},
	}
	item := &Item{ID: "0", Name: strPtr("Id"),
		Inner: json.RawMessage(`{"struct":{"generics":{"params":[]},"kind":{"tuple":{"fields":[1]}}}}`)}

	info, err := ExtractStruct(crate, item, "demo::Id")
	require.NoError(t, err)
	assert.True(t, info.IsTuple())
	assert.Equal(t, []FieldInfo{{Name: "0", Type: "u64", Public: true, Visibility: "public", StructName: "Id"}}, info.Fields)
}

func TestStructInfo_Clone(t *testing.T) {
	t.Parallel()

	orig := NewStructInfo("alloc::vec::Vec")
	orig.Generics = []string{"T"}
	orig.Fields = []FieldInfo{{Name: "len", Type: "usize"}}

	c := orig.Clone()
	c.Fields[0].Name = "changed"
	c.Generics[0] = "U"

	assert.Equal(t, "len", orig.Fields[0].Name)
	assert.Equal(t, "T", orig.Generics[0])
	assert.Nil(t, (*StructInfo)(nil).Clone())
}

func TestNewStructInfo(t *testing.T) {
	t.Parallel()

	info := NewStructInfo("Plain")
	assert.Equal(t, "Plain", info.SimpleName)
	assert.Empty(t, info.ModulePath)
}
