package rustdoc

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"gitlab.com/tozd/go/errors"
)

// Crate is the top-level structure of a rustdoc JSON artifact.
type Crate struct {
	Root            ID                       `json:"root"`
	CrateVersion    *string                  `json:"crate_version"`
	IncludesPrivate bool                     `json:"includes_private"`
	Index           map[string]Item          `json:"index"`
	Paths           map[string]Summary       `json:"paths"`
	ExternalCrates  map[string]ExternalCrate `json:"external_crates"`
	FormatVersion   int                      `json:"format_version"`
}

// ID is an opaque rustdoc item identifier. Current format versions emit
// integers, older ones emit strings such as "0:1234"; both decode to the
// same textual form used as the Index key.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*id = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return errors.Errorf("rustdoc id %s: %w", data, err)
		}
		*id = ID(n.String())
	}
	return nil
}

// IntID builds an ID from the integer form.
func IntID(n int) ID { return ID(strconv.Itoa(n)) }

// ExternalCrate identifies a dependency crate by name.
type ExternalCrate struct {
	Name        string `json:"name"`
	HTMLRootURL string `json:"html_root_url"`
}

// Summary provides the canonical path and kind for an item.
type Summary struct {
	CrateID int      `json:"crate_id"`
	Path    []string `json:"path"`
	Kind    string   `json:"kind"`
}

// Item is a single entry in the rustdoc index.
type Item struct {
	ID         ID              `json:"id"`
	CrateID    int             `json:"crate_id"`
	Name       *string         `json:"name"`
	Span       *Span           `json:"span"`
	Visibility Visibility      `json:"visibility"`
	Docs       *string         `json:"docs"`
	Inner      json.RawMessage `json:"inner"`

	// LegacyKind is set by format versions that carried the kind beside an
	// untagged inner payload.
	LegacyKind string `json:"kind"`
}

// Span locates an item in source.
type Span struct {
	Filename string `json:"filename"`
	Begin    [2]int `json:"begin"`
	End      [2]int `json:"end"`
}

// Visibility is the item visibility tag: "public", "default", "crate" or
// "restricted" with the restricting module path.
type Visibility struct {
	Tag  string
	Path string
}

func (v *Visibility) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*v = Visibility{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &v.Tag)
	}
	var obj struct {
		Restricted *struct {
			Path string `json:"path"`
		} `json:"restricted"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return errors.Errorf("visibility %s: %w", data, err)
	}
	if obj.Restricted == nil {
		return errors.Errorf("unknown visibility %s", data)
	}
	*v = Visibility{Tag: "restricted", Path: obj.Restricted.Path}
	return nil
}

func (v Visibility) IsPublic() bool { return v.Tag == "public" }

func (v Visibility) String() string {
	if v.Tag == "restricted" {
		return "restricted(" + v.Path + ")"
	}
	if v.Tag == "" {
		return "default"
	}
	return v.Tag
}

// Kind returns the item kind: the single key of the inner payload
// ("struct", "enum", "module", "use", ...).
func (it *Item) Kind() string {
	if it.LegacyKind != "" {
		return normalizeKind(it.LegacyKind)
	}
	if len(it.Inner) == 0 {
		return "unknown"
	}
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(it.Inner, &outer); err != nil {
		return "unknown"
	}
	for k := range outer {
		return normalizeKind(k)
	}
	return "unknown"
}

// Payload extracts the inner data for kind. Inner is shaped like
// {"struct": {...}} or {"enum": {...}}.
func (it *Item) Payload(kind string) json.RawMessage {
	if len(it.Inner) == 0 {
		return nil
	}
	if it.LegacyKind != "" {
		if normalizeKind(it.LegacyKind) != kind {
			return nil
		}
		return it.Inner
	}
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(it.Inner, &outer); err != nil {
		return nil
	}
	for k, data := range outer {
		if normalizeKind(k) == kind {
			return data
		}
	}
	return nil
}

// ItemName returns the declared name, or "" for anonymous items.
func (it *Item) ItemName() string {
	if it.Name == nil {
		return ""
	}
	return *it.Name
}

// normalizeKind folds renamed kinds onto the names used by current formats.
func normalizeKind(kind string) string {
	switch kind {
	case "import":
		return "use"
	case "typedef":
		return "type_alias"
	}
	return kind
}

// Item looks up an item by id.
func (c *Crate) Item(id ID) (*Item, bool) {
	it, ok := c.Index[string(id)]
	if !ok {
		return nil, false
	}
	return &it, true
}

// SummaryPath returns the canonical "::"-joined path recorded for id.
func (c *Crate) SummaryPath(id ID) (Summary, string, bool) {
	s, ok := c.Paths[string(id)]
	if !ok || len(s.Path) == 0 {
		return Summary{}, "", false
	}
	return s, strings.Join(s.Path, "::"), true
}

// ExternalCrateName returns the library name of a dependency crate.
func (c *Crate) ExternalCrateName(crateID int) string {
	ext, ok := c.ExternalCrates[strconv.Itoa(crateID)]
	if !ok {
		return ""
	}
	return ext.Name
}
