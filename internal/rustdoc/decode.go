package rustdoc

import (
	"encoding/json"
	"fmt"

	"github.com/jcdickinson/quarry/internal/errdefs"
)

// Supported rustdoc JSON format versions. Older artifacts predate integer
// ids and the "use" item kind; newer ones have not been checked against the
// payload shapes this package reads.
const (
	MinFormatVersion = 30
	MaxFormatVersion = 64
)

// DecodeOptions bounds the accepted format versions.
type DecodeOptions struct {
	MinFormatVersion int
	MaxFormatVersion int
}

func DefaultDecodeOptions() DecodeOptions {
	return DecodeOptions{MinFormatVersion: MinFormatVersion, MaxFormatVersion: MaxFormatVersion}
}

// Malformed records an index entry that could not be decoded.
type Malformed struct {
	ID  string
	Err error
}

// Decoded is a validated artifact plus the index entries that were skipped.
type Decoded struct {
	*Crate
	Malformed []Malformed
}

// Decode validates and decodes a rustdoc JSON artifact with the default
// format version bounds.
func Decode(data []byte) (*Decoded, error) {
	return DecodeWith(data, DefaultDecodeOptions())
}

// DecodeWith validates the top-level shape of data and decodes it. A missing
// or unsupported format_version, a missing index or root, or invalid JSON is
// a SchemaError. Individual index entries that fail to decode are collected
// in Malformed rather than failing the whole artifact.
func DecodeWith(data []byte, opts DecodeOptions) (*Decoded, error) {
	var raw struct {
		Root           *json.RawMessage           `json:"root"`
		CrateVersion   *string                    `json:"crate_version"`
		Private        bool                       `json:"includes_private"`
		Index          map[string]json.RawMessage `json:"index"`
		Paths          map[string]json.RawMessage `json:"paths"`
		ExternalCrates map[string]ExternalCrate   `json:"external_crates"`
		FormatVersion  *int                       `json:"format_version"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &errdefs.SchemaError{Reason: "invalid JSON", Err: err}
	}
	if raw.FormatVersion == nil {
		return nil, &errdefs.SchemaError{Reason: "missing format_version"}
	}
	if v := *raw.FormatVersion; v < opts.MinFormatVersion || v > opts.MaxFormatVersion {
		return nil, &errdefs.SchemaError{Reason: fmt.Sprintf(
			"unsupported format_version %d (supported %d..%d)", v, opts.MinFormatVersion, opts.MaxFormatVersion)}
	}
	if raw.Index == nil {
		return nil, &errdefs.SchemaError{Reason: "missing index"}
	}
	if raw.Root == nil {
		return nil, &errdefs.SchemaError{Reason: "missing root"}
	}

	crate := &Crate{
		CrateVersion:    raw.CrateVersion,
		IncludesPrivate: raw.Private,
		Index:           make(map[string]Item, len(raw.Index)),
		Paths:           make(map[string]Summary, len(raw.Paths)),
		ExternalCrates:  raw.ExternalCrates,
		FormatVersion:   *raw.FormatVersion,
	}
	if err := json.Unmarshal(*raw.Root, &crate.Root); err != nil {
		return nil, &errdefs.SchemaError{Reason: "invalid root id", Err: err}
	}
	if crate.ExternalCrates == nil {
		crate.ExternalCrates = map[string]ExternalCrate{}
	}

	decoded := &Decoded{Crate: crate}
	for key, itemData := range raw.Index {
		var item Item
		if err := json.Unmarshal(itemData, &item); err != nil {
			decoded.Malformed = append(decoded.Malformed, Malformed{ID: key, Err: err})
			continue
		}
		if item.ID == "" {
			item.ID = ID(key)
		}
		crate.Index[key] = item
	}
	for key, summaryData := range raw.Paths {
		var s Summary
		if err := json.Unmarshal(summaryData, &s); err != nil {
			decoded.Malformed = append(decoded.Malformed, Malformed{ID: key, Err: err})
			continue
		}
		crate.Paths[key] = s
	}

	if _, ok := crate.Index[string(crate.Root)]; !ok {
		return nil, &errdefs.SchemaError{Reason: fmt.Sprintf("root item %s not in index", crate.Root)}
	}
	return decoded, nil
}

// RootName returns the crate's own name, taken from the root module item.
func (c *Crate) RootName() string {
	if root, ok := c.Item(c.Root); ok {
		return root.ItemName()
	}
	return ""
}
