// Package rustdoctest provides small rustdoc JSON artifacts shaped like the
// standard library crates, for tests.
package rustdoctest

// Alloc defines structs of every kind plus an enum:
//
//	alloc::string::String        named, one private field
//	alloc::string::ParseError    enum
//	alloc::vec::Vec<T, A>        named, two private fields
//	alloc::num::Wrapping<T>      tuple, middle field stripped
//	alloc::alloc::Global         unit
const Alloc = `{
  "root": 0,
  "crate_version": null,
  "includes_private": true,
  "format_version": 39,
  "external_crates": {},
  "index": {
    "0": {"id": 0, "crate_id": 0, "name": "alloc", "visibility": "public", "docs": null,
          "inner": {"module": {"is_crate": true, "items": [1, 21, 40, 45], "is_stripped": false}}},
    "1": {"id": 1, "crate_id": 0, "name": "string", "visibility": "public",
          "inner": {"module": {"is_crate": false, "items": [2, 5], "is_stripped": false}}},
    "2": {"id": 2, "crate_id": 0, "name": "String", "visibility": "public",
          "span": {"filename": "alloc/src/string.rs", "begin": [360, 1], "end": [362, 2]},
          "inner": {"struct": {"generics": {"params": [], "where_predicates": []},
                               "kind": {"plain": {"fields": [3], "has_stripped_fields": false}},
                               "impls": []}}},
    "3": {"id": 3, "crate_id": 0, "name": "vec", "visibility": "default",
          "inner": {"struct_field": {"resolved_path": {"path": "Vec", "id": 20,
            "args": {"angle_bracketed": {"args": [{"type": {"primitive": "u8"}}], "constraints": []}}}}}},
    "5": {"id": 5, "crate_id": 0, "name": "ParseError", "visibility": "public",
          "inner": {"enum": {"generics": {"params": [], "where_predicates": []},
                             "has_stripped_variants": false, "variants": [], "impls": []}}},
    "21": {"id": 21, "crate_id": 0, "name": "vec", "visibility": "public",
           "inner": {"module": {"is_crate": false, "items": [20], "is_stripped": false}}},
    "20": {"id": 20, "crate_id": 0, "name": "Vec", "visibility": "public",
           "inner": {"struct": {"generics": {"params": [
                                  {"name": "T", "kind": {"type": {"bounds": [], "default": null, "is_synthetic": false}}},
                                  {"name": "A", "kind": {"type": {"bounds": [], "default": null, "is_synthetic": false}}}],
                                "where_predicates": []},
                                "kind": {"plain": {"fields": [22, 23], "has_stripped_fields": false}},
                                "impls": []}}},
    "22": {"id": 22, "crate_id": 0, "name": "buf", "visibility": "default",
           "inner": {"struct_field": {"resolved_path": {"path": "RawVec", "id": 99,
             "args": {"angle_bracketed": {"args": [{"type": {"generic": "T"}}, {"type": {"generic": "A"}}], "constraints": []}}}}}},
    "23": {"id": 23, "crate_id": 0, "name": "len", "visibility": "default",
           "inner": {"struct_field": {"primitive": "usize"}}},
    "40": {"id": 40, "crate_id": 0, "name": "num", "visibility": "public",
           "inner": {"module": {"is_crate": false, "items": [41], "is_stripped": false}}},
    "41": {"id": 41, "crate_id": 0, "name": "Wrapping", "visibility": "public",
           "inner": {"struct": {"generics": {"params": [
                                  {"name": "T", "kind": {"type": {"bounds": [], "default": null, "is_synthetic": false}}}],
                                "where_predicates": []},
                                "kind": {"tuple": [42, null, 43]},
                                "impls": []}}},
    "42": {"id": 42, "crate_id": 0, "name": "0", "visibility": "public",
           "inner": {"struct_field": {"generic": "T"}}},
    "43": {"id": 43, "crate_id": 0, "name": "2", "visibility": "default",
           "inner": {"struct_field": {"borrowed_ref": {"lifetime": "'static", "is_mutable": false, "type": {"primitive": "str"}}}}},
    "45": {"id": 45, "crate_id": 0, "name": "alloc", "visibility": "public",
           "inner": {"module": {"is_crate": false, "items": [46], "is_stripped": false}}},
    "46": {"id": 46, "crate_id": 0, "name": "Global", "visibility": "public",
           "inner": {"struct": {"generics": {"params": [], "where_predicates": []}, "kind": "unit", "impls": []}}}
  },
  "paths": {
    "0": {"crate_id": 0, "path": ["alloc"], "kind": "module"},
    "1": {"crate_id": 0, "path": ["alloc", "string"], "kind": "module"},
    "2": {"crate_id": 0, "path": ["alloc", "string", "String"], "kind": "struct"},
    "5": {"crate_id": 0, "path": ["alloc", "string", "ParseError"], "kind": "enum"},
    "20": {"crate_id": 0, "path": ["alloc", "vec", "Vec"], "kind": "struct"},
    "21": {"crate_id": 0, "path": ["alloc", "vec"], "kind": "module"},
    "40": {"crate_id": 0, "path": ["alloc", "num"], "kind": "module"},
    "41": {"crate_id": 0, "path": ["alloc", "num", "Wrapping"], "kind": "struct"},
    "45": {"crate_id": 0, "path": ["alloc", "alloc"], "kind": "module"},
    "46": {"crate_id": 0, "path": ["alloc", "alloc", "Global"], "kind": "struct"}
  }
}`

// Std re-exports alloc items and defines one struct in a private module:
//
//	std::string::String                  pub use of alloc::string::String
//	std::collections::HashMap            pub use of the struct below
//	std::collections::hash::map::HashMap named, defined in a private module
//	std::collections::Hidden             private use, not a re-export
//	std::vec                             macro, plus module re-export of alloc::vec
//	std::prelude::*                      glob of std::collections
const Std = `{
  "root": 0,
  "crate_version": null,
  "includes_private": true,
  "format_version": 39,
  "external_crates": {"1": {"name": "alloc", "html_root_url": null}},
  "index": {
    "0": {"id": 0, "crate_id": 0, "name": "std", "visibility": "public",
          "inner": {"module": {"is_crate": true, "items": [1, 2, 3, 6, 13], "is_stripped": false}}},
    "1": {"id": 1, "crate_id": 0, "name": "string", "visibility": "public",
          "inner": {"module": {"is_crate": false, "items": [4], "is_stripped": false}}},
    "4": {"id": 4, "crate_id": 0, "name": null, "visibility": "public",
          "inner": {"use": {"source": "alloc::string::String", "name": "String", "id": 50, "is_glob": false}}},
    "2": {"id": 2, "crate_id": 0, "name": "collections", "visibility": "public",
          "inner": {"module": {"is_crate": false, "items": [7, 8, 12], "is_stripped": false}}},
    "7": {"id": 7, "crate_id": 0, "name": "hash", "visibility": "default",
          "inner": {"module": {"is_crate": false, "items": [9], "is_stripped": false}}},
    "9": {"id": 9, "crate_id": 0, "name": "map", "visibility": {"restricted": {"parent": 2, "path": "::collections"}},
          "inner": {"module": {"is_crate": false, "items": [10], "is_stripped": false}}},
    "10": {"id": 10, "crate_id": 0, "name": "HashMap", "visibility": "public",
           "inner": {"struct": {"generics": {"params": [
                                  {"name": "K", "kind": {"type": {"bounds": [], "default": null, "is_synthetic": false}}},
                                  {"name": "V", "kind": {"type": {"bounds": [], "default": null, "is_synthetic": false}}},
                                  {"name": "S", "kind": {"type": {"bounds": [], "default": {"resolved_path": {"path": "RandomState", "id": 97, "args": null}}, "is_synthetic": false}}}],
                                "where_predicates": []},
                                "kind": {"plain": {"fields": [11], "has_stripped_fields": false}},
                                "impls": []}}},
    "11": {"id": 11, "crate_id": 0, "name": "base", "visibility": "default",
           "inner": {"struct_field": {"resolved_path": {"path": "base::HashMap", "id": 98,
             "args": {"angle_bracketed": {"args": [{"type": {"generic": "K"}}, {"type": {"generic": "V"}}, {"type": {"generic": "S"}}], "constraints": []}}}}}},
    "8": {"id": 8, "crate_id": 0, "name": null, "visibility": "public",
          "inner": {"use": {"source": "self::hash::map::HashMap", "name": "HashMap", "id": 10, "is_glob": false}}},
    "12": {"id": 12, "crate_id": 0, "name": null, "visibility": "default",
           "inner": {"use": {"source": "self::hash::map::HashMap", "name": "Hidden", "id": 10, "is_glob": false}}},
    "3": {"id": 3, "crate_id": 0, "name": null, "visibility": "public",
          "inner": {"use": {"source": "alloc::vec", "name": "vec", "id": 60, "is_glob": false}}},
    "6": {"id": 6, "crate_id": 0, "name": "vec", "visibility": "public",
          "inner": {"macro": "macro_rules! vec { ... }"}},
    "13": {"id": 13, "crate_id": 0, "name": "prelude", "visibility": "public",
           "inner": {"module": {"is_crate": false, "items": [14], "is_stripped": false}}},
    "14": {"id": 14, "crate_id": 0, "name": null, "visibility": "public",
           "inner": {"use": {"source": "crate::collections", "name": "collections", "id": 2, "is_glob": true}}}
  },
  "paths": {
    "0": {"crate_id": 0, "path": ["std"], "kind": "module"},
    "1": {"crate_id": 0, "path": ["std", "string"], "kind": "module"},
    "2": {"crate_id": 0, "path": ["std", "collections"], "kind": "module"},
    "6": {"crate_id": 0, "path": ["std", "vec"], "kind": "macro"},
    "7": {"crate_id": 0, "path": ["std", "collections", "hash"], "kind": "module"},
    "9": {"crate_id": 0, "path": ["std", "collections", "hash", "map"], "kind": "module"},
    "10": {"crate_id": 0, "path": ["std", "collections", "hash", "map", "HashMap"], "kind": "struct"},
    "13": {"crate_id": 0, "path": ["std", "prelude"], "kind": "module"},
    "50": {"crate_id": 1, "path": ["alloc", "string", "String"], "kind": "struct"},
    "60": {"crate_id": 1, "path": ["alloc", "vec"], "kind": "module"}
  }
}`

// Crates maps crate name to artifact.
var Crates = map[string]string{
	"alloc": Alloc,
	"std":   Std,
}

// CrateNames lists the keys of Crates.
var CrateNames = []string{"std", "alloc"}
