package rustdoc

import (
	"encoding/json"
	"strings"
)

// unknownType is rendered for type variants this package does not read.
const unknownType = "unknown"

// RenderType renders a rustdoc Type as Rust surface syntax. Paths are kept
// as written at the use site rather than normalized to their canonical form.
func RenderType(typ json.RawMessage, crate *Crate) string {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(typ, &outer); err != nil {
		// Unit-like variants are bare strings in some format versions.
		var s string
		if json.Unmarshal(typ, &s) == nil && s == "infer" {
			return "_"
		}
		return unknownType
	}

	if rp, ok := outer["resolved_path"]; ok {
		return renderPath(rp, crate)
	}
	if prim, ok := outer["primitive"]; ok {
		return jsonString(prim, unknownType)
	}
	if g, ok := outer["generic"]; ok {
		return jsonString(g, unknownType)
	}
	if br, ok := outer["borrowed_ref"]; ok {
		return renderBorrowedRef(br, crate)
	}
	if rp, ok := outer["raw_pointer"]; ok {
		return renderRawPointer(rp, crate)
	}
	if sl, ok := outer["slice"]; ok {
		return "[" + RenderType(sl, crate) + "]"
	}
	if arr, ok := outer["array"]; ok {
		return renderArray(arr, crate)
	}
	if tp, ok := outer["tuple"]; ok {
		return renderTuple(tp, crate)
	}
	if dt, ok := outer["dyn_trait"]; ok {
		return renderDynTrait(dt, crate)
	}
	if it, ok := outer["impl_trait"]; ok {
		return renderImplTrait(it, crate)
	}
	if fp, ok := outer["function_pointer"]; ok {
		return renderFnPointer(fp, crate)
	}
	if qp, ok := outer["qualified_path"]; ok {
		return renderQualifiedPath(qp, crate)
	}
	if pat, ok := outer["pat"]; ok {
		var p struct {
			Type json.RawMessage `json:"type"`
		}
		if json.Unmarshal(pat, &p) == nil && p.Type != nil {
			return RenderType(p.Type, crate)
		}
	}
	if _, ok := outer["infer"]; ok {
		return "_"
	}
	return unknownType
}

// pathRef is a rustdoc Path: a resolved_path type, a trait reference or an
// impl bound. "path" replaced "name" in newer format versions.
type pathRef struct {
	Path string           `json:"path"`
	Name string           `json:"name"`
	ID   ID               `json:"id"`
	Args *json.RawMessage `json:"args"`
}

func (p pathRef) written(crate *Crate) string {
	if p.Path != "" {
		return p.Path
	}
	if p.Name != "" {
		return p.Name
	}
	// Name can be empty; fall back to the last segment of the summary path.
	if crate != nil {
		if s, _, ok := crate.SummaryPath(p.ID); ok {
			return s.Path[len(s.Path)-1]
		}
	}
	return ""
}

func renderPath(data json.RawMessage, crate *Crate) string {
	var p pathRef
	if err := json.Unmarshal(data, &p); err != nil {
		return unknownType
	}
	return renderPathRef(p, crate)
}

func renderPathRef(p pathRef, crate *Crate) string {
	name := p.written(crate)
	if name == "" {
		return unknownType
	}
	if p.Args != nil {
		name += renderGenericArgs(*p.Args, crate)
	}
	return name
}

func renderGenericArgs(data json.RawMessage, crate *Crate) string {
	var args struct {
		AngleBracketed *struct {
			Args        []json.RawMessage `json:"args"`
			Constraints []json.RawMessage `json:"constraints"`
			Bindings    []json.RawMessage `json:"bindings"`
		} `json:"angle_bracketed"`
		Parenthesized *struct {
			Inputs []json.RawMessage `json:"inputs"`
			Output json.RawMessage   `json:"output"`
		} `json:"parenthesized"`
	}
	if err := json.Unmarshal(data, &args); err != nil {
		return ""
	}

	if pa := args.Parenthesized; pa != nil {
		inputs := make([]string, 0, len(pa.Inputs))
		for _, in := range pa.Inputs {
			inputs = append(inputs, RenderType(in, crate))
		}
		out := "(" + strings.Join(inputs, ", ") + ")"
		if !isNull(pa.Output) {
			out += " -> " + RenderType(pa.Output, crate)
		}
		return out
	}

	ab := args.AngleBracketed
	if ab == nil {
		return ""
	}
	var parts []string
	for _, arg := range ab.Args {
		if s := renderGenericArg(arg, crate); s != "" {
			parts = append(parts, s)
		}
	}
	constraints := ab.Constraints
	if constraints == nil {
		constraints = ab.Bindings
	}
	for _, c := range constraints {
		if s := renderConstraint(c, crate); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "<" + strings.Join(parts, ", ") + ">"
}

func renderGenericArg(arg json.RawMessage, crate *Crate) string {
	var a map[string]json.RawMessage
	if err := json.Unmarshal(arg, &a); err != nil {
		if jsonString(arg, "") == "infer" {
			return "_"
		}
		return ""
	}
	if t, ok := a["type"]; ok {
		return RenderType(t, crate)
	}
	if lt, ok := a["lifetime"]; ok {
		return jsonString(lt, "")
	}
	if c, ok := a["const"]; ok {
		var k struct {
			Expr  string  `json:"expr"`
			Value *string `json:"value"`
		}
		if json.Unmarshal(c, &k) == nil {
			return k.Expr
		}
	}
	if _, ok := a["infer"]; ok {
		return "_"
	}
	return ""
}

func renderConstraint(data json.RawMessage, crate *Crate) string {
	var c struct {
		Name    string          `json:"name"`
		Binding json.RawMessage `json:"binding"`
	}
	if err := json.Unmarshal(data, &c); err != nil || c.Name == "" {
		return ""
	}
	var b struct {
		Equality   json.RawMessage   `json:"equality"`
		Constraint []json.RawMessage `json:"constraint"`
	}
	if err := json.Unmarshal(c.Binding, &b); err != nil {
		return ""
	}
	if b.Equality != nil {
		var term map[string]json.RawMessage
		if json.Unmarshal(b.Equality, &term) == nil {
			if t, ok := term["type"]; ok {
				return c.Name + " = " + RenderType(t, crate)
			}
			if k, ok := term["constant"]; ok {
				var expr struct {
					Expr string `json:"expr"`
				}
				json.Unmarshal(k, &expr)
				return c.Name + " = " + expr.Expr
			}
		}
		return c.Name + " = " + RenderType(b.Equality, crate)
	}
	if len(b.Constraint) > 0 {
		return c.Name + ": " + renderBounds(b.Constraint, crate)
	}
	return ""
}

func renderBorrowedRef(data json.RawMessage, crate *Crate) string {
	var r struct {
		Lifetime  *string         `json:"lifetime"`
		IsMutable bool            `json:"is_mutable"`
		Mutable   bool            `json:"mutable"`
		Type      json.RawMessage `json:"type"`
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return unknownType
	}
	prefix := "&"
	if r.Lifetime != nil && *r.Lifetime != "" {
		prefix += *r.Lifetime + " "
	}
	if r.IsMutable || r.Mutable {
		prefix += "mut "
	}
	return prefix + RenderType(r.Type, crate)
}

func renderRawPointer(data json.RawMessage, crate *Crate) string {
	var r struct {
		IsMutable bool            `json:"is_mutable"`
		Mutable   bool            `json:"mutable"`
		Type      json.RawMessage `json:"type"`
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return unknownType
	}
	if r.IsMutable || r.Mutable {
		return "*mut " + RenderType(r.Type, crate)
	}
	return "*const " + RenderType(r.Type, crate)
}

func renderArray(data json.RawMessage, crate *Crate) string {
	var a struct {
		Type json.RawMessage `json:"type"`
		Len  string          `json:"len"`
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return unknownType
	}
	return "[" + RenderType(a.Type, crate) + "; " + a.Len + "]"
}

func renderTuple(data json.RawMessage, crate *Crate) string {
	var types []json.RawMessage
	if err := json.Unmarshal(data, &types); err != nil {
		return unknownType
	}
	parts := make([]string, 0, len(types))
	for _, t := range types {
		parts = append(parts, RenderType(t, crate))
	}
	if len(parts) == 1 {
		return "(" + parts[0] + ",)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func renderDynTrait(data json.RawMessage, crate *Crate) string {
	var d struct {
		Traits []struct {
			Trait         pathRef           `json:"trait"`
			GenericParams []json.RawMessage `json:"generic_params"`
		} `json:"traits"`
		Lifetime *string `json:"lifetime"`
	}
	if err := json.Unmarshal(data, &d); err != nil || len(d.Traits) == 0 {
		return unknownType
	}
	parts := make([]string, 0, len(d.Traits)+1)
	for _, t := range d.Traits {
		parts = append(parts, renderPathRef(t.Trait, crate))
	}
	if d.Lifetime != nil && *d.Lifetime != "" {
		parts = append(parts, *d.Lifetime)
	}
	return "dyn " + strings.Join(parts, " + ")
}

func renderImplTrait(data json.RawMessage, crate *Crate) string {
	var bounds []json.RawMessage
	if err := json.Unmarshal(data, &bounds); err != nil {
		return unknownType
	}
	return "impl " + renderBounds(bounds, crate)
}

func renderBounds(bounds []json.RawMessage, crate *Crate) string {
	parts := make([]string, 0, len(bounds))
	for _, raw := range bounds {
		var b struct {
			TraitBound *struct {
				Trait    pathRef `json:"trait"`
				Modifier string  `json:"modifier"`
			} `json:"trait_bound"`
			Outlives *string `json:"outlives"`
		}
		if err := json.Unmarshal(raw, &b); err != nil {
			continue
		}
		switch {
		case b.TraitBound != nil:
			s := renderPathRef(b.TraitBound.Trait, crate)
			if b.TraitBound.Modifier == "maybe" {
				s = "?" + s
			}
			parts = append(parts, s)
		case b.Outlives != nil:
			parts = append(parts, *b.Outlives)
		}
	}
	return strings.Join(parts, " + ")
}

func renderFnPointer(data json.RawMessage, crate *Crate) string {
	var fp struct {
		Sig struct {
			Inputs      []json.RawMessage `json:"inputs"`
			Output      json.RawMessage   `json:"output"`
			IsCVariadic bool              `json:"is_c_variadic"`
		} `json:"sig"`
		Decl *struct {
			Inputs []json.RawMessage `json:"inputs"`
			Output json.RawMessage   `json:"output"`
		} `json:"decl"`
		Header struct {
			IsUnsafe bool            `json:"is_unsafe"`
			ABI      json.RawMessage `json:"abi"`
		} `json:"header"`
	}
	if err := json.Unmarshal(data, &fp); err != nil {
		return unknownType
	}
	inputs, output := fp.Sig.Inputs, fp.Sig.Output
	if fp.Decl != nil {
		inputs, output = fp.Decl.Inputs, fp.Decl.Output
	}

	var b strings.Builder
	if fp.Header.IsUnsafe {
		b.WriteString("unsafe ")
	}
	if abi := renderABI(fp.Header.ABI); abi != "" {
		b.WriteString(`extern "` + abi + `" `)
	}
	b.WriteString("fn(")
	params := make([]string, 0, len(inputs))
	for _, in := range inputs {
		var pair []json.RawMessage
		if err := json.Unmarshal(in, &pair); err != nil || len(pair) < 2 {
			continue
		}
		params = append(params, RenderType(pair[1], crate))
	}
	if fp.Sig.IsCVariadic {
		params = append(params, "...")
	}
	b.WriteString(strings.Join(params, ", "))
	b.WriteString(")")
	if !isNull(output) {
		b.WriteString(" -> ")
		b.WriteString(RenderType(output, crate))
	}
	return b.String()
}

// renderABI returns the extern ABI name, or "" for the Rust ABI.
func renderABI(data json.RawMessage) string {
	if isNull(data) {
		return ""
	}
	if s := jsonString(data, ""); s != "" {
		if s == "Rust" {
			return ""
		}
		return s
	}
	var obj map[string]json.RawMessage
	if json.Unmarshal(data, &obj) != nil {
		return ""
	}
	for k := range obj {
		return k
	}
	return ""
}

func renderQualifiedPath(data json.RawMessage, crate *Crate) string {
	var q struct {
		Name     string          `json:"name"`
		SelfType json.RawMessage `json:"self_type"`
		Trait    *pathRef        `json:"trait"`
	}
	if err := json.Unmarshal(data, &q); err != nil {
		return unknownType
	}
	self := RenderType(q.SelfType, crate)
	if q.Trait != nil {
		if trait := renderPathRef(*q.Trait, crate); trait != unknownType {
			return "<" + self + " as " + trait + ">::" + q.Name
		}
	}
	return self + "::" + q.Name
}

func jsonString(data json.RawMessage, fallback string) string {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fallback
	}
	return s
}

func isNull(data json.RawMessage) bool {
	return len(data) == 0 || string(data) == "null"
}
