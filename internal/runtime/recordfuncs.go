package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/risor-io/risor/object"

	"github.com/jward/sprout/internal/model"
	"github.com/jward/sprout/internal/unit"
	"github.com/jward/sprout/internal/usage"
)

// collector gathers what an extraction script reports for one unit. Scripts
// cannot construct Go structs, so the host functions accept Risor maps with
// primitive values. Type names are resolved in finish, once every class of
// the unit and every import is known.
type collector struct {
	unit    string
	pkg     string
	imports []javaImport

	decls   []*declCall
	uses    []useCall
	byPath  map[string]*declCall
	local   map[string]string
	arities map[string]int
}

type declCall struct {
	kind        string
	owner       string
	name        string
	path        string
	modifiers   model.Modifiers
	params      []string
	returns     string
	typeParams  []string
	extends     []string
	implements  []string
	typ         string
	inInterface bool
}

type useCall struct {
	user string
	used string
	kind string
}

func newCollector(unitID string) *collector {
	return &collector{
		unit:    unitID,
		byPath:  make(map[string]*declCall),
		local:   make(map[string]string),
		arities: make(map[string]int),
	}
}

// globals returns the host functions bound to this collector.
func (c *collector) globals() map[string]any {
	return map[string]any{
		"unit":        object.NewString(c.unit),
		"set_package": c.makeSetPackageFn(),
		"add_import":  c.makeAddImportFn(),
		"declare":     c.makeDeclareFn(),
		"use":         c.makeUseFn(),
	}
}

// set_package(name)
func (c *collector) makeSetPackageFn() *object.Builtin {
	return object.NewBuiltin("set_package", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("set_package", 1, len(args))
		}
		name, errObj := stringArg("set_package", "name", args[0])
		if errObj != nil {
			return errObj
		}
		c.pkg = strings.TrimSpace(name)
		return object.Nil
	})
}

// add_import(name, is_static, is_wildcard)
func (c *collector) makeAddImportFn() *object.Builtin {
	return object.NewBuiltin("add_import", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 3 {
			return object.NewArgsError("add_import", 3, len(args))
		}
		name, errObj := stringArg("add_import", "name", args[0])
		if errObj != nil {
			return errObj
		}
		static, ok1 := args[1].(*object.Bool)
		wildcard, ok2 := args[2].(*object.Bool)
		if !ok1 || !ok2 {
			return object.Errorf("add_import: is_static and is_wildcard must be bools")
		}
		name = strings.TrimSuffix(strings.Join(strings.Fields(name), ""), ".*")
		c.imports = append(c.imports, javaImport{
			name:     name,
			static:   static.Value(),
			wildcard: wildcard.Value(),
		})
		return object.Nil
	})
}

// declare(map) → entity path
//
// Keys: kind, owner, name, modifiers, params, returns, type_params,
// extends, implements, type, in_interface, has_body.
func (c *collector) makeDeclareFn() *object.Builtin {
	return object.NewBuiltin("declare", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("declare", 1, len(args))
		}
		m, err := extractMap(args[0])
		if err != nil {
			return object.Errorf("declare: %v", err)
		}
		d, err := c.declare(m)
		if err != nil {
			return object.Errorf("declare: %v", err)
		}
		return object.NewString(d.path)
	})
}

func (c *collector) declare(m map[string]object.Object) (*declCall, error) {
	d := &declCall{
		kind:        strings.ToLower(getString(m, "kind")),
		owner:       getString(m, "owner"),
		name:        getString(m, "name"),
		modifiers:   model.ParseModifiers(getString(m, "modifiers")),
		params:      getStringList(m, "params"),
		returns:     getString(m, "returns"),
		typeParams:  getStringList(m, "type_params"),
		extends:     getStringList(m, "extends"),
		implements:  getStringList(m, "implements"),
		typ:         getString(m, "type"),
		inInterface: getBool(m, "in_interface"),
	}
	kind, err := model.ParseDeclKind(d.kind)
	if err != nil {
		return nil, err
	}

	switch kind {
	case model.DeclClass:
		if d.owner == "" {
			d.owner = c.pkg
		}
		switch d.kind {
		case "interface":
			d.modifiers |= model.Interface | model.Abstract
		case "annotation":
			d.modifiers |= model.Annotation | model.Interface | model.Abstract
		case "enum":
			d.modifiers |= model.Enum
		case "record":
			d.modifiers |= model.Final
		}
		if d.owner != c.pkg && (d.kind == "enum" || d.kind == "record" || d.kind == "interface") {
			d.modifiers |= model.Static
		}
		if d.inInterface {
			d.modifiers |= model.Static
		}
	case model.DeclMethod:
		if d.kind == "constructor" {
			d.name = "<init>"
		}
		d.name = fmt.Sprintf("%s(%d)", d.name, len(d.params))
		key := d.owner + "\x00" + d.name
		if n := c.arities[key]; n > 0 {
			d.name = fmt.Sprintf("%s#%d", d.name, n)
		}
		c.arities[key]++
		if d.inInterface && !getBool(m, "has_body") && !d.modifiers.Has(model.Static) {
			d.modifiers |= model.Abstract
		}
	case model.DeclField:
		if d.kind == "enum_constant" {
			d.modifiers |= model.Public | model.Static | model.Final | model.Enum
		}
		if d.inInterface {
			d.modifiers |= model.Static | model.Final
		}
	}
	if d.inInterface && d.modifiers.IsPackageLocal() {
		d.modifiers |= model.Public
	}

	if d.name == "" {
		return nil, fmt.Errorf("%s in %s has no name", d.kind, d.owner)
	}
	d.path = model.EntityPath(d.owner, d.name)
	if _, dup := c.byPath[d.path]; dup {
		return nil, fmt.Errorf("%s declared twice", d.path)
	}
	c.byPath[d.path] = d
	if kind == model.DeclClass {
		if _, ok := c.local[d.name]; !ok {
			c.local[d.name] = d.path
		}
	}
	c.decls = append(c.decls, d)
	return d, nil
}

// use(map)
//
// Keys: user (an entity path returned by declare), used (type text as
// written), kind.
func (c *collector) makeUseFn() *object.Builtin {
	return object.NewBuiltin("use", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("use", 1, len(args))
		}
		m, err := extractMap(args[0])
		if err != nil {
			return object.Errorf("use: %v", err)
		}
		u := useCall{
			user: getString(m, "user"),
			used: getString(m, "used"),
			kind: getString(m, "kind"),
		}
		if _, ok := c.byPath[u.user]; !ok {
			return object.Errorf("use: unknown user %q", u.user)
		}
		if _, err := usage.ParseKind(u.kind); err != nil {
			return object.Errorf("use: %v", err)
		}
		c.uses = append(c.uses, u)
		return object.Nil
	})
}

// typeVars returns the type variables visible in d: its own plus those of
// every enclosing class, unless a class on the way is static.
func (c *collector) typeVars(d *declCall) (map[string]bool, error) {
	tvars := make(map[string]bool)
	for cur := d; cur != nil; cur = c.byPath[cur.owner] {
		for _, text := range cur.typeParams {
			tp, err := parseTypeParam(text)
			if err != nil {
				return nil, err
			}
			tvars[tp.name] = true
		}
		if cur != d && cur.modifiers.Has(model.Static) {
			break
		}
	}
	return tvars, nil
}

// finish resolves every recorded call into records.
func (c *collector) finish() (*unit.Records, error) {
	r := newResolver(c.pkg, c.imports, c.local)
	recs := &unit.Records{
		Declarations: []model.DeclarationRecord{},
		Usages:       []usage.Record{},
	}
	addUses := func(user string, t *typeExpr, tvars map[string]bool, kind usage.Kind) {
		for _, ref := range r.classRefs(t, tvars) {
			k := usage.TypeRef
			if ref.top {
				k = kind
			}
			recs.Usages = append(recs.Usages, usage.Record{User: user, Used: ref.name, Kind: k.String()})
		}
	}

	for _, d := range c.decls {
		tvars, err := c.typeVars(d)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.path, err)
		}
		rec := model.DeclarationRecord{
			Kind:      d.kind,
			Owner:     d.owner,
			Name:      d.name,
			Modifiers: d.modifiers.String(),
		}

		var tparams strings.Builder
		if len(d.typeParams) > 0 {
			tparams.WriteByte('<')
			for _, text := range d.typeParams {
				tp, err := parseTypeParam(text)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", d.path, err)
				}
				tparams.WriteString(tp.name)
				for _, b := range tp.bounds {
					tparams.WriteByte(':')
					tparams.WriteString(r.descriptor(b, tvars))
					addUses(d.path, b, tvars, usage.TypeRef)
				}
				if len(tp.bounds) == 0 {
					tparams.WriteString(":Ljava/lang/Object;")
				}
			}
			tparams.WriteByte('>')
		}

		parse := func(text string) (*typeExpr, error) {
			t, err := parseTypeText(text)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", d.path, err)
			}
			return t, nil
		}

		switch k, _ := model.ParseDeclKind(d.kind); k {
		case model.DeclClass:
			var sig strings.Builder
			sig.WriteString(tparams.String())
			for _, group := range []struct {
				texts []string
				kind  usage.Kind
			}{{d.extends, usage.Extends}, {d.implements, usage.Implements}} {
				for _, text := range group.texts {
					t, err := parse(text)
					if err != nil {
						return nil, err
					}
					sig.WriteString(r.descriptor(t, tvars))
					addUses(d.path, t, tvars, group.kind)
				}
			}
			rec.Signature = sig.String()
		case model.DeclMethod:
			var sig strings.Builder
			sig.WriteString(tparams.String())
			sig.WriteByte('(')
			for _, text := range d.params {
				t, err := parse(text)
				if err != nil {
					return nil, err
				}
				sig.WriteString(r.descriptor(t, tvars))
				addUses(d.path, t, tvars, usage.TypeRef)
			}
			sig.WriteByte(')')
			ret := "void"
			if d.returns != "" {
				ret = d.returns
			}
			t, err := parse(ret)
			if err != nil {
				return nil, err
			}
			sig.WriteString(r.descriptor(t, tvars))
			addUses(d.path, t, tvars, usage.TypeRef)
			rec.Signature = sig.String()
		case model.DeclField:
			text := d.typ
			if text == "" && d.kind == "enum_constant" {
				text = d.owner
			}
			if text != "" {
				t, err := parse(text)
				if err != nil {
					return nil, err
				}
				rec.Type = r.descriptor(t, tvars)
				addUses(d.path, t, tvars, usage.TypeRef)
			}
		}
		recs.Declarations = append(recs.Declarations, rec)
	}

	for _, u := range c.uses {
		t, err := parseTypeText(u.used)
		if err != nil {
			return nil, fmt.Errorf("use by %s: %w", u.user, err)
		}
		kind, _ := usage.ParseKind(u.kind)
		tvars, err := c.typeVars(c.byPath[u.user])
		if err != nil {
			return nil, err
		}
		addUses(u.user, t, tvars, kind)
	}
	return recs, nil
}

// --- Map extraction helpers ---

func extractMap(obj object.Object) (map[string]object.Object, error) {
	m, ok := obj.(*object.Map)
	if !ok {
		return nil, fmt.Errorf("expected map, got %s", obj.Type())
	}
	return m.Value(), nil
}

func getString(m map[string]object.Object, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	if s, ok := v.(*object.String); ok {
		return s.Value()
	}
	return ""
}

func getStringList(m map[string]object.Object, key string) []string {
	v, ok := m[key]
	if !ok {
		return nil
	}
	l, ok := v.(*object.List)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range l.Value() {
		if s, ok := item.(*object.String); ok && strings.TrimSpace(s.Value()) != "" {
			out = append(out, s.Value())
		}
	}
	return out
}

func getBool(m map[string]object.Object, key string) bool {
	v, ok := m[key]
	if !ok {
		return false
	}
	if b, ok := v.(*object.Bool); ok {
		return b.Value()
	}
	return false
}
