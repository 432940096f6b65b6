package runtime

import (
	"fmt"
	"strings"
	"unicode"
)

// typeExpr is a Java type as written in source, before name resolution.
type typeExpr struct {
	name string // dotted name or primitive keyword; empty for wildcards
	args []*typeExpr
	dims int
	// bound is 0 for plain types, '*' for an unbounded wildcard and '+' or
	// '-' for "? extends" and "? super"; the bound type is args[0].
	bound byte
}

var primitiveCodes = map[string]string{
	"byte":    "B",
	"char":    "C",
	"double":  "D",
	"float":   "F",
	"int":     "I",
	"long":    "J",
	"short":   "S",
	"boolean": "Z",
	"void":    "V",
}

// javaLang lists the java.lang types visible without an import.
var javaLang = map[string]bool{
	"AutoCloseable": true, "Boolean": true, "Byte": true, "CharSequence": true,
	"Character": true, "Class": true, "ClassCastException": true, "Cloneable": true,
	"CloneNotSupportedException": true, "Comparable": true, "Deprecated": true,
	"Double": true, "Enum": true, "Error": true, "Exception": true, "Float": true,
	"FunctionalInterface": true, "IllegalArgumentException": true,
	"IllegalStateException": true, "IndexOutOfBoundsException": true,
	"Integer": true, "InterruptedException": true, "Iterable": true, "Long": true,
	"Math": true, "NullPointerException": true, "Number": true, "Object": true,
	"Override": true, "Record": true, "Runnable": true, "RuntimeException": true,
	"SafeVarargs": true, "Short": true, "String": true, "StringBuilder": true,
	"SuppressWarnings": true, "System": true, "Thread": true, "Throwable": true,
	"UnsupportedOperationException": true, "Void": true,
}

// parseTypeText parses a Java type such as "Map<String, List<? extends T>>[]"
// or "int...". Annotations are skipped.
func parseTypeText(text string) (*typeExpr, error) {
	p := &typeParser{src: text}
	t, err := p.parseType()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("type %q: unexpected %q at %d", text, p.src[p.pos:], p.pos)
	}
	return t, nil
}

type typeParser struct {
	src string
	pos int
}

func (p *typeParser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *typeParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || c >= 0x80 ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func (p *typeParser) ident() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) && isIdentByte(p.src[p.pos]) {
		p.pos++
	}
	return p.src[start:p.pos]
}

// skipAnnotations consumes "@Name" and "@Name(...)" prefixes.
func (p *typeParser) skipAnnotations() {
	for p.peek() == '@' {
		p.pos++
		p.ident()
		for p.peek() == '.' {
			p.pos++
			p.ident()
		}
		if p.peek() == '(' {
			depth := 0
			for p.pos < len(p.src) {
				c := p.src[p.pos]
				p.pos++
				if c == '(' {
					depth++
				} else if c == ')' {
					depth--
					if depth == 0 {
						break
					}
				}
			}
		}
	}
}

func (p *typeParser) errorf(format string, args ...any) error {
	return fmt.Errorf("type %q at %d: %s", p.src, p.pos, fmt.Sprintf(format, args...))
}

func (p *typeParser) parseType() (*typeExpr, error) {
	p.skipAnnotations()
	if p.peek() == '?' {
		p.pos++
		t := &typeExpr{bound: '*'}
		save := p.pos
		switch p.ident() {
		case "extends":
			t.bound = '+'
		case "super":
			t.bound = '-'
		default:
			p.pos = save
			return t, nil
		}
		b, err := p.parseType()
		if err != nil {
			return nil, err
		}
		t.args = []*typeExpr{b}
		return t, nil
	}

	t := &typeExpr{}
	for {
		p.skipAnnotations()
		seg := p.ident()
		if seg == "" {
			return nil, p.errorf("expected identifier")
		}
		if t.name == "" {
			t.name = seg
		} else {
			t.name += "." + seg
		}
		if p.peek() == '<' {
			p.pos++
			// Type arguments of an enclosing class are dropped.
			t.args = t.args[:0]
			if p.peek() != '>' {
				for {
					a, err := p.parseType()
					if err != nil {
						return nil, err
					}
					t.args = append(t.args, a)
					if p.peek() != ',' {
						break
					}
					p.pos++
				}
			}
			if p.peek() != '>' {
				return nil, p.errorf("expected '>'")
			}
			p.pos++
		}
		if p.peek() != '.' || strings.HasPrefix(p.src[p.pos:], "...") {
			break
		}
		p.pos++
	}
	if len(t.args) == 0 {
		t.args = nil
	}

	for {
		p.skipAnnotations()
		switch {
		case p.peek() == '[':
			p.pos++
			if p.peek() != ']' {
				return nil, p.errorf("expected ']'")
			}
			p.pos++
			t.dims++
		case strings.HasPrefix(p.src[p.pos:], "..."):
			p.pos += 3
			t.dims++
		default:
			return t, nil
		}
	}
}

// javaImport is one import declaration of a unit.
type javaImport struct {
	name     string
	static   bool
	wildcard bool
}

// resolver maps simple and qualified type names written in a unit to fully
// qualified names. Without a global view of the program a name that only a
// wildcard import could supply is ambiguous; descriptors use the unit's own
// package for it and classRefs reports every candidate.
type resolver struct {
	pkg       string
	single    map[string]string // simple name -> qualified name
	wildcards []string
	local     map[string]string // classes declared in the unit
}

func newResolver(pkg string, imports []javaImport, local map[string]string) *resolver {
	r := &resolver{
		pkg:    pkg,
		single: make(map[string]string),
		local:  local,
	}
	for _, imp := range imports {
		switch {
		case imp.wildcard && !imp.static:
			r.wildcards = append(r.wildcards, imp.name)
		case imp.wildcard:
			// Static wildcard imports bring in members, not types.
		case imp.static:
			// import static a.b.C.m makes C's member visible; C itself is
			// what a use depends on.
			if i := strings.LastIndexByte(imp.name, '.'); i > 0 {
				r.single[imp.name[i+1:]] = imp.name[:i]
			}
		default:
			r.single[lastSegment(imp.name)] = imp.name
		}
	}
	return r
}

func lastSegment(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// qualify resolves a dotted type name. It reports false for a simple
// lowercase name nothing declares, which is a variable rather than a type.
func (r *resolver) qualify(name string) (string, bool) {
	q := r.candidates(name)
	if len(q) == 0 {
		return "", false
	}
	return q[0], true
}

// candidates lists the qualified names name may refer to, most likely
// first.
func (r *resolver) candidates(name string) []string {
	first, rest, dotted := strings.Cut(name, ".")
	join := func(q string) string {
		if dotted {
			return q + "." + rest
		}
		return q
	}
	if q, ok := r.single[first]; ok {
		return []string{join(q)}
	}
	if q, ok := r.local[first]; ok {
		return []string{join(q)}
	}
	if javaLang[first] {
		return []string{join("java.lang." + first)}
	}
	if startsLower(first) {
		if dotted {
			// Already fully qualified.
			return []string{name}
		}
		return nil
	}
	out := []string{join(first)}
	if r.pkg != "" {
		out[0] = join(r.pkg + "." + first)
	}
	for _, w := range r.wildcards {
		out = append(out, join(w+"."+first))
	}
	return out
}

func startsLower(s string) bool {
	return s != "" && unicode.IsLower(rune(s[0]))
}

// descriptor renders t as a type descriptor. tvars holds the type
// variables in scope.
func (r *resolver) descriptor(t *typeExpr, tvars map[string]bool) string {
	var b strings.Builder
	r.writeDescriptor(&b, t, tvars)
	return b.String()
}

func (r *resolver) writeDescriptor(b *strings.Builder, t *typeExpr, tvars map[string]bool) {
	for range t.dims {
		b.WriteByte('[')
	}
	switch t.bound {
	case '*':
		b.WriteByte('*')
		return
	case '+', '-':
		b.WriteByte(t.bound)
		r.writeDescriptor(b, t.args[0], tvars)
		return
	}
	if code, ok := primitiveCodes[t.name]; ok {
		b.WriteString(code)
		return
	}
	if tvars[t.name] {
		b.WriteString("T" + t.name + ";")
		return
	}
	name, ok := r.qualify(t.name)
	if !ok {
		name = t.name
		if r.pkg != "" {
			name = r.pkg + "." + t.name
		}
	}
	b.WriteByte('L')
	b.WriteString(strings.ReplaceAll(name, ".", "/"))
	if len(t.args) > 0 {
		b.WriteByte('<')
		for _, a := range t.args {
			r.writeDescriptor(b, a, tvars)
		}
		b.WriteByte('>')
	}
	b.WriteByte(';')
}

// classRef is a class named somewhere inside a type.
type classRef struct {
	name string
	// top is set for the outermost class; type arguments are not top.
	top bool
}

// classRefs lists the classes t mentions, outermost first. Primitives and
// type variables are skipped.
func (r *resolver) classRefs(t *typeExpr, tvars map[string]bool) []classRef {
	var refs []classRef
	var walk func(t *typeExpr, top bool)
	walk = func(t *typeExpr, top bool) {
		if t.bound != 0 {
			for _, a := range t.args {
				walk(a, false)
			}
			return
		}
		if _, ok := primitiveCodes[t.name]; ok || tvars[t.name] {
			return
		}
		for _, name := range r.candidates(t.name) {
			refs = append(refs, classRef{name: name, top: top})
		}
		for _, a := range t.args {
			walk(a, false)
		}
	}
	walk(t, true)
	return refs
}

// typeParam is one declared type parameter, e.g. "T extends Comparable<T>".
type typeParam struct {
	name   string
	bounds []*typeExpr
}

func parseTypeParam(text string) (typeParam, error) {
	text = strings.TrimSpace(text)
	p := &typeParser{src: text}
	p.skipAnnotations()
	tp := typeParam{name: p.ident()}
	if tp.name == "" {
		return tp, fmt.Errorf("type parameter %q: missing name", text)
	}
	save := p.pos
	if p.ident() != "extends" {
		p.pos = save
		p.skipSpace()
		if p.pos != len(p.src) {
			return tp, fmt.Errorf("type parameter %q: unexpected %q", text, p.src[p.pos:])
		}
		return tp, nil
	}
	for {
		b, err := p.parseType()
		if err != nil {
			return tp, err
		}
		tp.bounds = append(tp.bounds, b)
		if p.peek() != '&' {
			break
		}
		p.pos++
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return tp, fmt.Errorf("type parameter %q: unexpected %q", text, p.src[p.pos:])
	}
	return tp, nil
}
