package model

import (
	"strings"
	"unicode"
)

// Modifiers is a declaration's modifier bitset. Bit values follow the JVM
// access flags so records produced from class files need no translation.
type Modifiers uint32

const (
	Public       Modifiers = 0x0001
	Private      Modifiers = 0x0002
	Protected    Modifiers = 0x0004
	Static       Modifiers = 0x0008
	Final        Modifiers = 0x0010
	Synchronized Modifiers = 0x0020
	Volatile     Modifiers = 0x0040
	Transient    Modifiers = 0x0080
	Native       Modifiers = 0x0100
	Interface    Modifiers = 0x0200
	Abstract     Modifiers = 0x0400
	Strict       Modifiers = 0x0800
	Annotation   Modifiers = 0x2000
	Enum         Modifiers = 0x4000
)

// VisibilityMask selects the explicit visibility bits. A declaration with
// none of them set is package-local.
const VisibilityMask = Public | Private | Protected

var modifierWords = map[string]Modifiers{
	"public":       Public,
	"private":      Private,
	"protected":    Protected,
	"static":       Static,
	"final":        Final,
	"synchronized": Synchronized,
	"volatile":     Volatile,
	"transient":    Transient,
	"native":       Native,
	"interface":    Interface,
	"abstract":     Abstract,
	"strictfp":     Strict,
	"enum":         Enum,
}

// modifierOrder is the canonical rendering order used by String.
var modifierOrder = []struct {
	flag Modifiers
	word string
}{
	{Public, "public"},
	{Protected, "protected"},
	{Private, "private"},
	{Abstract, "abstract"},
	{Static, "static"},
	{Final, "final"},
	{Transient, "transient"},
	{Volatile, "volatile"},
	{Synchronized, "synchronized"},
	{Native, "native"},
	{Strict, "strictfp"},
	{Interface, "interface"},
	{Annotation, "@interface"},
	{Enum, "enum"},
}

// ParseModifiers converts Java modifier keywords (as they appear in source,
// e.g. "@Deprecated public static final") to a bitset. Annotations and
// their arguments are skipped, unknown words are ignored.
func ParseModifiers(text string) Modifiers {
	var (
		m     Modifiers
		depth int
		cur   strings.Builder
	)
	flush := func() {
		w := cur.String()
		cur.Reset()
		if w == "@interface" {
			m |= Annotation | Interface
			return
		}
		if w == "" || strings.HasPrefix(w, "@") {
			return
		}
		m |= modifierWords[w]
	}
	for _, r := range text {
		switch {
		case r == '(':
			depth++
		case r == ')':
			if depth > 0 {
				depth--
			}
		case depth > 0:
		case unicode.IsSpace(r):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return m
}

// Has reports whether every bit of f is set.
func (m Modifiers) Has(f Modifiers) bool { return m&f == f }

// Visibility returns only the explicit visibility bits.
func (m Modifiers) Visibility() Modifiers { return m & VisibilityMask }

// IsPackageLocal reports whether no explicit visibility modifier is set.
func (m Modifiers) IsPackageLocal() bool { return m&VisibilityMask == 0 }

// VisibilityRank orders visibilities from most to least restrictive:
// private 0, package-local 1, protected 2, public 3.
func (m Modifiers) VisibilityRank() int {
	switch {
	case m&Public != 0:
		return 3
	case m&Protected != 0:
		return 2
	case m&Private != 0:
		return 0
	default:
		return 1
	}
}

func (m Modifiers) String() string {
	var words []string
	for _, o := range modifierOrder {
		if m&o.flag != 0 {
			words = append(words, o.word)
		}
	}
	if len(words) == 0 {
		return "package-local"
	}
	return strings.Join(words, " ")
}
