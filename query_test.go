package sprout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery_UsersAndUses(t *testing.T) {
	r := newFakeReader()
	r.set("A", []DeclarationRecord{class("Foo", "public"), method("Foo", "f(0)", "public", "()V")})
	r.set("B", []DeclarationRecord{
		class("Bar", "public"),
		method("Bar", "g(0)", "", "()V"),
	}, use("Bar.g(0)", "Foo", "type"), use("Bar.g(0)", "Foo", "call"), use("Bar.g(0)", "Foo.f(0)", "call"), use("Bar", "Foo", "extends"))
	e := newTestEngine(t, r)
	round(t, e, "A", "B")

	q := e.Query()
	users := q.UsersOf("Foo")
	require.Len(t, users, 2)
	assert.Equal(t, Use{User: "Bar", Used: "Foo", Unit: "B", Kinds: []string{"extends"}}, users[0])
	assert.Equal(t, Use{User: "Bar.g(0)", Used: "Foo", Unit: "B", Kinds: []string{"type", "call"}}, users[1])

	uses := q.UsesOf("Bar.g(0)")
	require.Len(t, uses, 2)
	assert.Equal(t, "Foo", uses[0].Used)
	assert.Equal(t, "Foo.f(0)", uses[1].Used)

	assert.Nil(t, q.UsersOf("Nope"))
	assert.Nil(t, q.UsesOf("Nope"))
}

func TestQuery_DeclarationsAndUnits(t *testing.T) {
	_, e := seedFooBar(t)

	q := e.Query()
	decls := q.DeclarationsOf("B")
	require.Len(t, decls, 2)
	assert.Equal(t, "Bar", decls[0].Name)
	assert.Equal(t, "bar(0)", decls[1].Name)
	assert.Equal(t, "Bar", decls[1].Owner)
	assert.Equal(t, "()V", decls[1].Signature)

	d, ok := q.Declaration("Foo")
	require.True(t, ok)
	assert.Equal(t, "class", d.Kind)
	assert.Equal(t, "public", d.Modifiers)

	u, ok := q.UnitOf("Bar.bar(0)")
	require.True(t, ok)
	assert.Equal(t, "B", u)
	_, ok = q.UnitOf("Missing")
	assert.False(t, ok)

	units := q.Units()
	require.Len(t, units, 2)
	assert.Equal(t, "A", units[0].ID)
	assert.Equal(t, 1, units[0].Declarations)
	assert.NotEmpty(t, units[0].Hash)
}

func TestQuery_ViewIsStableAcrossRounds(t *testing.T) {
	r, e := seedFooBar(t)
	before := e.Query()

	r.set("A", []DeclarationRecord{class("Foo", "")})
	round(t, e, "A")

	d, ok := before.Declaration("Foo")
	require.True(t, ok)
	assert.Equal(t, "public", d.Modifiers)

	d, ok = e.Query().Declaration("Foo")
	require.True(t, ok)
	assert.Empty(t, d.Modifiers)
}
