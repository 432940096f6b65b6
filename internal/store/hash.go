package store

import (
	"cmp"
	"crypto/sha256"
	"fmt"
	"slices"

	"github.com/jward/sprout/internal/model"
	"github.com/jward/sprout/internal/unit"
	"github.com/jward/sprout/internal/usage"
)

// RecordsDigest computes a deterministic hash of everything a reader
// produced for one unit. Record order does not affect the digest, so two
// reads that differ only in traversal order hash the same.
func RecordsDigest(recs *unit.Records) string {
	h := sha256.New()
	if recs == nil {
		return fmt.Sprintf("%x", h.Sum(nil))
	}

	decls := slices.Clone(recs.Declarations)
	slices.SortFunc(decls, func(a, b model.DeclarationRecord) int {
		return cmp.Or(
			cmp.Compare(a.Owner, b.Owner),
			cmp.Compare(a.Name, b.Name),
			cmp.Compare(a.Kind, b.Kind),
			cmp.Compare(a.Signature, b.Signature),
		)
	})
	for _, d := range decls {
		// Modifiers are normalized so keyword order does not matter.
		fmt.Fprintf(h, "decl:%s:%s:%s:%d:%s:%s\n",
			d.Kind, d.Owner, d.Name, uint32(model.ParseModifiers(d.Modifiers)), d.Signature, d.Type)
	}

	uses := slices.Clone(recs.Usages)
	slices.SortFunc(uses, func(a, b usage.Record) int {
		return cmp.Or(
			cmp.Compare(a.User, b.User),
			cmp.Compare(a.Used, b.Used),
			cmp.Compare(a.Kind, b.Kind),
		)
	})
	for _, u := range uses {
		fmt.Fprintf(h, "use:%s:%s:%s\n", u.User, u.Used, u.Kind)
	}

	return fmt.Sprintf("%x", h.Sum(nil))
}
