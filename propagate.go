package sprout

import (
	"slices"

	"github.com/jward/sprout/internal/intern"
	"github.com/jward/sprout/internal/store"
)

// propagate walks the reverse usage index from seeds and returns the units
// that must be recompiled. Users are looked up in both the committed and the
// staged clusters, so an edge that disappeared this round still counts.
// Users that extend or implement a processed entity are processed in turn;
// the visited set keeps cycles finite. Deleted units are never reported.
func propagate(tx *store.Transaction, seeds []seed, deleted map[string]bool, stats *RoundStats) map[string]bool {
	affected := make(map[string]bool)
	visited := make(map[intern.Handle]bool)

	work := slices.Clone(seeds)
	for len(work) > 0 {
		cur := work[0]
		work = work[1:]
		if visited[cur.entity] {
			continue
		}
		visited[cur.entity] = true

		symbols := []intern.Handle{cur.entity}
		if cur.owner.IsValid() {
			symbols = append(symbols, cur.owner)
		}
		for _, sym := range symbols {
			users := tx.UsersOf(sym)
			keys := make([]intern.Handle, 0, len(users))
			for u := range users {
				keys = append(keys, u)
			}
			slices.Sort(keys)

			for _, user := range keys {
				for _, u := range tx.UnitsOfUser(user) {
					if !deleted[u] {
						affected[u] = true
					}
				}
				if users[user].Inherits() && !visited[user] {
					work = append(work, seed{entity: user})
				}
			}
		}
	}

	stats.Visited = len(visited)
	return affected
}
