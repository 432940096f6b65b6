// Package sprout decides, after a set of compiled units changed, which other
// units must be recompiled. It keeps a dependency graph of declarations and
// usage edges between rounds and propagates only the changes dependents can
// observe.
//
// # Pipeline
//
// Each [Engine.Round] runs four phases against the graph committed by the
// previous round:
//
//  1. Scan: read every changed unit through a [Reader] on a bounded worker
//     pool. Units whose fingerprint is unchanged are skipped.
//
//  2. Diff: compare each entity's new declaration with its committed one.
//     Removals, signature and type changes, narrowing to package-local and
//     any access change that is not a pure widening seed propagation.
//
//  3. Propagate: walk the reverse usage index from the seeds with a
//     worklist and a visited set. Units of every user are affected; users
//     that extend or implement a changed type carry the change on to their
//     own users.
//
//  4. Commit: stage the new declarations and usage clusters in one store
//     transaction and commit it atomically.
//
// If anything goes wrong the graph is discarded and the round reports
// RequiresFullRebuild. The engine never reports fewer affected units than a
// correct analysis would.
//
// # Usage
//
//	rt := runtime.NewRuntime("", runtime.WithRuntimeFS(scripts.FS))
//	reader := runtime.NewScriptReader(rt, "path/to/project")
//
//	e, err := sprout.New("sprout.db", reader, sprout.WithUnitLister(reader.ListUnits))
//	if err != nil { ... }
//	defer e.Close()
//
//	res, err := e.Round(ctx, []string{"src/com/example/Foo.java"})
//	for _, u := range res.Affected { ... }
//
// # Query API
//
// [Engine.Query] returns a read-only view of the last committed graph:
// [QueryBuilder.UsersOf], [QueryBuilder.UsesOf], [QueryBuilder.DeclarationsOf],
// [QueryBuilder.Declaration], [QueryBuilder.UnitOf] and [QueryBuilder.Units].
package sprout
