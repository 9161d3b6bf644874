// Package queryir is the backend-neutral query plan for data sources.
//
// A plan (Builder) is a set of aliased containers (tables, views or
// collections), join conditions owned by the joined containers, filter
// conditions, declared parameters, field exclusions, sort terms and
// aggregations. Exactly one container carries the main operation and is the
// root of the plan.
//
// ARCHITECTURE:
//
//	[definitions / auto-built plans] -> [Builder] -> Normalize -> [querysql]
//	                                                           -> [querydoc]
//
// Plans are built in any order and validated as a whole by Normalize, which
// moves the root first, orders joins by their references and rejects
// inconsistent plans with configuration errors. Renderers only accept
// normalized plans.
//
// CONDITION GROUPING:
//
// Conditions form a flat list. Begin opens a group before the next
// condition, End closes one after the last condition, and Or joins the next
// condition by OR instead of AND. BuildTree parses the list into a sealed
// Predicate tree (Leaf, And, Or, Group) with AND binding tighter than OR:
//
//	b.Where("o", "status", Eq, "open")
//	b.Begin().Or().Where("o", "total", Gt, 100)
//	b.Or().Where("o", "rush", Eq, true)
//	b.End()
//
// becomes
//
//	status = 'open' OR (total > 100 OR rush = true)
//
// Constants are kept as ir.Value so plans can be fingerprinted; renderers
// turn them into generated parameters rather than inlining them.
package queryir
