/*
Package authz holds BerthCare's authorization predicates.

Three predicate families compose per-operation policy:

  - Role predicates: the operation is open to a fixed role set.
  - Zone predicates: the target entity's zone must match the principal's
    zone; admins bypass.
  - Caregiver ownership: visits are readable by their assigned caregiver
    only, with coordinators and admins falling back to zone matching.

Predicates are plain functions over the principal, deliberately free of I/O,
and they run after cache lookups as well as before database reads: a cache
hit that the principal may not see is treated exactly like a denied read.
Roles are a string enum, not a hierarchy; there is no inheritance to reason
about.
*/
package authz
