/*
Package storage is BerthCare's Postgres layer.

One shared pool (pgx via database/sql, sqlx for struct scanning) is built at
boot and handed to per-entity stores: users, refresh tokens, clients with
care plans, visits with documentation and photos, zones, and alert/delivery
records. Per-request work borrows a connection for a single query or a
transaction and returns it.

# Concurrency discipline

No distributed locks. Hazards are handled at the row:

  - Visit status transitions run as UPDATE ... WHERE status IN (legal
    predecessors); zero rows affected surfaces as ErrConflict, which the
    visit service maps to INVALID_TRANSITION.
  - One refresh token per (user, device) is an INSERT ... ON CONFLICT DO
    UPDATE, so replacement is atomic.
  - Duplicate heuristics (client identity, non-deleted email) are partial or
    expression unique indexes; violations surface as ErrConflict.

# Dynamic SQL

PATCH endpoints build dynamic UPDATEs from a column whitelist with $N
placeholders. Column names never come from input; values are always bound.

# Migrations

Numbered goose SQL files under migrations/ with paired Down sections, applied
in order inside transactions by `berthcare migrate`. JSONB columns carry
vital signs, activity checklists, medication/allergy lists, and audit diffs,
with GIN indexes for containment queries.
*/
package storage
