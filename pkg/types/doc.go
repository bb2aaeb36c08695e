/*
Package types defines the core data structures shared across BerthCare.

All domain entities live here: users, refresh tokens, clients, care plans,
visits with their documentation and photos, audit entries, zones, and the
alert/delivery records used by the notification gateway. Entities are
identified by UUIDs and timestamped in UTC. Role and status enums are string
types with validation helpers so they serialize cleanly to JSON and Postgres.

# Visit lifecycle

Visit statuses form a DAG with no cycles:

	scheduled ──▶ in_progress ──▶ completed
	     │              │
	     └──────────────┴───▶ cancelled

VisitStatus.CanTransition guards service-level checks, and
VisitStatus.Predecessors feeds the conditional UPDATE that enforces the same
rule at the database row, so concurrent writers cannot regress a visit.

# JSONB columns

Semi-structured fields (vital signs, activity checklists, medication and
allergy lists, audit diffs) are typed slices/maps implementing driver.Valuer
and sql.Scanner, stored as JSONB. Nil values marshal as empty containers so
rows never carry SQL NULL where the application expects a collection.

# Principal

Principal is the authenticated identity materialized by the auth middleware
on every request: user ID, role, zone, email, and the device the session is
bound to. Handlers read it from the request context and never parse tokens
themselves.
*/
package types
