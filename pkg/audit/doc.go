/*
Package audit persists the append-only audit trail.

Every mutating operation records who did what to which object, with a
field-level {old, new} diff, the request ID, and the source IP. Entries are
also mirrored to the structured log so operators can follow changes without
a database session. Rows reference object IDs without foreign keys and are
never updated or deleted; they outlive the objects they describe.
*/
package audit
