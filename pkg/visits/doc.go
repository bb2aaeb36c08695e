/*
Package visits implements the visit lifecycle.

A visit is created at check-in, already in progress, together with its
documentation row. Smart copy seeds the new documentation from a previous
visit of the same client, with completion flags and timestamps reset and
vital signs always recorded fresh. Documentation updates merge per field,
last write wins, with the touched sections audited but never their clinical
content.

Status changes ride a conditional UPDATE whose WHERE clause lists the legal
predecessor states, so concurrent transitions race safely: exactly one
writer wins and the loser gets INVALID_TRANSITION. Check-out derives the
duration from the recorded check-in time and commits the signature captured
during the visit.

Reads are cache-first with the ownership predicate re-run on every hit, and
photo download URLs re-signed per response so the cache never stores a
grant. List cache keys embed the principal scope (own visits, zone, or all).
*/
package visits
