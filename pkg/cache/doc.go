/*
Package cache is BerthCare's Redis layer: response caching, the access-token
blacklist, and the per-IP rate limiter, all sharing one multiplexed client.

# Key discipline

Cache keys are principal-scoped. List keys embed the subset they were
computed for (a caregiver's own visits, a zone's clients), so a cached page
can never be served to a principal with a different authorized view of the
same logical query. Detail keys are shared, and every hit is re-authorized
by the calling service before the row leaves the server.

Key families and TTLs:

	client:detail:<id>                                 5 min
	clients:list:zone=<zone|all>:<filters>:<p>:<l>     5 min
	visit:detail:<id>                                  5 min
	visits:list:<scope>:<filters>:<p>:<l>              5 min
	geocode:<address>                                  24 h
	zones:all                                          1 h
	blacklist:<token>                                  remaining token life
	ratelimit:<endpoint>:<ip>                          window length

# Failure semantics

Three different degradations, all deliberate:

  - Data cache: any Redis fault is a miss. Stale data is never preferred
    over a database read.
  - Blacklist: fault skips the check (degraded) with an error logged.
  - Rate limiter: fault admits the request with a warning. The limiter is
    advisory; authentication availability beats throttling.

Invalidation runs after the writing transaction commits, not before, and is
best-effort: failures log and rely on the 5-minute TTLs as a backstop.
*/
package cache
