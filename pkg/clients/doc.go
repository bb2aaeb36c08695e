/*
Package clients implements client records and care plans.

Creation runs the duplicate heuristic (case-folded name plus date of birth),
geocodes the address, rejects locations outside the service area, and
assigns the nearest zone when the request does not pin one. Every client row
is created together with an empty version-1 care plan; replacing the plan
bumps its version.

Partial updates carry only the fields present in the request body, with an
explicit JSON null represented by the Null sentinel; an address change
re-geocodes and may move the client between zones, invalidating both zones'
cached lists. Zone-scope failures on reads surface as NOT_FOUND so rows in
other zones are indistinguishable from missing ones.
*/
package clients
