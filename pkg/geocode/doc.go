/*
Package geocode resolves client addresses to coordinates and service zones.

Address resolution goes through an external geocoding API with a 24-hour
Redis cache in front; results outside the Canadian service area are rejected
before any client row is written. Zone assignment is a nearest-center scan
over the zones table using great-circle distance, with the table cached for
an hour since it only changes through operations tooling.

Geocoding failures never roll back an otherwise valid mutation at the
service layer: callers decide whether coordinates are required or advisory.
*/
package geocode
