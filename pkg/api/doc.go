/*
Package api is the HTTP surface of the BerthCare server.

Two listeners: the public one carries /v1 and /health, the internal one
/metrics and /health for scrapers and probes. Every /v1 request passes the
same chain: request ID, real IP, structured completion logging, panic
recovery, CORS, a body-size ceiling, then bearer authentication and the
per-endpoint rate limit.

Responses use one envelope: {"data": ...} on success, {"error": {code,
message, details?, timestamp, requestId}} on failure. respondError is the
only translator from typed service errors to HTTP statuses; handlers never
set error statuses themselves.

Twilio webhooks live under /v1/webhooks and authenticate by request
signature instead of JWT; everything else under /v1 except auth entry points
requires a valid, non-blacklisted access token.
*/
package api
