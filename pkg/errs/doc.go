/*
Package errs defines BerthCare's closed error-code set and the typed error
value services return.

Every externally visible failure is an *errs.Error carrying one of the codes
in this package, each with a stable HTTP status. Services never write HTTP
statuses themselves; the API layer calls errs.From on whatever bubbles up and
renders the envelope. Unknown errors collapse to INTERNAL_ERROR with the
cause preserved for logging via Unwrap.

Authentication paths deliberately reuse a single value for distinct causes
(InvalidCredentials, InvalidToken) so responses cannot be used to enumerate
accounts or tokens. The distinguishing detail goes to the structured log, not
the client.
*/
package errs
