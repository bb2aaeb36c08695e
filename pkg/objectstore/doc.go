/*
Package objectstore mediates all S3 access through pre-signed URLs.

Clients never hold AWS credentials. An upload is granted as a short-lived
PUT URL for a server-generated key, with the content type baked into the
signature; downloads are short-lived GET URLs. The policy table pins each
artifact class to its size ceiling, allowed content types, key layout, and
URL lifetime:

	photo      10 MiB   jpeg/png/heic   photos/<userId>/<ts>-<uuid>.<ext>        60 min
	signature   1 MiB   png             visits/<visitId>/signatures/<kind>-<ts>  10 min
	document   25 MiB   pdf             documents/<clientId>/<ts>-<uuid>.pdf     60 min

Attachment is two-phase: the client uploads against the granted URL, then
quotes the key back in a commit request. The commit path re-validates the
key shape and ownership prefix and confirms the object exists before any
database row references it.
*/
package objectstore
