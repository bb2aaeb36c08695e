/*
Package notify dispatches voice and SMS alerts through Twilio and drives the
per-alert escalation chain.

The chain is a small state machine persisted in the alerts table:

	pending -> primary_calling -> primary_no_answer -> sms_sent
	        -> backup_calling -> resolved | failed

Every step advances through a conditional UPDATE keyed on the current state,
so webhook callbacks, escalation ticks, and crashed-and-restarted workers
race without double-dispatching. Each outbound call or SMS writes a delivery
row keyed by an idempotency token before the provider is contacted; a retry
that finds the row already present sends nothing.

An unanswered primary call falls through to SMS after five minutes, the SMS
to the backup coordinator's phone after ten more, and the chain fails when
the backup goes unanswered. Webhook handlers validate X-Twilio-Signature,
update rows, and enqueue any follow-up work onto a bounded worker pool, so
they respond well inside Twilio's timeout.
*/
package notify
