/*
Package config loads BerthCare server configuration.

Configuration is environment-first: every deployment knob is an environment
variable, with an optional YAML file (--config) providing defaults for local
development. A set environment variable always wins over the file.

Load fails fast, reporting every missing required variable for the active
profile in one error, so a misconfigured deploy does not die one variable at
a time. Production requires the full external-service surface (S3, Twilio,
geocoder); development only needs Postgres, Redis, and JWT key material.

External-call timeout budgets are compile-time constants here rather than
configuration: they encode the latency contract of the request pipeline and
are referenced by every outbound client.
*/
package config
