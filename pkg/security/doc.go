/*
Package security handles password hashing and JWT signing-key management.

# Password hashing

Hasher wraps bcrypt at cost factor 12. Hashing takes on the order of 200ms;
that cost is deliberate and callers are expected to absorb it. Verification
delegates to bcrypt's constant-time comparison and exposes only a boolean,
never which part of the comparison failed.

# Key store

KeySet loads the active RSA signing key plus any prior keys kept for
verification during rotation. Sources are tried in precedence order:

 1. Inline JSON key set (JWT_KEYS_JSON)
 2. PEM pair in the environment (JWT_PRIVATE_KEY / JWT_PUBLIC_KEY, optional
    JWT_KEY_ID)
 3. AWS Secrets Manager (JWT_KEYS_SECRET_ARN), fetched once at init

The process refuses to start if no usable active key is found. After init the
key set is immutable and read lock-free; rotation happens by restarting with
a new active_kid while keeping the old key in the set so outstanding tokens
still verify.
*/
package security
