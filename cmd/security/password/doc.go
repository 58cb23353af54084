// Package password hashes and verifies dev-server account passwords with
// Argon2id in the PHC string format:
//
//	$argon2id$v=19$m=<KiB>,t=<iterations>,p=<parallelism>$<salt>$<key>
//
// Encoded hashes are untrusted input; Verify refuses parameters far beyond
// the configured cost.
package password
