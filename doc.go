// Package identity provides a user credential store with soft deletes,
// claims and profile resolution, and token-based authentication services.
//
// Credential store:
//   - Users carry contact records (email, phone) with idempotent
//     confirmation, a claim list, linked external provider logins, and a
//     lockout window driven by failed login attempts. Records are persisted
//     via Bun with soft deletes; a deleted account is invisible to every
//     lookup but its row survives so callers can tell deleted from
//     never-existed.
//   - Updates are guarded full replaces: a concurrent delete or stale id
//     surfaces as an update conflict instead of silently resurrecting data.
//
// Authentication:
//   - Authenticator runs the local password flow (failed attempts feed the
//     lockout policy; a locked account fails exactly like a wrong password),
//     reconciles external provider sign-ins into local accounts, and
//     answers the security-stamp is-active check used to invalidate issued
//     tokens after credential changes.
//
// Claims and tokens:
//   - ProfileResolver builds an ordered, capability-gated claim set for a
//     subject. TokenService signs and validates JWTs carrying those claims
//     plus granted scopes; the jwtware middleware gates routes on scopes,
//     refusing insufficient tokens with an empty 403.
package identity
