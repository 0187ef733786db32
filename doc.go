// Package auth is the credential and session authority for the contacts
// service: it registers accounts, verifies passwords, issues and validates
// signed bearer tokens, and gates admin-only operations.
//
// Token classes:
//   - Access tokens carry {sub: username, exp} and default to 15 minutes.
//   - Email verification tokens carry {sub: email, iat, exp} and live 7 days.
//   - Password reset tokens carry {sub: email, iat, exp} and live 1 hour.
//
// All classes share one signing key and algorithm. They are told apart by the
// claim shape each consumer expects, never by a type tag. Tokens are stateless
// and only ever invalidated by expiry.
//
// Identity resolution:
//   - AuthManager.ResolveCurrentIdentity decodes a bearer token through an
//     IdentityCache and returns a *Principal. Cached entries are bounded by the
//     token's own expiry and are treated as misses once it has passed.
//   - AuthManager.ResolveCurrentAdmin layers the role check on top and returns
//     an *AdminPrincipal, which admin-only commands take as an argument.
//
// Activity sinks:
//   - ActivitySink receives login, registration, confirmation, and password
//     reset events. Sinks run best-effort (errors are logged) so you can forward
//     to a database or queue without blocking authentication.
package auth
