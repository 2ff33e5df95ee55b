// Package auth provides authentication and authorisation for Open Peer Power.
//
// It implements a 3-tier role model (user → admin → owner) with:
//   - Argon2id password hashing
//   - JWT access tokens bound to a refresh token (the "sid" claim), so
//     revoking the refresh token invalidates every access token minted
//     from it
//   - Refresh token rotation with family-based theft detection
//   - Per-user entity grants for non-admin users (single entities or whole
//     domains, read or read/write)
//   - Failed-login tracking with per-address bans
//
// Admin and owner roles bypass entity scoping entirely. A user with no
// grants can read nothing.
package auth
