// Package auth provides authentication and authorisation for Gray Logic Access.
//
// It implements a two-role model (user, admin) with:
//   - Argon2id password hashing
//   - Short-lived HS256 JWT access tokens carrying role and username
//   - Static role-permission mapping (compile-time, no database lookup)
//   - A first-boot admin account with a random one-time password
//
// Household members (user) can read door history, report their own card
// lost, read alerts and register push tokens. Admins additionally manage
// the PIN, enrollment, cards, users and door commands.
package auth
