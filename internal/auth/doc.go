// Package auth is Elevate's identity provider.
//
// It owns user accounts with a three-tier role model (member, staff,
// admin), Argon2id hashing for login passwords and elevation credentials,
// and HS256 JWT access tokens.
//
// The elevation credential is stored apart from the account row in
// elevation_credentials and only ever as a hash. The session service never
// sees it persisted; it asks Provider.VerifyCredential for a yes or no.
package auth
