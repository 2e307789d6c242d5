// Package cache allows clients to resume authenticated sessions with the vendor API across
// process invocations.
//
// Logging in costs one or two round-trips and, for some protocol generations, a key exchange.
// Using a [Store] allows the client to skip that on subsequent runs. If the stored record is
// outdated (e.g., because the vendor expired the session server-side), then the first request sent
// by the client will fail with a session-expiry status, and the client will log in again and
// overwrite the record. Therefore clients typically benefit from using a store and do not incur a
// penalty if the cached information is outdated.
//
// Records are keyed by [KeyFor] applied to the username. A [FileStore] may be shared by several
// processes. It does not provide mutual exclusion: concurrent logins for the same user race, and
// the last writer wins. Callers must re-validate completeness of whatever they load.
//
// Records contain bearer credentials. A FileStore writes them with mode 0600; a [KeyringStore]
// delegates access control to the operating system keyring.
package cache
