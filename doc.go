// Pinpoint is a service to resolve geolocation data for IP addresses.
//
// It serves lookups from a self-describing binary database which is
// downloaded from the vendor, validated and kept fresh in the
// background. Readers never wait for updates: a new database
// generation is swapped in atomically and the superseded one is
// reclaimed once its last in-flight lookup finishes.
//
// The tool is organized into 3 logical parts:
//
// Mmdb
//
// mmdb parses the database file format: the binary search tree over
// network prefixes and the typed data section behind it. It knows
// nothing about files on disk or updates, it answers lookups over a
// byte buffer.
//
// Geodb
//
// geodb manages database generations: downloading, validation,
// retention on disk and the atomic swap between generations. It also
// hosts the Locator which the HTTP layer queries.
//
// Api
//
// api is the HTTP surface: a health check, a single address lookup
// and a batch endpoint, plus optional host allowlisting and API key
// checks.
package main
