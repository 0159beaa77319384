// Package mmdb implements a read-only reader for the self-describing
// binary geolocation database format this service downloads from its
// vendor.
//
// A database file has 3 regions. First goes a binary search tree keyed
// by IP address bits, then, after a 16-byte separator, a data section
// with encoded records, and finally a metadata block introduced by a
// well-known marker.
//
// Values in the data section are prefixed with a control byte which
// carries a type tag and a length. Nested records share storage via
// format-level pointers, so the same city name is stored only once no
// matter how many networks resolve to it.
//
// Reader never mutates its buffer and has no internal locking: it is
// safe for any number of concurrent lookups.
package mmdb
