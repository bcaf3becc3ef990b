// Package oltpcore is the transactional indexing core of an in-memory OLTP
// engine: ordered and unordered associative containers that participate in
// an optimistic, multi-version software transactional memory protocol, with
// epoch-based deferred reclamation for memory safety under concurrent
// readers.
//
// Durability, networked replication, and query planning are explicitly out
// of scope; this package is an in-process, in-memory transactional
// key-value layer. Concrete containers live in index/unordered and
// index/ordered; the commit protocol lives in txn; version words live in
// version; deferred reclamation lives in epoch.
package oltpcore
