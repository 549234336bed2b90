// Package descriptorstore is a small bbolt-backed durable counter.
//
// dobbyd hands callers an opaque Descriptor for each started container and
// promises never to reuse one within a daemon lifetime (spec §3). Since the
// daemon can restart while containers it started are still running, the
// counter and the live descriptor→container-id mapping are persisted here
// rather than kept purely in memory.
package descriptorstore
