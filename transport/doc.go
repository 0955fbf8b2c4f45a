// Package transport owns the reliable byte stream to the streaming
// server: address resolution (DNS, or mDNS service browsing on the LAN),
// socket conditioning for low-latency sends, deadline-bounded writes and
// the classification of socket errors that mark a connection as beyond
// recovery.
//
// The connection is owned by the session supervisor; the send stage and
// the liveness monitor borrow it. Closing it makes their pending reads
// and writes fail promptly.
package transport
