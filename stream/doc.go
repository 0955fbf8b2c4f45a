// Package stream runs the real-time pipeline of one streaming session:
// capture -> encode -> send, plus the liveness monitor that watches the
// server's timing datagrams and the supervisor that brings the pieces up
// and tears them down.
//
// A session owns four goroutines: the merged capture-encode stage, the
// send stage, the liveness monitor and the owner's supervision loop.
// The URTP container ring is the only mutable state shared between
// encoder and sender; the connection flags are atomics. Every stage
// polls a stop signal at each loop turn and every timed wait is bounded,
// so shutdown latency stays within a couple of seconds.
package stream
