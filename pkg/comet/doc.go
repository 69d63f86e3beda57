// Package comet provides a persistent-connection RPC client for the comet
// gateway.
//
// A Session multiplexes concurrent request/response exchanges and
// server-pushed notifications over one websocket. Requests are correlated to
// replies by sequence id; the connection is established lazily on first use
// and shared by every caller.
package comet
