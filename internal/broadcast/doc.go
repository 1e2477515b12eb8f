// Package broadcast implements the WebSocket broadcaster using the actor pattern.
//
// The Broadcaster receives merged projection updates pushed by the reconciler and fans them out to connected clients.
// Uses single goroutine + command channel (no mutexes). Per-connection write goroutines handle slow clients gracefully.
package broadcast
