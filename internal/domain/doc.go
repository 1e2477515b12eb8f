// Package domain holds the shared model types, store contracts, and sentinel
// errors used across the voting and comment engines. It has no dependencies on
// concrete storage or transport.
package domain
