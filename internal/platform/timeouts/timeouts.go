// Package timeouts defines shared timeout constants used across the engine.
// Centralizing these values prevents drift between components and makes the
// durations discoverable.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing a gRPC peer.
const GRPCDial = 2 * time.Second

// Shutdown limits how long the server waits for in-flight work during
// graceful shutdown.
const Shutdown = 5 * time.Second

// LeaseSweep is the cadence of the recovery sweep that re-resolves claims
// whose lease elapsed while no timer was armed (process restart) or that
// were left in the releasing state.
const LeaseSweep = 5 * time.Second

// ReleasingGrace is how long a claim may sit in the releasing state before
// the recovery sweep re-resolves it.
const ReleasingGrace = 30 * time.Second

// SettlementRetryMax bounds the exponential backoff retry loop for
// settlement writes against a transiently unavailable store.
const SettlementRetryMax = 30 * time.Second
