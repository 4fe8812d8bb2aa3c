// Package audit implements the append-only command trail.
//
// Every dispatched instrument operation is recorded as one JSON line with a
// correlation ID, the resource address, the command sent, the outcome class,
// and the measured latency. Rotation is size- and age-based. Audit writes
// never fail the command they describe; a write failure degrades to a stderr
// warning.
package audit
