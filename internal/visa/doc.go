// Package visa implements the resource model for instrument communication.
//
// A resource is named by a VISA-style address string such as
// "ASRL/dev/ttyUSB0::INSTR" or "TCPIP0::192.168.1.5::5025::SOCKET". The
// Manager resolves an address to an open Instrument through a per-class
// transport registry and merges discovery sources into a single address list.
//
// Transport faults are normalized into a small taxonomy (connectivity,
// timeout, protocol) so callers can decide fatality with errors.Is without
// inspecting driver-specific error strings.
package visa
