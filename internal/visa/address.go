package visa

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ResourceClass identifies the transport family of a resource address.
type ResourceClass int

const (
	ClassUnknown ResourceClass = iota
	ClassASRL
	ClassTCPIPInstr
	ClassTCPIPSocket
	ClassGPIB
	ClassUSB
)

func (c ResourceClass) String() string {
	switch c {
	case ClassASRL:
		return "ASRL"
	case ClassTCPIPInstr:
		return "TCPIP INSTR"
	case ClassTCPIPSocket:
		return "TCPIP SOCKET"
	case ClassGPIB:
		return "GPIB"
	case ClassUSB:
		return "USB"
	default:
		return "UNKNOWN"
	}
}

// Address holds the transport-relevant pieces of a parsed resource address.
// Fields outside the address class are left at their zero value.
type Address struct {
	Raw   string
	Class ResourceClass
	Board int

	// ASRL: device path or port name exactly as written, e.g. "/dev/ttyUSB0".
	SerialPort string

	// TCPIP
	Host      string
	Port      int    // SOCKET class
	LANDevice string // INSTR class, defaults to "inst0"

	// GPIB
	PrimaryAddr   int
	SecondaryAddr int // -1 when absent

	// USB
	VendorID     uint16
	ProductID    uint16
	USBSerial    string
	USBInterface int // -1 when absent
}

// ParseAddress parses a VISA-style resource address string. The grammar is
// parsed only far enough to select a transport; everything class-specific
// stays verbatim in the returned Address.
func ParseAddress(raw string) (*Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("empty resource address")
	}

	segs := strings.Split(trimmed, "::")
	head := segs[0]
	upperHead := strings.ToUpper(head)

	switch {
	case strings.HasPrefix(upperHead, "ASRL"):
		return parseASRL(trimmed, head, segs)
	case strings.HasPrefix(upperHead, "TCPIP"):
		return parseTCPIP(trimmed, head, segs)
	case strings.HasPrefix(upperHead, "GPIB"):
		return parseGPIB(trimmed, head, segs)
	case strings.HasPrefix(upperHead, "USB"):
		return parseUSB(trimmed, head, segs)
	}
	return nil, fmt.Errorf("unrecognized resource class in %q", trimmed)
}

// parseASRL handles ASRL<path-or-name>[::INSTR].
func parseASRL(raw, head string, segs []string) (*Address, error) {
	port := head[len("ASRL"):]
	if port == "" {
		return nil, fmt.Errorf("missing serial port in %q", raw)
	}
	if len(segs) > 2 || (len(segs) == 2 && !strings.EqualFold(segs[1], "INSTR")) {
		return nil, fmt.Errorf("malformed ASRL address %q", raw)
	}
	return &Address{
		Raw:           raw,
		Class:         ClassASRL,
		SerialPort:    port,
		SecondaryAddr: -1,
		USBInterface:  -1,
	}, nil
}

// parseTCPIP handles TCPIP[board]::host[::port::SOCKET] and
// TCPIP[board]::host[::device][::INSTR].
func parseTCPIP(raw, head string, segs []string) (*Address, error) {
	board, err := boardNumber(head, "TCPIP")
	if err != nil {
		return nil, fmt.Errorf("malformed TCPIP board in %q: %w", raw, err)
	}
	if len(segs) < 2 || segs[1] == "" {
		return nil, fmt.Errorf("missing host in %q", raw)
	}

	addr := &Address{
		Raw:           raw,
		Board:         board,
		Host:          segs[1],
		LANDevice:     "inst0",
		SecondaryAddr: -1,
		USBInterface:  -1,
	}

	switch len(segs) {
	case 2:
		addr.Class = ClassTCPIPInstr
	case 3:
		switch {
		case strings.EqualFold(segs[2], "INSTR"):
			addr.Class = ClassTCPIPInstr
		case strings.EqualFold(segs[2], "SOCKET"):
			return nil, fmt.Errorf("missing port in %q", raw)
		default:
			addr.Class = ClassTCPIPInstr
			addr.LANDevice = segs[2]
		}
	case 4:
		switch {
		case strings.EqualFold(segs[3], "SOCKET"):
			port, err := strconv.Atoi(segs[2])
			if err != nil || port < 1 || port > 65535 {
				return nil, fmt.Errorf("invalid port %q in %q", segs[2], raw)
			}
			addr.Class = ClassTCPIPSocket
			addr.Port = port
		case strings.EqualFold(segs[3], "INSTR"):
			addr.Class = ClassTCPIPInstr
			addr.LANDevice = segs[2]
		default:
			return nil, fmt.Errorf("malformed TCPIP address %q", raw)
		}
	default:
		return nil, fmt.Errorf("malformed TCPIP address %q", raw)
	}
	return addr, nil
}

// parseGPIB handles GPIB[board]::primary[::secondary][::INSTR].
func parseGPIB(raw, head string, segs []string) (*Address, error) {
	board, err := boardNumber(head, "GPIB")
	if err != nil {
		return nil, fmt.Errorf("malformed GPIB board in %q: %w", raw, err)
	}

	rest := segs[1:]
	if len(rest) > 0 && strings.EqualFold(rest[len(rest)-1], "INSTR") {
		rest = rest[:len(rest)-1]
	}
	if len(rest) < 1 || len(rest) > 2 {
		return nil, fmt.Errorf("malformed GPIB address %q", raw)
	}

	pad, err := strconv.Atoi(rest[0])
	if err != nil || pad < 0 || pad > 30 {
		return nil, fmt.Errorf("invalid GPIB primary address %q in %q", rest[0], raw)
	}

	sad := -1
	if len(rest) == 2 {
		sad, err = strconv.Atoi(rest[1])
		if err != nil || sad < 0 || sad > 126 {
			return nil, fmt.Errorf("invalid GPIB secondary address %q in %q", rest[1], raw)
		}
	}

	return &Address{
		Raw:           raw,
		Class:         ClassGPIB,
		Board:         board,
		PrimaryAddr:   pad,
		SecondaryAddr: sad,
		USBInterface:  -1,
	}, nil
}

// parseUSB handles USB[board]::vid::pid::serial[::interface][::INSTR].
func parseUSB(raw, head string, segs []string) (*Address, error) {
	board, err := boardNumber(head, "USB")
	if err != nil {
		return nil, fmt.Errorf("malformed USB board in %q: %w", raw, err)
	}

	rest := segs[1:]
	if len(rest) > 0 && strings.EqualFold(rest[len(rest)-1], "INSTR") {
		rest = rest[:len(rest)-1]
	}
	if len(rest) < 3 || len(rest) > 4 {
		return nil, fmt.Errorf("malformed USB address %q", raw)
	}

	vid, err := parseUSBID(rest[0])
	if err != nil {
		return nil, fmt.Errorf("invalid USB vendor ID %q in %q", rest[0], raw)
	}
	pid, err := parseUSBID(rest[1])
	if err != nil {
		return nil, fmt.Errorf("invalid USB product ID %q in %q", rest[1], raw)
	}
	if rest[2] == "" {
		return nil, fmt.Errorf("missing USB serial number in %q", raw)
	}

	iface := -1
	if len(rest) == 4 {
		iface, err = strconv.Atoi(rest[3])
		if err != nil || iface < 0 {
			return nil, fmt.Errorf("invalid USB interface number %q in %q", rest[3], raw)
		}
	}

	return &Address{
		Raw:           raw,
		Class:         ClassUSB,
		Board:         board,
		VendorID:      vid,
		ProductID:     pid,
		USBSerial:     rest[2],
		USBInterface:  iface,
		SecondaryAddr: -1,
	}, nil
}

// boardNumber extracts the optional board index following a class prefix.
func boardNumber(head, prefix string) (int, error) {
	digits := head[len(prefix):]
	if digits == "" {
		return 0, nil
	}
	board, err := strconv.Atoi(digits)
	if err != nil || board < 0 {
		return 0, fmt.Errorf("invalid board index %q", digits)
	}
	return board, nil
}

// parseUSBID accepts both "0x04BE" and plain decimal forms.
func parseUSBID(s string) (uint16, error) {
	id, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, err
	}
	return uint16(id), nil
}

// SerialAddress returns the resource address for a serial device path.
func SerialAddress(port string) string {
	return "ASRL" + port + "::INSTR"
}

// USBAddress returns the resource address for a USBTMC device.
func USBAddress(vid, pid uint16, serial string) string {
	return fmt.Sprintf("USB0::0x%04X::0x%04X::%s::INSTR", vid, pid, serial)
}
