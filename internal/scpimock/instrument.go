package scpimock

import (
	"strconv"
	"strings"
)

// Power-on state.
const (
	defaultVoltage   = 0.0
	defaultFrequency = 1000.0
)

// SCPI error queue entries.
const (
	errUndefinedHeader  = `-113,"Undefined header"`
	errDataType         = `-104,"Data type error"`
	errMissingParameter = `-109,"Missing parameter"`
	errNoError          = `+0,"No error"`
)

// handlerFunc executes one command against the shared state and returns the
// reply plus whether one should be sent. Set-style commands stay silent.
type handlerFunc func(s *Server, arg string) (string, bool)

// handlers maps normalized command headers to implementations. Long and
// short mnemonic forms are registered separately.
var handlers = map[string]handlerFunc{
	"*IDN?": identify,
	"*RST":  resetState,
	"*CLS":  clearErrors,
	"*OPC?": operationComplete,

	"SYST:ERR?":     systemError,
	"SYSTEM:ERROR?": systemError,

	"VOLT":     setVoltage,
	"VOLTAGE":  setVoltage,
	"VOLT?":    voltageQuery,
	"VOLTAGE?": voltageQuery,

	"FREQ":       setFrequency,
	"FREQUENCY":  setFrequency,
	"FREQ?":      frequencyQuery,
	"FREQUENCY?": frequencyQuery,
}

// execute parses one command line and runs its handler. An unknown header
// queues a SCPI error and produces no reply, so a misdirected query times
// out the way a real instrument would let it.
func (s *Server) execute(line string) (string, bool) {
	head, arg := splitCommand(line)
	handler, ok := handlers[head]
	if !ok {
		s.pushError(errUndefinedHeader)
		return "", false
	}
	return handler(s, arg)
}

// splitCommand normalizes "[:]<Header>[<Space><Argument>...]" into an upper
// case header and its raw argument text.
func splitCommand(line string) (string, string) {
	head, arg, _ := strings.Cut(line, " ")
	head = strings.ToUpper(strings.TrimPrefix(head, ":"))
	return head, strings.TrimSpace(arg)
}

func identify(s *Server, _ string) (string, bool) {
	return s.identity.String(), true
}

func resetState(s *Server, _ string) (string, bool) {
	s.reset()
	return "", false
}

func clearErrors(s *Server, _ string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errQueue = nil
	return "", false
}

func operationComplete(s *Server, _ string) (string, bool) {
	return "1", true
}

func systemError(s *Server, _ string) (string, bool) {
	return s.popError(), true
}

func setVoltage(s *Server, arg string) (string, bool) {
	if v, ok := s.parseNumber(arg); ok {
		s.mu.Lock()
		s.voltage = v
		s.mu.Unlock()
	}
	return "", false
}

func voltageQuery(s *Server, _ string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return formatNumber(s.voltage), true
}

func setFrequency(s *Server, arg string) (string, bool) {
	if f, ok := s.parseNumber(arg); ok {
		s.mu.Lock()
		s.frequency = f
		s.mu.Unlock()
	}
	return "", false
}

func frequencyQuery(s *Server, _ string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return formatNumber(s.frequency), true
}

// reset restores power-on settings. The error queue survives, as it does on
// real instruments.
func (s *Server) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voltage = defaultVoltage
	s.frequency = defaultFrequency
}

// parseNumber validates a numeric argument, queueing the appropriate SCPI
// error when it is missing or malformed.
func (s *Server) parseNumber(arg string) (float64, bool) {
	if arg == "" {
		s.pushError(errMissingParameter)
		return 0, false
	}
	v, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		s.pushError(errDataType)
		return 0, false
	}
	return v, true
}

func (s *Server) pushError(entry string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errQueue = append(s.errQueue, entry)
}

// popError dequeues the oldest error, or the no-error sentinel.
func (s *Server) popError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errQueue) == 0 {
		return errNoError
	}
	head := s.errQueue[0]
	s.errQueue = s.errQueue[1:]
	return head
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'G', -1, 64)
}
