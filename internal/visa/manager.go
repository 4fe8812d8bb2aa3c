package visa

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Opener opens a live connection for a parsed address.
type Opener func(ctx context.Context, addr *Address) (Instrument, error)

// Lister contributes discovered resource addresses to enumeration.
type Lister func(ctx context.Context) ([]string, error)

type namedLister struct {
	name string
	list Lister
}

// Manager resolves resource addresses to transports and enumerates
// discoverable resources.
type Manager struct {
	logger  *zap.Logger
	openers map[ResourceClass]Opener
	listers []namedLister
	static  []string
}

// NewManager creates a resource manager with no transports registered.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:  logger,
		openers: make(map[ResourceClass]Opener),
	}
}

// RegisterOpener installs the transport for a resource class. A later
// registration replaces an earlier one.
func (m *Manager) RegisterOpener(class ResourceClass, open Opener) {
	m.openers[class] = open
}

// RegisterLister adds a discovery source. Sources run in registration order.
func (m *Manager) RegisterLister(name string, list Lister) {
	m.listers = append(m.listers, namedLister{name: name, list: list})
}

// AddStatic declares resources discovery cannot probe for, such as socket
// and GPIB devices. They are listed ahead of discovered resources.
func (m *Manager) AddStatic(addresses ...string) {
	m.static = append(m.static, addresses...)
}

// Open resolves address to its transport and opens a single connection.
// The caller owns the returned Instrument and must close it. Open makes one
// attempt; there are no retries.
func (m *Manager) Open(ctx context.Context, address string) (Instrument, error) {
	parsed, err := ParseAddress(address)
	if err != nil {
		return nil, NewProtocolError("parse", address, err)
	}

	open, ok := m.openers[parsed.Class]
	if !ok {
		return nil, NewProtocolError("open", address,
			fmt.Errorf("no transport for resource class %s", parsed.Class))
	}

	m.logger.Debug("opening resource",
		zap.String("address", address),
		zap.Stringer("class", parsed.Class))

	inst, err := open(ctx, parsed)
	if err != nil {
		return nil, Normalize("open", address, err)
	}
	return inst, nil
}

// List merges static resources with every discovery source, first occurrence
// wins. A failing source contributes nothing and logs a warning. An empty
// result is not an error at this layer.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(addr string) {
		if _, dup := seen[addr]; dup {
			return
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}

	for _, addr := range m.static {
		add(addr)
	}
	for _, source := range m.listers {
		addrs, err := source.list(ctx)
		if err != nil {
			m.logger.Warn("discovery source failed",
				zap.String("source", source.name),
				zap.Error(err))
			continue
		}
		for _, addr := range addrs {
			add(addr)
		}
	}
	return out, nil
}
