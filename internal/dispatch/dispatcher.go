package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/jakeogh/gpibtool/internal/audit"
	"github.com/jakeogh/gpibtool/internal/config"
	"github.com/jakeogh/gpibtool/internal/scpi"
	"github.com/jakeogh/gpibtool/internal/visa"
)

// Dispatcher routes single instrument commands to the resource layer. Every
// operation opens one connection, uses it once, and closes it; nothing is
// pooled or retried.
type Dispatcher struct {
	provider   ResourceProvider
	timeouts   config.TimeoutsConfig
	exclusions []string

	auditLogger AuditLogger
	logger      *zap.Logger
}

// Compile-time assertion that visa.Manager implements ResourceProvider.
var _ ResourceProvider = (*visa.Manager)(nil)

// New creates a dispatcher over the given resource provider.
func New(provider ResourceProvider, cfg *config.Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		provider:   provider,
		timeouts:   cfg.Timeouts,
		exclusions: append([]string(nil), cfg.Exclusions...),
		logger:     logger,
	}
}

// SetAuditLogger sets the audit logger.
func (d *Dispatcher) SetAuditLogger(logger AuditLogger) {
	d.auditLogger = logger
}

// IDNResult pairs one enumerated address with its identification outcome.
// Err is set only for tolerated timeout failures.
type IDNResult struct {
	Address string
	IDN     string
	Err     error
}

// Open resolves the address and establishes one connection under the dial
// ceiling. The caller owns the handle and must close it; the handle is never
// pooled or reused across operations.
func (d *Dispatcher) Open(ctx context.Context, address string) (visa.Instrument, error) {
	return d.open(ctx, address)
}

// Write sends a command with no expected response.
func (d *Dispatcher) Write(ctx context.Context, address, command string) error {
	start := time.Now()
	ctx = correlated(ctx)

	if scpi.IsQuery(command) {
		d.logger.Warn("query-form command sent as a write, its response will not be read",
			zap.String("address", address),
			zap.String("command", command))
	}

	inst, err := d.open(ctx, address)
	if err != nil {
		d.logAudit(ctx, "write", address, command, resultCode(err), time.Since(start))
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, d.timeouts.Write())
	defer cancel()

	err = closeAfter(inst, visa.Normalize("write", address, inst.Write(opCtx, command)))
	latency := time.Since(start)

	if err != nil {
		d.logAudit(ctx, "write", address, command, resultCode(err), latency)
		return err
	}

	d.logAudit(ctx, "write", address, command, "SUCCESS", latency)
	d.logger.Debug("command written",
		zap.String("address", address),
		zap.String("command", command),
		zap.Duration("latency", latency))
	return nil
}

// Query sends a command and returns the instrument's reply with surrounding
// whitespace removed.
func (d *Dispatcher) Query(ctx context.Context, address, command string) (string, error) {
	return d.query(ctx, "query", address, command)
}

// Identify asks the instrument at address to identify itself. It is exactly
// Query with the standard identification command.
func (d *Dispatcher) Identify(ctx context.Context, address string) (string, error) {
	return d.query(ctx, "identify", address, scpi.CommandIDN)
}

// query opens, queries once, closes, and audits under the given action name.
func (d *Dispatcher) query(ctx context.Context, action, address, command string) (string, error) {
	start := time.Now()
	ctx = correlated(ctx)

	inst, err := d.open(ctx, address)
	if err != nil {
		d.logAudit(ctx, action, address, command, resultCode(err), time.Since(start))
		return "", err
	}

	opCtx, cancel := context.WithTimeout(ctx, d.timeouts.Query())
	defer cancel()

	response, err := inst.Query(opCtx, command)
	err = closeAfter(inst, visa.Normalize("read", address, err))
	latency := time.Since(start)

	if err != nil {
		d.logAudit(ctx, action, address, command, resultCode(err), latency)
		return "", err
	}

	d.logAudit(ctx, action, address, command, "SUCCESS", latency)
	d.logger.Debug("query answered",
		zap.String("address", address),
		zap.String("command", command),
		zap.Duration("latency", latency))
	return strings.TrimSpace(response), nil
}

// Enumerate lists discoverable resource addresses in provider order. Unless
// keepExcluded is set, configured exclusions are removed by exact match; an
// exclusion absent from the raw list is not an error. An empty filtered list
// is.
func (d *Dispatcher) Enumerate(ctx context.Context, keepExcluded bool) ([]string, error) {
	start := time.Now()
	ctx = correlated(ctx)

	addrs, err := d.provider.List(ctx)
	if err != nil {
		d.logAudit(ctx, "enumerate", "", "", resultCode(err), time.Since(start))
		return nil, err
	}

	if !keepExcluded {
		kept := make([]string, 0, len(addrs))
		for _, addr := range addrs {
			if d.excluded(addr) {
				continue
			}
			kept = append(kept, addr)
		}
		addrs = kept
	}

	if len(addrs) == 0 {
		d.logAudit(ctx, "enumerate", "", "", "NO_RESOURCES", time.Since(start))
		return nil, visa.ErrNoResourcesFound
	}

	d.logAudit(ctx, "enumerate", "", "", "SUCCESS", time.Since(start))
	return addrs, nil
}

// BatchIdentify identifies every enumerated resource strictly in order.
// Timeouts are non-fatal per resource and recorded in the result; every
// other failure aborts the batch immediately.
func (d *Dispatcher) BatchIdentify(ctx context.Context, keepExcluded bool) ([]IDNResult, error) {
	ctx = correlated(ctx)

	addrs, err := d.Enumerate(ctx, keepExcluded)
	if err != nil {
		return nil, err
	}

	results := make([]IDNResult, 0, len(addrs))
	for _, addr := range addrs {
		idn, err := d.query(ctx, "identify", addr, scpi.CommandIDN)
		if err != nil {
			if visa.IsTimeout(err) {
				results = append(results, IDNResult{Address: addr, Err: err})
				continue
			}
			return nil, err
		}
		results = append(results, IDNResult{Address: addr, IDN: idn})
	}
	return results, nil
}

// open establishes one connection under the dial ceiling.
func (d *Dispatcher) open(ctx context.Context, address string) (visa.Instrument, error) {
	dialCtx, cancel := context.WithTimeout(ctx, d.timeouts.Dial())
	defer cancel()
	return d.provider.Open(dialCtx, address)
}

// excluded reports whether the address is on the exclusion list.
func (d *Dispatcher) excluded(address string) bool {
	for _, e := range d.exclusions {
		if e == address {
			return true
		}
	}
	return false
}

// closeAfter folds the handle's close failure into the operation result.
func closeAfter(inst visa.Instrument, opErr error) error {
	closeErr := inst.Close()
	if closeErr != nil {
		closeErr = visa.Normalize("close", inst.Address(), closeErr)
	}
	return multierr.Append(opErr, closeErr)
}

// correlated stamps a fresh correlation ID unless the caller carries one, so
// a batch shares a single ID across its per-resource operations.
func correlated(ctx context.Context) context.Context {
	if audit.CorrelationID(ctx) != "" {
		return ctx
	}
	return audit.WithCorrelationID(ctx, uuid.NewString())
}

// resultCode maps an operation error onto its audit outcome.
func resultCode(err error) string {
	switch {
	case err == nil:
		return "SUCCESS"
	case visa.IsTimeout(err):
		return "TIMEOUT"
	case visa.IsConnectivity(err):
		return "CONNECT_ERROR"
	case errors.Is(err, visa.ErrNoResourcesFound):
		return "NO_RESOURCES"
	case errors.Is(err, visa.ErrProtocol):
		return "PROTOCOL_ERROR"
	default:
		return "ERROR"
	}
}

// logAudit logs an audit record for a dispatched action.
func (d *Dispatcher) logAudit(ctx context.Context, action, address, command, result string, latency time.Duration) {
	if d.auditLogger != nil {
		d.auditLogger.LogAction(ctx, action, address, command, result, latency)
	}
}
