package script

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jonwraymond/scriptrun/internal/metrics"
	"github.com/jonwraymond/scriptrun/tools"
	"github.com/jonwraymond/scriptrun/worker"
)

// interceptor sits between a running script and the host. Every tool
// call passes through the gateway before it reaches the runner; denied
// calls never reach the runner at all. The interceptor also serves the
// builtin API surface and captures print/debug output.
//
// One interceptor serves exactly one execution.
type interceptor struct {
	cfg     Config
	runner  tools.Runner
	logger  *zap.Logger
	metrics *metrics.Recorder
	clock   func() time.Time

	mu     sync.Mutex
	trace  []ToolCallRecord
	stdout strings.Builder
}

func newInterceptor(cfg Config, runner tools.Runner, logger *zap.Logger, rec *metrics.Recorder, clock func() time.Time) *interceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	return &interceptor{
		cfg:     cfg,
		runner:  runner,
		logger:  logger,
		metrics: rec,
		clock:   clock,
	}
}

// Invoke gates one tool call. A denial is recorded in the trace and
// returned as a ToolDeniedError, which is terminal for the execution.
func (it *interceptor) Invoke(ctx context.Context, tool string, args map[string]any) (any, error) {
	decision := Decide(tool, it.cfg)
	rec := ToolCallRecord{
		Tool:    tool,
		Args:    snapshotArgs(args),
		Allowed: decision.Allowed,
		Reason:  decision.Reason,
		At:      it.clock(),
	}
	it.metrics.ToolCall(decision.Allowed)

	if it.cfg.EnableDebug {
		it.logger.Debug("tool call",
			zap.String("tool", tool),
			zap.Bool("allowed", decision.Allowed),
			zap.String("reason", decision.Reason))
	}

	if !decision.Allowed {
		it.record(rec)
		return nil, &ToolDeniedError{Tool: tool, Reason: decision.Reason}
	}
	if it.runner == nil {
		it.record(rec)
		return nil, fmt.Errorf("%w: %s", tools.ErrToolNotFound, tool)
	}

	start := time.Now()
	value, err := it.runner.Invoke(ctx, tool, args)
	rec.Duration = time.Since(start)
	it.record(rec)
	return value, err
}

// snapshotArgs copies the top level of the argument map so later script
// mutations do not rewrite the trace.
func snapshotArgs(args map[string]any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}

// InvokeAPI serves the builtin API surface. Builtins are not tools and
// never pass through the gateway; DisableAPIs switches them all off.
func (it *interceptor) InvokeAPI(_ context.Context, name string, args map[string]any) (any, error) {
	if it.cfg.DisableAPIs {
		return nil, fmt.Errorf("%w: %s", ErrAPIsDisabled, name)
	}
	if it.cfg.EnableDebug {
		it.logger.Debug("api call", zap.String("api", name))
	}

	switch name {
	case "time.now":
		return it.clock().UTC().Format(time.RFC3339Nano), nil
	case "json.encode":
		data, err := json.Marshal(args["value"])
		if err != nil {
			return nil, fmt.Errorf("json.encode: %w", err)
		}
		return string(data), nil
	case "json.decode":
		text, ok := args["text"].(string)
		if !ok {
			return nil, fmt.Errorf("json.decode: text argument must be a string")
		}
		var out any
		if err := json.Unmarshal([]byte(text), &out); err != nil {
			return nil, fmt.Errorf("json.decode: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAPI, name)
	}
}

// Print captures script print output when the configuration enables it.
func (it *interceptor) Print(args ...any) {
	if !it.cfg.EnablePrint {
		return
	}
	it.mu.Lock()
	defer it.mu.Unlock()
	fmt.Fprintln(&it.stdout, args...)
}

// Debug emits a script debug line when the configuration enables it.
func (it *interceptor) Debug(msg string) {
	if !it.cfg.EnableDebug {
		return
	}
	it.logger.Debug("script debug", zap.String("msg", msg))
}

func (it *interceptor) record(rec ToolCallRecord) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.trace = append(it.trace, rec)
}

// Trace returns the ordered tool-call trace.
func (it *interceptor) Trace() []ToolCallRecord {
	it.mu.Lock()
	defer it.mu.Unlock()
	return append([]ToolCallRecord(nil), it.trace...)
}

// Stdout returns the captured print output.
func (it *interceptor) Stdout() string {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.stdout.String()
}

var _ worker.Invoker = (*interceptor)(nil)
