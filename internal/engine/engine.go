// Package engine coordinates one tool invocation end to end: catalog
// lookup, input validation, admission, process execution and the audit
// record that survives it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aiops-tools/toolexec/internal/audit"
	"github.com/aiops-tools/toolexec/internal/catalog"
	"github.com/aiops-tools/toolexec/internal/constants"
	"github.com/aiops-tools/toolexec/internal/engine/executor"
	"github.com/aiops-tools/toolexec/internal/idempotency"
	"github.com/aiops-tools/toolexec/internal/ledger"
	"github.com/aiops-tools/toolexec/internal/maputil"
	"github.com/aiops-tools/toolexec/internal/protocol"
	"github.com/aiops-tools/toolexec/internal/runner"
	"github.com/aiops-tools/toolexec/internal/sched"
	"github.com/aiops-tools/toolexec/internal/schema"
	"github.com/aiops-tools/toolexec/internal/security"
	"github.com/aiops-tools/toolexec/internal/templates"
	"github.com/aiops-tools/toolexec/internal/timeutil"
)

// ErrAlreadyFinished reports a cancel request for a terminal execution.
var ErrAlreadyFinished = errors.New("execution already finished")

var timeNow = time.Now

// InvokeRequest describes one tool invocation.
type InvokeRequest struct {
	// Tool is the tool name.
	Tool string
	// Version pins the tool version, zero accepts the loaded one.
	Version int
	// Arguments is the raw argument document.
	Arguments map[string]any
	// CallerID identifies the caller, audit only.
	CallerID string
	// TraceID is an optional caller-provided trace identifier.
	TraceID string
	// TimeoutOverride tightens the tool deadline when positive. It can
	// never extend past the tool ceiling.
	TimeoutOverride time.Duration
}

// RejectedError is returned by Submit when the invocation was refused
// before an execution record was created.
type RejectedError struct {
	// Detail is the structured rejection payload.
	Detail *protocol.ErrorDetail
}

// Error returns the rejection message.
func (e *RejectedError) Error() string {
	if e.Detail == nil {
		return "invocation rejected"
	}
	return fmt.Sprintf("%s: %s", e.Detail.Code, e.Detail.Message)
}

// Options configures the execution engine.
type Options struct {
	// Audit records lifecycle events, defaults to slog-backed audit.
	Audit audit.Logger
	// Templates renders localized caller-facing messages.
	Templates templates.Renderer
	// Catalog resolves tool definitions.
	Catalog *catalog.Catalog
	// Ledger persists execution records.
	Ledger *ledger.Store
	// Scheduler admits executions under the concurrency ceilings.
	Scheduler *sched.Scheduler
	// Runner executes process tools.
	Runner *runner.Runner
	// HTTPClient executes http tools.
	HTTPClient *http.Client
	// DefaultTimeout applies when the tool declares no ceiling.
	DefaultTimeout time.Duration
	// CacheTTL is the default lifetime for cached results.
	CacheTTL time.Duration
	// CacheEntries bounds the result cache size.
	CacheEntries int
}

// Engine executes tool invocations against the catalog and keeps one
// audit record per invocation in the ledger.
type Engine struct {
	logger         *slog.Logger
	audit          audit.Logger
	templates      templates.Renderer
	catalog        *catalog.Catalog
	ledger         *ledger.Store
	sched          *sched.Scheduler
	runner         *runner.Runner
	httpClient     *http.Client
	cache          *idempotency.Cache[cachedResult]
	defaultTimeout time.Duration

	mu      sync.Mutex
	running map[string]*invocation
	wg      sync.WaitGroup
}

// New returns an Engine wired to the given collaborators.
func New(logger *slog.Logger, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	auditLog := opts.Audit
	if auditLog == nil {
		auditLog = audit.New(logger)
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Engine{
		logger:         logger,
		audit:          auditLog,
		templates:      opts.Templates,
		catalog:        opts.Catalog,
		ledger:         opts.Ledger,
		sched:          opts.Scheduler,
		runner:         opts.Runner,
		httpClient:     client,
		cache:          idempotency.NewCache[cachedResult](opts.CacheTTL, opts.CacheEntries),
		defaultTimeout: timeout,
		running:        map[string]*invocation{},
	}
}

// cachedResult replays a previously successful invocation.
type cachedResult struct {
	executionID string
	output      any
	diagnostic  string
	durationMS  int64
}

// invocation tracks one live execution so Cancel can reach it. The cancel
// func is bound once the supervising goroutine starts; a cancel request
// arriving before that is remembered and observed at bind time.
type invocation struct {
	mu        sync.Mutex
	cancelled bool
	cancel    context.CancelFunc
}

func (i *invocation) requestCancel() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.cancelled = true
	if i.cancel != nil {
		i.cancel()
	}
}

// bind installs the supervising cancel func and reports whether
// cancellation was already requested during admission.
func (i *invocation) bind(cancel context.CancelFunc) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.cancel = cancel
	return i.cancelled
}

// admitted carries one invocation from admission into its supervising run.
type admitted struct {
	tool     *catalog.ToolConfig
	args     map[string]any
	digest   string
	cacheKey string
	timeout  time.Duration
	execID   string
	created  time.Time
	inv      *invocation
	slot     *sched.Slot
	waiter   *sched.Waiter
}

// Invoke runs one tool invocation synchronously and returns its response.
// Failures are reported inside the response, never as a Go error.
func (e *Engine) Invoke(ctx context.Context, req InvokeRequest) *protocol.ToolResponse {
	adm, early := e.admit(ctx, req)
	if early != nil {
		return early
	}
	e.wg.Add(1)
	defer e.wg.Done()
	return e.run(ctx, req, adm)
}

// Submit admits one invocation and runs it in the background, returning
// the execution record id to poll. Pre-admission refusals are returned as
// a *RejectedError; a cached result short-circuits to the original
// execution id.
func (e *Engine) Submit(ctx context.Context, req InvokeRequest) (string, error) {
	adm, early := e.admit(ctx, req)
	if early != nil {
		if early.Status == protocol.StatusSuccess {
			return early.ExecutionID, nil
		}
		return "", &RejectedError{Detail: early.Error}
	}

	// The run outlives the submitting request.
	runCtx := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(runCtx, req, adm)
	}()
	return adm.execID, nil
}

// Status returns the execution record for id.
func (e *Engine) Status(ctx context.Context, id string) (*ledger.Record, error) {
	return e.ledger.GetRecord(ctx, id)
}

// List returns execution records matching the filter.
func (e *Engine) List(ctx context.Context, f ledger.Filter) (*ledger.Page, error) {
	return e.ledger.List(ctx, f)
}

// Tools returns the catalog tool definitions in declaration order.
func (e *Engine) Tools() []catalog.ToolConfig {
	return e.catalog.Tools()
}

// Cancel requests termination of the execution with id. A queued
// invocation is completed as cancelled without ever running; a running one
// is terminated through the same path as a timeout and reaches its
// terminal state asynchronously. Returns the record as last observed, with
// ErrAlreadyFinished when it is already terminal.
func (e *Engine) Cancel(ctx context.Context, id string) (*ledger.Record, error) {
	rec, err := e.ledger.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status.IsTerminal() {
		return rec, ErrAlreadyFinished
	}

	e.audit.Record(ctx, audit.Event{
		Type:        audit.TypeCancelRequested,
		Tool:        rec.ToolName,
		ExecutionID: id,
		TraceID:     rec.TraceID,
		Status:      string(rec.Status),
	})

	e.mu.Lock()
	inv, ok := e.running[id]
	e.mu.Unlock()
	if ok {
		inv.requestCancel()
		return rec, nil
	}

	// No live supervisor owns the record, e.g. it predates a restart.
	completed := timeNow().UTC()
	detail := e.errorDetail(protocol.CodeCancelled, msgData{Tool: rec.ToolName})
	err = e.ledger.Complete(ctx, id, ledger.Completion{
		Status:      ledger.StatusCancelled,
		Error:       detail,
		CompletedAt: completed,
		DurationMS:  durationSince(rec, completed),
	})
	if err != nil {
		var tErr *ledger.TransitionError
		if errors.As(err, &tErr) {
			if cur, getErr := e.ledger.GetRecord(ctx, id); getErr == nil {
				return cur, ErrAlreadyFinished
			}
		}
		return nil, err
	}
	return e.ledger.GetRecord(ctx, id)
}

// Shutdown cancels every in-flight execution and waits for their records
// to reach a terminal state or for ctx to expire.
func (e *Engine) Shutdown(ctx context.Context) {
	e.mu.Lock()
	count := len(e.running)
	for _, inv := range e.running {
		inv.requestCancel()
	}
	e.mu.Unlock()
	if count > 0 {
		e.logger.Info("cancelling in-flight executions", "count", count)
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		e.logger.Warn("shutdown deadline reached with executions still finishing")
	}
}

// admit resolves, validates and reserves capacity for one invocation.
// Exactly one return value is non-nil: either the admitted invocation with
// its pending record created, or a ready response for a cache hit or a
// refusal that leaves no record behind.
func (e *Engine) admit(ctx context.Context, req InvokeRequest) (*admitted, *protocol.ToolResponse) {
	tool, err := e.catalog.ForExecution(req.Tool, req.Version)
	if err != nil {
		var stateErr *catalog.StateError
		switch {
		case errors.Is(err, catalog.ErrToolNotFound):
			return nil, e.reject(req, protocol.CodeToolNotFound, msgData{Tool: req.Tool})
		case errors.As(err, &stateErr):
			return nil, e.reject(req, protocol.CodeInvalidState, msgData{Tool: req.Tool, Status: stateErr.Status})
		default:
			e.logger.Error("resolve tool", "tool", req.Tool, "error", err)
			return nil, e.reject(req, protocol.CodeInternal, msgData{})
		}
	}
	if tool.Status == constants.ToolStatusDeprecated {
		e.logger.Warn("deprecated tool invoked", "tool", tool.Name, "version", tool.Version, "caller_id", req.CallerID)
	}

	args, err := schema.Validate(tool.InputSchema, req.Arguments)
	if err != nil {
		var vErr *schema.ValidationError
		if !errors.As(err, &vErr) {
			e.logger.Error("validate arguments", "tool", tool.Name, "error", err)
			return nil, e.reject(req, protocol.CodeInternal, msgData{})
		}
		fields := make([]protocol.FieldIssue, 0, len(vErr.Errors))
		for _, fe := range vErr.Errors {
			fields = append(fields, protocol.FieldIssue{Path: fe.Path, Message: fe.Message})
		}
		e.audit.Record(ctx, audit.Event{
			Type:     audit.TypeValidationFailed,
			Tool:     tool.Name,
			CallerID: req.CallerID,
			TraceID:  req.TraceID,
			Code:     protocol.CodeValidation,
			Reason:   fmt.Sprintf("%d field(s) rejected", len(fields)),
		})
		detail := e.errorDetail(protocol.CodeValidation, msgData{Tool: tool.Name, Count: len(fields)})
		detail.Fields = fields
		return nil, respond(req, detail)
	}

	digest, err := security.ArgumentsDigest(args)
	if err != nil {
		e.logger.Warn("digest arguments", "tool", tool.Name, "error", err)
	}

	var key string
	if tool.Cache.Enabled {
		key, err = resultCacheKey(tool, args)
		if err != nil {
			e.logger.Warn("build cache key", "tool", tool.Name, "error", err)
		} else if hit, ok := e.cache.Get(key); ok {
			e.audit.Record(ctx, audit.Event{
				Type:        audit.TypeCacheHit,
				Tool:        tool.Name,
				ExecutionID: hit.executionID,
				CallerID:    req.CallerID,
				TraceID:     req.TraceID,
				ArgsDigest:  digest,
			})
			return nil, &protocol.ToolResponse{
				Status:      protocol.StatusSuccess,
				ExecutionID: hit.executionID,
				Result:      hit.output,
				Diagnostic:  hit.diagnostic,
				DurationMS:  hit.durationMS,
				TraceID:     req.TraceID,
			}
		}
	}

	slot, waiter, err := e.sched.Reserve(tool.Name, sched.ToolLimits{
		MaxConcurrent: tool.MaxConcurrent,
		RatePerMinute: tool.RatePerMinute,
	})
	if err != nil {
		reason := "capacity exhausted"
		var capErr *sched.CapacityError
		if errors.As(err, &capErr) {
			reason = capErr.Reason
		}
		e.audit.Record(ctx, audit.Event{
			Type:       audit.TypeRejected,
			Tool:       tool.Name,
			CallerID:   req.CallerID,
			TraceID:    req.TraceID,
			Code:       protocol.CodeCapacityExceeded,
			Reason:     reason,
			ArgsDigest: digest,
		})
		return nil, e.reject(req, protocol.CodeCapacityExceeded, msgData{Reason: capacityReason(reason)})
	}

	execID := uuid.NewString()
	created := timeNow().UTC()
	adm := &admitted{
		tool:     tool,
		args:     args,
		digest:   digest,
		cacheKey: key,
		timeout:  e.effectiveTimeout(tool, req.TimeoutOverride),
		execID:   execID,
		created:  created,
		inv:      &invocation{},
		slot:     slot,
		waiter:   waiter,
	}

	// Register before the record is visible so a cancel request can never
	// slip between record creation and the supervising run.
	e.mu.Lock()
	e.running[execID] = adm.inv
	e.mu.Unlock()

	rec := &ledger.Record{
		ID:          execID,
		ToolName:    tool.Name,
		ToolVersion: tool.Version,
		Status:      ledger.StatusPending,
		CallerID:    req.CallerID,
		TraceID:     req.TraceID,
		Input:       security.RedactArguments(args),
		CreatedAt:   created,
	}
	if err := e.ledger.CreateRecord(ctx, rec); err != nil {
		e.logger.Error("create execution record", "tool", tool.Name, "execution_id", execID, "error", err)
		maputil.Pop(&e.mu, e.running, execID)
		e.releaseAdmission(adm)
		return nil, e.reject(req, protocol.CodeInternal, msgData{})
	}
	e.audit.Record(ctx, audit.Event{
		Type:        audit.TypeAdmitted,
		Tool:        tool.Name,
		ExecutionID: execID,
		CallerID:    req.CallerID,
		TraceID:     req.TraceID,
		Status:      string(ledger.StatusPending),
		ArgsDigest:  digest,
	})
	return adm, nil
}

// run supervises one admitted invocation to its terminal record.
func (e *Engine) run(ctx context.Context, req InvokeRequest, adm *admitted) *protocol.ToolResponse {
	// Ledger writes must land even when the caller goes away.
	storeCtx := context.WithoutCancel(ctx)
	invCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer maputil.Pop(&e.mu, e.running, adm.execID)

	if adm.inv.bind(cancel) {
		e.releaseAdmission(adm)
		return e.finishCancelled(storeCtx, req, adm, "cancelled before start")
	}

	slot := adm.slot
	if slot == nil {
		granted, err := adm.waiter.Wait(invCtx)
		if err != nil {
			return e.finishCancelled(storeCtx, req, adm, "cancelled while queued")
		}
		slot = granted
	}
	defer slot.Release()

	tool := adm.tool
	onRunning := func() {
		started := timeNow().UTC()
		if err := e.ledger.MarkRunning(storeCtx, adm.execID, started); err != nil {
			e.logger.Warn("mark running", "execution_id", adm.execID, "error", err)
		}
		e.audit.Record(storeCtx, audit.Event{
			Type:        audit.TypeSpawned,
			Tool:        tool.Name,
			ExecutionID: adm.execID,
			CallerID:    req.CallerID,
			TraceID:     req.TraceID,
			Status:      string(ledger.StatusRunning),
		})
	}

	res := e.executorFor(tool).Execute(invCtx, executor.Request{
		Tool:        tool,
		Arguments:   adm.args,
		ExecutionID: adm.execID,
		Timeout:     adm.timeout,
		OnRunning:   onRunning,
	})
	return e.finish(storeCtx, invCtx, req, adm, res)
}

// finish classifies the executor result, completes the record and builds
// the caller response.
func (e *Engine) finish(storeCtx, invCtx context.Context, req InvokeRequest, adm *admitted, res executor.Result) *protocol.ToolResponse {
	completed := timeNow().UTC()
	durationMS := res.Elapsed.Milliseconds()
	tool := adm.tool

	var status ledger.Status
	var detail *protocol.ErrorDetail
	switch {
	case res.OK():
		status = ledger.StatusSuccess
	case res.Code == protocol.CodeExecutionTimeout && invCtx.Err() == context.Canceled:
		// The deadline never fired, the invocation was cancelled.
		status = ledger.StatusCancelled
		detail = e.errorDetail(protocol.CodeCancelled, msgData{Tool: tool.Name})
		detail.Details = failureDetails(res)
	case res.Code == protocol.CodeExecutionTimeout:
		status = ledger.StatusTimeout
		detail = e.errorDetail(protocol.CodeExecutionTimeout, msgData{Tool: tool.Name, Timeout: adm.timeout.String()})
		detail.Details = failureDetails(res)
	case res.Code == protocol.CodeSpawn:
		status = ledger.StatusFailed
		detail = e.errorDetail(protocol.CodeSpawn, msgData{Tool: tool.Name})
		// Spawn reasons carry host paths, they stay in the server log.
		e.logger.Error("tool process failed to start",
			"tool", tool.Name, "execution_id", adm.execID, "reason", res.Message)
	default:
		status = ledger.StatusFailed
		detail = e.errorDetail(res.Code, msgData{Tool: tool.Name, ExitCode: res.ExitCode})
		detail.Details = failureDetails(res)
	}

	completion := ledger.Completion{
		Status:      status,
		Error:       detail,
		CompletedAt: completed,
		DurationMS:  durationMS,
	}
	if status == ledger.StatusSuccess {
		completion.Output = res.Output
	}
	if err := e.ledger.Complete(storeCtx, adm.execID, completion); err != nil {
		e.logger.Error("complete execution record",
			"execution_id", adm.execID, "status", string(status), "error", err)
	}

	code := ""
	if detail != nil {
		code = detail.Code
	}
	e.audit.Record(storeCtx, audit.Event{
		Type:        audit.TypeFinished,
		Tool:        tool.Name,
		ExecutionID: adm.execID,
		CallerID:    req.CallerID,
		TraceID:     req.TraceID,
		Status:      string(status),
		Code:        code,
		ArgsDigest:  adm.digest,
	})

	if status == ledger.StatusSuccess {
		if adm.cacheKey != "" {
			ttl := timeutil.ParseDurationOrDefault(tool.Cache.TTL, 0)
			e.cache.SetWithTTL(adm.cacheKey, cachedResult{
				executionID: adm.execID,
				output:      res.Output,
				diagnostic:  res.Diagnostic,
				durationMS:  durationMS,
			}, ttl)
			e.audit.Record(storeCtx, audit.Event{
				Type:        audit.TypeCacheStore,
				Tool:        tool.Name,
				ExecutionID: adm.execID,
				ArgsDigest:  adm.digest,
			})
		}
		return &protocol.ToolResponse{
			Status:      protocol.StatusSuccess,
			ExecutionID: adm.execID,
			Result:      res.Output,
			Diagnostic:  res.Diagnostic,
			DurationMS:  durationMS,
			TraceID:     req.TraceID,
		}
	}
	return &protocol.ToolResponse{
		Status:      protocol.StatusError,
		ExecutionID: adm.execID,
		Error:       detail,
		DurationMS:  durationMS,
		TraceID:     req.TraceID,
	}
}

// finishCancelled completes a record that never reached its executor.
func (e *Engine) finishCancelled(storeCtx context.Context, req InvokeRequest, adm *admitted, reason string) *protocol.ToolResponse {
	completed := timeNow().UTC()
	durationMS := completed.Sub(adm.created).Milliseconds()
	detail := e.errorDetail(protocol.CodeCancelled, msgData{Tool: adm.tool.Name})
	err := e.ledger.Complete(storeCtx, adm.execID, ledger.Completion{
		Status:      ledger.StatusCancelled,
		Error:       detail,
		CompletedAt: completed,
		DurationMS:  durationMS,
	})
	if err != nil {
		e.logger.Error("complete cancelled record", "execution_id", adm.execID, "error", err)
	}
	e.audit.Record(storeCtx, audit.Event{
		Type:        audit.TypeFinished,
		Tool:        adm.tool.Name,
		ExecutionID: adm.execID,
		CallerID:    req.CallerID,
		TraceID:     req.TraceID,
		Status:      string(ledger.StatusCancelled),
		Code:        protocol.CodeCancelled,
		Reason:      reason,
	})
	return &protocol.ToolResponse{
		Status:      protocol.StatusError,
		ExecutionID: adm.execID,
		Error:       detail,
		DurationMS:  durationMS,
		TraceID:     req.TraceID,
	}
}

// releaseAdmission returns reserved capacity for a run that never started.
func (e *Engine) releaseAdmission(adm *admitted) {
	if adm.slot != nil {
		adm.slot.Release()
		return
	}
	e.abandon(adm.waiter)
}

// abandon withdraws a queued reservation, returning a slot that raced the
// withdrawal.
func (e *Engine) abandon(w *sched.Waiter) {
	if w == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if slot, err := w.Wait(ctx); err == nil {
		slot.Release()
	}
}

// executorFor selects the execution backend for a tool.
func (e *Engine) executorFor(tool *catalog.ToolConfig) executor.Executor {
	if tool.Executor.Type == constants.ExecutorHTTP {
		return executor.HTTP{
			URL:     tool.Executor.URL,
			Method:  tool.Executor.Method,
			Headers: tool.Executor.Headers,
			Client:  e.httpClient,
		}
	}
	return executor.Process{Runner: e.runner}
}

// effectiveTimeout resolves the deadline for one invocation: the tool
// ceiling, tightened by a caller override.
func (e *Engine) effectiveTimeout(tool *catalog.ToolConfig, override time.Duration) time.Duration {
	ceiling := timeutil.ParseDurationOrDefault(tool.Timeout, e.defaultTimeout)
	return timeutil.ClampTimeout(ceiling, override)
}

// resultCacheKey hashes the tool identity together with the accepted
// arguments so distinct versions never share cached results.
func resultCacheKey(tool *catalog.ToolConfig, args map[string]any) (string, error) {
	return security.ArgumentsDigest(map[string]any{
		"tool":    tool.Name,
		"version": tool.Version,
		"args":    args,
	})
}

// failureDetails collects machine-readable context for a failed run.
func failureDetails(res executor.Result) map[string]any {
	details := map[string]any{}
	if res.Message != "" {
		details["detail"] = res.Message
	}
	if res.Code == protocol.CodeExecutionFailed {
		details["exit_code"] = res.ExitCode
	}
	if res.Diagnostic != "" && res.Diagnostic != res.Message {
		details["stderr"] = res.Diagnostic
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

func durationSince(rec *ledger.Record, completed time.Time) int64 {
	from := rec.CreatedAt
	if rec.StartedAt != nil {
		from = *rec.StartedAt
	}
	ms := completed.Sub(from).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

// capacityReason maps scheduler refusal reasons to caller wording.
func capacityReason(reason string) string {
	switch reason {
	case sched.ReasonSaturated:
		return "no execution slots available"
	case sched.ReasonRateLimited:
		return "tool rate limit reached"
	}
	return reason
}

// msgData feeds the localized message templates.
type msgData struct {
	Tool        string
	Count       int
	Status      string
	ExitCode    int
	Timeout     string
	Reason      string
	ExecutionID string
}

// messageKeys maps error codes to their message template prefix.
var messageKeys = map[string]string{
	protocol.CodeValidation:       "validation",
	protocol.CodeToolNotFound:     "tool_not_found",
	protocol.CodeInvalidState:     "invalid_state",
	protocol.CodeSpawn:            "spawn",
	protocol.CodeExecutionFailed:  "execution_failed",
	protocol.CodeMalformedOutput:  "malformed_output",
	protocol.CodeExecutionTimeout: "timeout",
	protocol.CodeCancelled:        "cancelled",
	protocol.CodeCapacityExceeded: "capacity",
	protocol.CodeInternal:         "internal",
}

// errorDetail builds the structured failure payload for a code.
func (e *Engine) errorDetail(code string, data msgData) *protocol.ErrorDetail {
	key, ok := messageKeys[code]
	if !ok {
		key = "internal"
	}
	detail := &protocol.ErrorDetail{
		Code:       code,
		Message:    e.render(key+".message", data),
		Suggestion: e.render(key+".suggestion", data),
	}
	if detail.Message == "" {
		detail.Message = code
	}
	return detail
}

func (e *Engine) render(key string, data msgData) string {
	if e.templates == nil {
		return ""
	}
	text, err := e.templates.Render(key, data)
	if err != nil {
		e.logger.Warn("render message", "key", key, "error", err)
		return ""
	}
	return text
}

func (e *Engine) reject(req InvokeRequest, code string, data msgData) *protocol.ToolResponse {
	return respond(req, e.errorDetail(code, data))
}

func respond(req InvokeRequest, detail *protocol.ErrorDetail) *protocol.ToolResponse {
	return &protocol.ToolResponse{
		Status:  protocol.StatusError,
		Error:   detail,
		TraceID: req.TraceID,
	}
}
