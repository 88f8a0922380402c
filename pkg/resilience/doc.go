// Package resilience provides fault-tolerance primitives for the generation
// pipeline: retry with exponential backoff, per-resource circuit breakers,
// ordered fallback chains, graceful quality degradation, error analytics, and
// pluggable recovery procedures.
//
// The components compose but do not require each other. Use them directly:
//
//	cb := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("comfyui"))
//	result, err := cb.Execute(ctx, generate)
//
// or through the System facade, which wires classification, analytics,
// recovery, and degradation around every execution:
//
//	sys := resilience.NewSystem(resilience.DefaultSystemConfig())
//	result, err := sys.ExecuteWithResilience(ctx, "generate", op, args,
//		resilience.ExecOptions{CircuitBreakerName: "comfyui", EnableRetry: true})
//
// When ExecOptions names a fallback chain, the chain replaces the
// breaker/retry pipeline for that execution; stages needing their own
// protection wrap it inside the stage function.
package resilience
