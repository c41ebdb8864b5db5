package app

import (
	"context"
	"sync"

	"cua/internal/server/ports"
)

// HealthCheckerImpl aggregates health probes for all components
type HealthCheckerImpl struct {
	probes []ports.HealthProbe
	mu     sync.RWMutex
}

// NewHealthChecker creates a new health checker
func NewHealthChecker() *HealthCheckerImpl {
	return &HealthCheckerImpl{
		probes: make([]ports.HealthProbe, 0),
	}
}

// RegisterProbe adds a health probe
func (h *HealthCheckerImpl) RegisterProbe(probe ports.HealthProbe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, probe)
}

// CheckAll returns health status for all components
func (h *HealthCheckerImpl) CheckAll(ctx context.Context) []ports.ComponentHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	results := make([]ports.ComponentHealth, 0, len(h.probes))
	for _, probe := range h.probes {
		results = append(results, probe.Check(ctx))
	}
	return results
}

// ExtensionStats is the view of the extension bridge a probe needs.
type ExtensionStats interface {
	Connections() int
	Pending() int
	LateResponses() uint64
	UnknownResponses() uint64
}

// ExtensionProbe checks that a browser extension is connected
type ExtensionProbe struct {
	stats ExtensionStats
}

// NewExtensionProbe creates a new extension health probe
func NewExtensionProbe(stats ExtensionStats) *ExtensionProbe {
	return &ExtensionProbe{stats: stats}
}

// Check returns the health status of the extension bridge
func (p *ExtensionProbe) Check(ctx context.Context) ports.ComponentHealth {
	if p.stats == nil {
		return ports.ComponentHealth{
			Name:    "extension",
			Status:  ports.HealthStatusDisabled,
			Message: "Extension bridge not configured",
		}
	}

	details := map[string]any{
		"connections":       p.stats.Connections(),
		"pending_requests":  p.stats.Pending(),
		"late_responses":    p.stats.LateResponses(),
		"unknown_responses": p.stats.UnknownResponses(),
	}
	if p.stats.Connections() == 0 {
		return ports.ComponentHealth{
			Name:    "extension",
			Status:  ports.HealthStatusNotReady,
			Message: "No browser extension connected",
			Details: details,
		}
	}
	return ports.ComponentHealth{
		Name:    "extension",
		Status:  ports.HealthStatusReady,
		Message: "Browser extension connected",
		Details: details,
	}
}

// LLMProbe checks that the oracle's model endpoint is configured
type LLMProbe struct {
	model         string
	keyConfigured bool
}

// NewLLMProbe creates a new LLM health probe
func NewLLMProbe(model string, keyConfigured bool) *LLMProbe {
	return &LLMProbe{model: model, keyConfigured: keyConfigured}
}

// Check returns the health status of the LLM configuration
func (p *LLMProbe) Check(ctx context.Context) ports.ComponentHealth {
	// API connectivity is not tested here to keep health checks free of external calls.
	if !p.keyConfigured {
		return ports.ComponentHealth{
			Name:    "llm",
			Status:  ports.HealthStatusNotReady,
			Message: "OPENAI_API_KEY not found in environment",
			Details: map[string]any{"model": p.model},
		}
	}
	return ports.ComponentHealth{
		Name:    "llm",
		Status:  ports.HealthStatusReady,
		Message: "LLM client configured",
		Details: map[string]any{"model": p.model},
	}
}
