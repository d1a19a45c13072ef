package resilience

import (
	"time"

	"github.com/sells-group/sightings/internal/config"
)

// CircuitFromConfig builds the breaker configuration shared by the upstream
// HTTP clients.
func CircuitFromConfig(cfg config.PipelineConfig) CircuitBreakerConfig {
	cb := DefaultCircuitBreakerConfig()
	if cfg.CircuitFailureThreshold > 0 {
		cb.FailureThreshold = cfg.CircuitFailureThreshold
	}
	if cfg.CircuitResetSecs > 0 {
		cb.ResetTimeout = time.Duration(cfg.CircuitResetSecs) * time.Second
	}
	return cb
}
