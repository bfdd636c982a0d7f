package ops

import (
	"context"
)

// HealthOutput reports process and backend health.
type HealthOutput struct {
	Status    string `json:"status"`
	Inference bool   `json:"inference"`
	Model     string `json:"model,omitempty"`
	Session   string `json:"session,omitempty"`
}

// Health probes the inference backend. It never fails; an unreachable
// backend is reported as degraded.
func (s *Service) Health(ctx context.Context) *HealthOutput {
	out := &HealthOutput{Status: "ok", Model: s.model}
	out.Inference = s.llm.Health(ctx)
	if !out.Inference {
		out.Status = "degraded"
	}
	out.Session, _ = s.store.Current(ctx)
	return out
}
