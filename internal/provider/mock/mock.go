// Package mock implements the provider contracts for tests and local
// development, returning deterministic scores derived from the unit name.
package mock

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/saturnino-fabrica-de-software/sentinela/internal/domain"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/provider"
)

// Provider implements provider.MetricsProvider and provider.RecoveryService.
// Scores and issues can be overridden per unit; unknown units get a stable
// score derived from a hash of their name, so repeated runs agree.
type Provider struct {
	mu       sync.Mutex
	scores   map[string]int
	issues   map[string][]provider.Issue
	failing  map[string]error
	recovers map[string]bool
}

func New() *Provider {
	return &Provider{
		scores:   make(map[string]int),
		issues:   make(map[string][]provider.Issue),
		failing:  make(map[string]error),
		recovers: make(map[string]bool),
	}
}

// SetScore fixes the structural score returned for a unit.
func (p *Provider) SetScore(unitID string, score int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scores[unitID] = score
}

// SetIssues fixes the issue list returned for a unit.
func (p *Provider) SetIssues(unitID string, issues []provider.Issue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.issues[unitID] = issues
}

// FailWith makes Validate return err for a unit.
func (p *Provider) FailWith(unitID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failing[unitID] = err
}

// SetRecoverable controls whether ExecuteRecovery succeeds for a unit.
func (p *Provider) SetRecoverable(unitID string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recovers[unitID] = ok
}

func (p *Provider) Validate(ctx context.Context, unitID string, opts provider.ValidateOptions) (*provider.Diagnostics, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err, ok := p.failing[unitID]; ok {
		return nil, err
	}

	score, ok := p.scores[unitID]
	if !ok {
		score = stableScore(unitID)
	}

	diag := &provider.Diagnostics{
		HealthScore: score,
		Issues:      p.issues[unitID],
	}
	if score < 50 && len(diag.Issues) == 0 {
		diag.Issues = []provider.Issue{{
			ID:       fmt.Sprintf("%s-structure", unitID),
			Severity: domain.SeverityHigh,
			Category: "structure",
			Message:  "structural validation below target",
		}}
	}
	return diag, nil
}

func (p *Provider) ExecuteRecovery(ctx context.Context, unitID, strategy string, opts provider.RecoveryOptions) (*provider.RecoveryResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ok, set := p.recovers[unitID]; set && !ok {
		return &provider.RecoveryResult{Success: false, FinalHealthScore: p.scores[unitID]}, nil
	}

	target := opts.TargetHealthScore
	if target == 0 {
		target = 60
	}
	p.scores[unitID] = target
	delete(p.failing, unitID)
	return &provider.RecoveryResult{Success: true, FinalHealthScore: target}, nil
}

// stableScore maps a unit name onto 60..99 so unconfigured units look healthy.
func stableScore(unitID string) int {
	sum := sha256.Sum256([]byte(unitID))
	return 60 + int(sum[0])%40
}
