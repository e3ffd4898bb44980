package drivers

import (
	"context"
	"fmt"
)

// SummaryRequest asks a driver to produce a compact summary of a page's raw
// transcript, honoring any inline [IMPORTANT=...] / <ref id="pg_..."/>
// directives the caller has already embedded in Raw.
type SummaryRequest struct {
	Raw          string
	Instructions string
	Model        string
}

// SummaryResponse is a driver's summarisation result.
type SummaryResponse struct {
	Summary string
	Model   string
	Usage   UsageInfo
}

// Summariser turns a page's raw transcript into a short summary. It is the
// only LLM-shaped dependency the engine takes — callers provide one backed
// by whatever chat API they like.
type Summariser interface {
	Summarise(ctx context.Context, req *SummaryRequest) (*SummaryResponse, error)
	ModelID() string
}

// SummariserCandidate pairs a provider/model label with its driver.
type SummariserCandidate struct {
	Provider string
	Model    string
	Driver   Summariser
}

// FallbackChain tries multiple summarisation drivers in order, skipping
// ones currently in cooldown and aborting immediately on a non-retriable
// error (bad request, auth failure). With a single candidate it delegates
// directly, preserving exact behavior without classification overhead.
type FallbackChain struct {
	candidates []SummariserCandidate
	cooldown   *CooldownTracker
}

// NewFallbackChain creates a fallback chain from the given candidates. At
// least one candidate is required.
func NewFallbackChain(candidates []SummariserCandidate) *FallbackChain {
	return &FallbackChain{candidates: candidates, cooldown: NewCooldownTracker()}
}

// Summarise tries each candidate in order until one succeeds or all fail.
func (fc *FallbackChain) Summarise(ctx context.Context, req *SummaryRequest) (*SummaryResponse, error) {
	if len(fc.candidates) == 1 {
		return fc.candidates[0].Driver.Summarise(ctx, req)
	}

	var errs []*FailoverError
	for _, c := range fc.candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !fc.cooldown.IsAvailable(c.Provider) {
			continue
		}

		resp, err := c.Driver.Summarise(ctx, req)
		if err == nil {
			fc.cooldown.MarkSuccess(c.Provider)
			return resp, nil
		}

		fe := ClassifyError(err, c.Provider, c.Model)
		errs = append(errs, fe)
		if !fe.IsRetriable() {
			return nil, fe
		}
		fc.cooldown.MarkFailure(c.Provider, fe.Reason)
	}

	if len(errs) == 0 {
		return nil, fmt.Errorf("all fallback candidates in cooldown")
	}
	return nil, &FallbackExhaustedError{Errors: errs}
}

// ModelID returns the primary candidate's model identifier.
func (fc *FallbackChain) ModelID() string {
	if len(fc.candidates) > 0 {
		return fc.candidates[0].Driver.ModelID()
	}
	return ""
}
