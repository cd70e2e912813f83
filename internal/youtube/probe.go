// SPDX-License-Identifier: MIT

package youtube

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/storesace-cv/bwb-stream2yt/internal/log"
	"github.com/storesace-cv/bwb-stream2yt/internal/metrics"
)

// ErrNoEligibleBroadcast is returned when no active or upcoming broadcast is
// bound to the expected stream.
var ErrNoEligibleBroadcast = errors.New("no eligible broadcast bound to the configured stream")

// Category classifies an ensure-broadcast run; values double as exit codes.
type Category int

const (
	CategoryOK           Category = 0
	CategoryUnexpected   Category = 1
	CategoryNoBroadcast  Category = 2
	CategoryWrongBinding Category = 3
	CategoryAPIError     Category = 4
)

func (c Category) String() string {
	switch c {
	case CategoryOK:
		return "ok"
	case CategoryNoBroadcast:
		return "NoBroadcast"
	case CategoryWrongBinding:
		return "WrongBinding"
	case CategoryAPIError:
		return "ApiError"
	default:
		return "Unexpected"
	}
}

// lifecyclePriority orders broadcast candidates: the closer to on-air, the
// more relevant.
var lifecyclePriority = map[string]int{
	"live":      0,
	"testing":   1,
	"ready":     2,
	"created":   3,
	"scheduled": 4,
}

func priorityOf(b Broadcast) int {
	if p, ok := lifecyclePriority[b.LifeCycleStatus]; ok {
		return p
	}
	return 99
}

// listCandidates fetches active then upcoming broadcasts. The two statuses
// need separate requests.
func listCandidates(ctx context.Context, c *Client) ([]Broadcast, error) {
	var out []Broadcast
	for _, status := range []string{"active", "upcoming"} {
		items, err := c.ListBroadcasts(ctx, status)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

func bestCandidate(candidates []Broadcast) (Broadcast, bool) {
	if len(candidates) == 0 {
		return Broadcast{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if priorityOf(c) < priorityOf(best) {
			best = c
		}
	}
	return best, true
}

// RecoveryProbe confirms the broadcast binding after the primary recovers
// and nudges the broadcast back toward the live state.
type RecoveryProbe struct {
	client   *Client
	streamID string
	logger   zerolog.Logger
}

// NewRecoveryProbe builds the probe. streamID may be empty, in which case
// any bound stream satisfies the binding check.
func NewRecoveryProbe(client *Client, streamID string) *RecoveryProbe {
	return &RecoveryProbe{
		client:   client,
		streamID: streamID,
		logger:   log.WithComponent("recovery-probe"),
	}
}

// Run performs one probe. All failures are logged and swallowed: the decision
// engine schedules a fresh probe on the next recovery event.
func (p *RecoveryProbe) Run(ctx context.Context) {
	if err := p.run(ctx); err != nil {
		if errors.Is(err, ErrNoEligibleBroadcast) {
			metrics.RecoveryHintsTotal.WithLabelValues("no_eligible_broadcast").Inc()
			p.logger.Warn().Msg("recovery probe found no eligible broadcast")
			return
		}
		metrics.RecoveryHintsTotal.WithLabelValues("error").Inc()
		p.logger.Error().Err(err).Msg("recovery probe failed")
		return
	}
	metrics.RecoveryHintsTotal.WithLabelValues("ok").Inc()
}

func (p *RecoveryProbe) run(ctx context.Context) error {
	candidates, err := listCandidates(ctx, p.client)
	if err != nil {
		return err
	}

	var eligible *Broadcast
	for i := range candidates {
		b := candidates[i]
		if b.BoundStreamID == "" {
			continue
		}
		if p.streamID != "" && b.BoundStreamID != p.streamID {
			continue
		}
		stream, found, err := p.client.Stream(ctx, b.BoundStreamID)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		if stream.Status == "active" || stream.Status == "ready" {
			if eligible == nil || priorityOf(b) < priorityOf(*eligible) {
				eligible = &candidates[i]
			}
		}
	}
	if eligible == nil {
		return ErrNoEligibleBroadcast
	}

	p.logger.Info().
		Str("broadcast", eligible.ID).
		Str("lifecycle", eligible.LifeCycleStatus).
		Str("stream", eligible.BoundStreamID).
		Msg("broadcast binding confirmed")

	// Best effort: walk the broadcast toward live so the recovered primary
	// picks up immediately. YouTube rejects transitions that do not apply.
	for _, target := range []string{"testing", "live"} {
		if target == "testing" && eligible.LifeCycleStatus == "testing" {
			continue
		}
		if eligible.LifeCycleStatus == "live" {
			break
		}
		if err := p.client.Transition(ctx, eligible.ID, target); err != nil {
			p.logger.Warn().Err(err).Str("target", target).
				Msg("broadcast transition rejected")
		}
	}
	return nil
}

// EnsureBroadcast verifies that an active or upcoming broadcast is bound to
// the expected stream. It is the engine behind the one-shot operator probe.
func EnsureBroadcast(ctx context.Context, client *Client, streamID string) (Category, string) {
	candidates, err := listCandidates(ctx, client)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return CategoryAPIError, apiErr.Error()
		}
		return CategoryAPIError, err.Error()
	}
	if len(candidates) == 0 {
		return CategoryNoBroadcast, "no active or upcoming broadcast found"
	}

	bound := candidates[:0:0]
	for _, b := range candidates {
		if b.BoundStreamID == "" {
			continue
		}
		if streamID != "" && b.BoundStreamID != streamID {
			continue
		}
		bound = append(bound, b)
	}
	if len(bound) == 0 {
		return CategoryWrongBinding, "no broadcast is bound to the expected stream"
	}

	best, _ := bestCandidate(bound)
	stream, found, err := client.Stream(ctx, best.BoundStreamID)
	if err != nil {
		return CategoryAPIError, err.Error()
	}
	if !found {
		return CategoryWrongBinding, "bound stream " + best.BoundStreamID + " does not exist"
	}

	return CategoryOK, "broadcast " + best.ID + " (" + best.LifeCycleStatus + ") bound to stream " +
		stream.ID + " (" + stream.Status + ")"
}
