// Package refjudge provides a deterministic reference implementation of
// court.Judge with no external call and no teacher precedent in this
// corpus: a hash-derived heuristic stands in for a real LLM-backed judge
// so the panel can be exercised offline and in tests.
package refjudge

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/agentyard/exchange/internal/court"
)

// Judge is a deterministic panel member. Its vote is a pure function of
// the dispute input: same claim, same rebuttal, same spec always
// produces the same worker_pct, which makes it useful both as a seeded
// test double and as a default offline panel member when no real
// judging backend is configured.
type Judge struct {
	id string
}

// New constructs a reference judge identified by id. The id seeds a
// per-judge jitter of -5..+5 points, so reference judges with different
// ids usually cast different votes for the same input rather than three
// copies of one vote.
func New(id string) *Judge {
	return &Judge{id: id}
}

func (j *Judge) JudgeID() string {
	return j.id
}

// Vote derives worker_pct from signal present in the rebuttal relative
// to the claim: a rebuttal that is long relative to the claim favors the
// worker; an unanswered claim, or a rebuttal shorter than the claim,
// favors the poster. The exact weighting is arbitrary but stable, which is all a
// reference judge needs to be.
func (j *Judge) Vote(_ context.Context, input court.JudgeInput) (court.JudgeVote, error) {
	claimWeight := signalWeight(input.Claim)
	rebuttalWeight := signalWeight(input.Rebuttal)

	base := 50
	if rebuttalWeight == 0 {
		base = 20
	} else {
		delta := rebuttalWeight - claimWeight
		base = clampPct(50 + delta)
	}

	jitter := int(hashSeed(j.id+input.TaskTitle+input.Claim) % 11)
	pct := clampPct(base + jitter - 5)

	reasoning := fmt.Sprintf("%s: rebuttal_weight=%d claim_weight=%d worker_pct=%d", j.id, rebuttalWeight, claimWeight, pct)
	return court.JudgeVote{WorkerPct: pct, Reasoning: reasoning}, nil
}

// signalWeight scores text by word count (a quarter point per word),
// capped at 200 words so a single judge vote can never be dominated by
// sheer verbosity.
func signalWeight(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	if words > 200 {
		words = 200
	}
	return words / 4
}

func clampPct(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

func hashSeed(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
