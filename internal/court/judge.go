package court

import "context"

// JudgeInput is what a judge votes on: the task's own spec and
// deliverables alongside the claimant's claim and the (optional)
// respondent rebuttal.
type JudgeInput struct {
	TaskSpec     string
	Deliverables []string
	Claim        string
	Rebuttal     string
	TaskTitle    string
	Reward       int64
}

// Judge is one member of the configured panel. Implementations may call
// out to an LLM, a human review queue, or (refjudge) a deterministic
// heuristic; the Court treats any failure identically: JUDGE_UNAVAILABLE
// and a rollback of the whole ruling.
type Judge interface {
	JudgeID() string
	Vote(ctx context.Context, input JudgeInput) (JudgeVote, error)
}
