package pipeline

// Step names a stage of the responder pipeline. Every run walks the
// steps in order and stops at the first one that skips or fails; the
// final step reached is logged with the outcome.
type Step int

const (
	StepIngested Step = iota
	StepDebounce
	StepFreshness
	StepLoopGuard
	StepPolicy
	StepContext
	StepTriggers
	StepRetrieve
	StepGenerate
	StepDeliver
	StepDone
)

var stepNames = [...]string{
	"ingested",
	"debounce",
	"freshness",
	"loop_guard",
	"policy",
	"context",
	"triggers",
	"retrieve",
	"generate",
	"deliver",
	"done",
}

func (s Step) String() string {
	if s < 0 || int(s) >= len(stepNames) {
		return "unknown"
	}
	return stepNames[s]
}

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeReplied   Outcome = "replied"
	OutcomeTriggered Outcome = "triggered"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)
