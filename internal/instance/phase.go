package instance

// Phase is the derived, in-memory view of a coding instance's lifecycle.
// It is computed from persisted status, never stored. The two
// vocabularies are deliberately distinct: initializing and cleanup are
// transient phases the engine reports around provisioning and teardown
// and have no persisted counterpart.
type Phase string

const (
	PhaseInitializing    Phase = "initializing"
	PhaseWorking         Phase = "working"
	PhaseReviewRequested Phase = "review_requested"
	PhasePRCreated       Phase = "pr_created"
	PhaseTerminated      Phase = "terminated"
	PhaseCleanup         Phase = "cleanup"
)

// PhaseForStatus is the single mapping from persisted status to derived
// phase. All callers that need a phase go through here.
func PhaseForStatus(s Status) Phase {
	switch s {
	case StatusWaitingReview:
		return PhaseReviewRequested
	case StatusPRCreated:
		return PhasePRCreated
	case StatusTerminated:
		return PhaseTerminated
	default:
		return PhaseWorking
	}
}

// ReviewPhase is the derived view of a review instance's lifecycle.
type ReviewPhase string

const (
	ReviewPhaseInitializing  ReviewPhase = "initializing"
	ReviewPhaseWorking       ReviewPhase = "working"
	ReviewPhaseRequestReview ReviewPhase = "request_review"
	ReviewPhasePullRequest   ReviewPhase = "pull_request"
	ReviewPhaseCleanup       ReviewPhase = "cleanup"
)

// ReviewPhaseForDecision maps a completed review's decision to the phase
// the parent proceeds to: approval leads to pull-request creation,
// requested changes lead to another coding cycle.
func ReviewPhaseForDecision(d Decision) ReviewPhase {
	if d == DecisionApprove {
		return ReviewPhasePullRequest
	}
	return ReviewPhaseRequestReview
}
