package instance

import (
	"testing"
	"time"
)

func TestPhaseForStatus(t *testing.T) {
	tests := []struct {
		status Status
		want   Phase
	}{
		{StatusStarted, PhaseWorking},
		{StatusWaitingReview, PhaseReviewRequested},
		{StatusPRCreated, PhasePRCreated},
		{StatusPRMerged, PhaseWorking},
		{StatusPRClosed, PhaseWorking},
		{StatusTerminated, PhaseTerminated},
	}
	for _, tt := range tests {
		if got := PhaseForStatus(tt.status); got != tt.want {
			t.Errorf("PhaseForStatus(%q) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusStarted, false},
		{StatusWaitingReview, false},
		{StatusPRCreated, false},
		{StatusPRMerged, false},
		{StatusPRClosed, false},
		{StatusTerminated, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("Status(%q).Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestParseDecision(t *testing.T) {
	if d, err := ParseDecision("approve"); err != nil || d != DecisionApprove {
		t.Errorf("ParseDecision(approve) = %q, %v", d, err)
	}
	if d, err := ParseDecision("request_changes"); err != nil || d != DecisionRequestChanges {
		t.Errorf("ParseDecision(request_changes) = %q, %v", d, err)
	}
	if _, err := ParseDecision("maybe"); err == nil {
		t.Error("ParseDecision(maybe) error = nil, want error")
	}
}

func TestReviewPhaseForDecision(t *testing.T) {
	if got := ReviewPhaseForDecision(DecisionApprove); got != ReviewPhasePullRequest {
		t.Errorf("ReviewPhaseForDecision(approve) = %q, want %q", got, ReviewPhasePullRequest)
	}
	if got := ReviewPhaseForDecision(DecisionRequestChanges); got != ReviewPhaseRequestReview {
		t.Errorf("ReviewPhaseForDecision(request_changes) = %q, want %q", got, ReviewPhaseRequestReview)
	}
}

func TestReviewMetadataRoundTrip(t *testing.T) {
	completed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	in := ReviewMetadata{
		ReviewText:  "LGTM with one nit on error wrapping",
		Decision:    DecisionApprove,
		RequestedAt: time.Date(2025, 6, 1, 11, 30, 0, 0, time.UTC),
		CompletedAt: &completed,
	}

	raw, err := EncodeReviewMetadata(in)
	if err != nil {
		t.Fatalf("EncodeReviewMetadata() error = %v", err)
	}

	out, err := DecodeReviewMetadata(raw)
	if err != nil {
		t.Fatalf("DecodeReviewMetadata() error = %v", err)
	}
	if out.ReviewText != in.ReviewText {
		t.Errorf("ReviewText = %q, want %q", out.ReviewText, in.ReviewText)
	}
	if out.Decision != DecisionApprove {
		t.Errorf("Decision = %q, want %q", out.Decision, DecisionApprove)
	}
	if out.CompletedAt == nil || !out.CompletedAt.Equal(completed) {
		t.Errorf("CompletedAt = %v, want %v", out.CompletedAt, completed)
	}
}

func TestDecodeReviewMetadataEmpty(t *testing.T) {
	m, err := DecodeReviewMetadata("")
	if err != nil {
		t.Fatalf("DecodeReviewMetadata(empty) error = %v", err)
	}
	if m.Decision != "" || m.ReviewText != "" || m.CompletedAt != nil {
		t.Errorf("DecodeReviewMetadata(empty) = %+v, want zero value", m)
	}
}
