package domain

import (
	"testing"
	"time"
)

// =============================================================================
// Bill split validation
// =============================================================================

func TestValidateBillSplitsAmounts(t *testing.T) {
	splits := []BillSplit{
		{UserID: "u1", Amount: 60},
		{UserID: "u2", Amount: 40},
	}
	if err := ValidateBillSplits(100, splits); err != nil {
		t.Errorf("ValidateBillSplits() = %v, want nil", err)
	}
}

func TestValidateBillSplitsPercents(t *testing.T) {
	splits := []BillSplit{
		{UserID: "u1", Percent: 33.33},
		{UserID: "u2", Percent: 33.33},
		{UserID: "u3", Percent: 33.34},
	}
	if err := ValidateBillSplits(90, splits); err != nil {
		t.Errorf("ValidateBillSplits() = %v, want nil", err)
	}
}

func TestValidateBillSplitsTolerance(t *testing.T) {
	// Rounding slack of a cent is accepted; anything beyond is not.
	ok := []BillSplit{
		{UserID: "u1", Amount: 50},
		{UserID: "u2", Amount: 49.995},
	}
	if err := ValidateBillSplits(100, ok); err != nil {
		t.Errorf("within tolerance: got %v, want nil", err)
	}

	bad := []BillSplit{
		{UserID: "u1", Amount: 50},
		{UserID: "u2", Amount: 49},
	}
	err := ValidateBillSplits(100, bad)
	if !IsCode(err, CodeValidation) {
		t.Errorf("beyond tolerance: got %v, want VALIDATION_ERROR", err)
	}
}

func TestValidateBillSplitsRejects(t *testing.T) {
	tests := []struct {
		name   string
		total  float64
		splits []BillSplit
	}{
		{"empty", 100, nil},
		{"missing user", 100, []BillSplit{{Amount: 100}}},
		{"both modes on one split", 100, []BillSplit{{UserID: "u1", Amount: 50, Percent: 50}}},
		{"mixed modes", 100, []BillSplit{
			{UserID: "u1", Amount: 50},
			{UserID: "u2", Percent: 50},
		}},
		{"percent sum off", 100, []BillSplit{
			{UserID: "u1", Percent: 60},
			{UserID: "u2", Percent: 30},
		}},
		{"amount sum off", 100, []BillSplit{
			{UserID: "u1", Amount: 10},
			{UserID: "u2", Amount: 10},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBillSplits(tt.total, tt.splits)
			if !IsCode(err, CodeValidation) {
				t.Errorf("ValidateBillSplits() = %v, want VALIDATION_ERROR", err)
			}
		})
	}
}

func TestValidateBill(t *testing.T) {
	bill := Bill{
		Title:  "Electric",
		Total:  120,
		Splits: []BillSplit{{UserID: "u1", Amount: 120}},
	}
	if err := ValidateBill(bill); err != nil {
		t.Errorf("ValidateBill() = %v, want nil", err)
	}

	bill.Title = "  "
	if !IsCode(ValidateBill(bill), CodeValidation) {
		t.Error("blank title should be rejected")
	}

	bill.Title = "Electric"
	bill.Total = 0
	if !IsCode(ValidateBill(bill), CodeValidation) {
		t.Error("zero total should be rejected")
	}
}

// =============================================================================
// Task and message validation
// =============================================================================

func TestValidateTask(t *testing.T) {
	if err := ValidateTask(Task{Title: "Take out trash"}); err != nil {
		t.Errorf("ValidateTask() = %v, want nil", err)
	}
	if !IsCode(ValidateTask(Task{Title: " "}), CodeValidation) {
		t.Error("blank title should be rejected")
	}
}

func TestValidateMessage(t *testing.T) {
	if err := ValidateMessage(Message{Body: "hello"}); err != nil {
		t.Errorf("body only: got %v, want nil", err)
	}

	poll := &Poll{Question: "Pizza night?", Options: []string{"yes", "no"}}
	if err := ValidateMessage(Message{Poll: poll}); err != nil {
		t.Errorf("poll only: got %v, want nil", err)
	}

	if !IsCode(ValidateMessage(Message{}), CodeValidation) {
		t.Error("empty message should be rejected")
	}

	onePoll := &Poll{Question: "Pizza night?", Options: []string{"yes"}}
	if !IsCode(ValidateMessage(Message{Poll: onePoll}), CodeValidation) {
		t.Error("poll with one option should be rejected")
	}
}

// =============================================================================
// Poll votes
// =============================================================================

func TestValidatePollVote(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	poll := Poll{Question: "Movie?", Options: []string{"a", "b", "c"}}

	if err := ValidatePollVote(poll, []int{1}, now); err != nil {
		t.Errorf("ValidatePollVote() = %v, want nil", err)
	}

	if !IsCode(ValidatePollVote(poll, nil, now), CodeValidation) {
		t.Error("empty selection should be rejected")
	}
	if !IsCode(ValidatePollVote(poll, []int{3}, now), CodeValidation) {
		t.Error("out-of-range option should be rejected")
	}

	expired := now.Add(-time.Hour)
	poll.ExpiresAt = &expired
	if !IsCode(ValidatePollVote(poll, []int{0}, now), CodeValidation) {
		t.Error("expired poll should reject votes")
	}
}

func TestPollOptionCounts(t *testing.T) {
	poll := Poll{
		Options: []string{"a", "b"},
		Votes: []PollVote{
			{UserID: "u1", SelectedOptions: []int{0}},
			{UserID: "u2", SelectedOptions: []int{0, 1}},
			{UserID: "u3", SelectedOptions: []int{7}},
		},
	}
	counts := poll.OptionCounts()
	if counts[0] != 2 || counts[1] != 1 {
		t.Errorf("OptionCounts() = %v, want [2 1]", counts)
	}
}

// =============================================================================
// Errors
// =============================================================================

func TestCodeOf(t *testing.T) {
	err := NewError(CodeConflict, "version mismatch")
	if got := CodeOf(err); got != CodeConflict {
		t.Errorf("CodeOf() = %s, want %s", got, CodeConflict)
	}
	if got := CodeOf(timeoutErr{}); got != CodeUnknown {
		t.Errorf("CodeOf(plain error) = %s, want %s", got, CodeUnknown)
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(NewError(CodeNetwork, "connection refused")) {
		t.Error("network errors should be transient")
	}
	if !IsTransient(NewError(CodeServer, "internal error")) {
		t.Error("server errors should be transient")
	}
	if IsTransient(NewError(CodeValidation, "bad input")) {
		t.Error("validation errors should not be transient")
	}
}

func TestWithDetail(t *testing.T) {
	err := NewError(CodeValidation, "bad input").
		WithDetail("title", "required").
		WithDetail("total", "must be > 0")
	if len(err.Details) != 2 {
		t.Errorf("Details = %v, want 2 entries", err.Details)
	}
	if err.Details["title"] != "required" {
		t.Errorf("Details[title] = %q, want %q", err.Details["title"], "required")
	}
}

func TestTempIDs(t *testing.T) {
	id := NewTempID()
	if !IsTempID(id) {
		t.Errorf("NewTempID() = %q, not recognized as temporary", id)
	}
	if IsTempID("task-99") {
		t.Error("server id wrongly recognized as temporary")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string { return "timeout" }
