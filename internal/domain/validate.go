package domain

import (
	"math"
	"strings"
	"time"
)

// SplitTolerance is the rounding slack allowed when checking that bill
// splits cover the bill total (or 100 percent).
const SplitTolerance = 0.01

// ValidateBillSplits enforces the bill-split invariant: splits must
// either all specify amounts summing to the bill total, or all specify
// percentages summing to 100. Mixing the two modes in one bill is
// rejected before any REST call is made.
func ValidateBillSplits(total float64, splits []BillSplit) error {
	if len(splits) == 0 {
		return NewError(CodeValidation, "bill requires at least one split").WithDetail("splits", "empty")
	}

	var amounts, percents int
	var amountSum, percentSum float64
	for _, s := range splits {
		if s.UserID == "" {
			return NewError(CodeValidation, "split missing user").WithDetail("splits", "user_id required")
		}
		switch {
		case s.Amount != 0 && s.Percent != 0:
			return NewError(CodeValidation, "split specifies both amount and percent").WithDetail("splits", "choose one mode")
		case s.Percent != 0:
			percents++
			percentSum += s.Percent
		default:
			amounts++
			amountSum += s.Amount
		}
	}

	if amounts > 0 && percents > 0 {
		return NewError(CodeValidation, "cannot mix amount and percent splits").WithDetail("splits", "mixed modes")
	}

	if percents > 0 {
		if math.Abs(percentSum-100) > SplitTolerance {
			return NewErrorf(CodeValidation, "split percentages sum to %.2f, want 100", percentSum).WithDetail("splits", "percent sum mismatch")
		}
		return nil
	}

	if math.Abs(amountSum-total) > SplitTolerance {
		return NewErrorf(CodeValidation, "split amounts sum to %.2f, want %.2f", amountSum, total).WithDetail("splits", "amount sum mismatch")
	}
	return nil
}

// ValidateBill checks the fields of a bill before it is sent.
func ValidateBill(b Bill) error {
	if strings.TrimSpace(b.Title) == "" {
		return NewError(CodeValidation, "bill title is required").WithDetail("title", "required")
	}
	if b.Total <= 0 {
		return NewError(CodeValidation, "bill total must be positive").WithDetail("total", "must be > 0")
	}
	return ValidateBillSplits(b.Total, b.Splits)
}

// ValidateTask checks the fields of a task before it is sent.
func ValidateTask(t Task) error {
	if strings.TrimSpace(t.Title) == "" {
		return NewError(CodeValidation, "task title is required").WithDetail("title", "required")
	}
	return nil
}

// ValidateMessage checks a chat message before it is sent. A message
// needs a body unless it carries a poll.
func ValidateMessage(m Message) error {
	if strings.TrimSpace(m.Body) == "" && m.Poll == nil {
		return NewError(CodeValidation, "message body is required").WithDetail("body", "required")
	}
	if m.Poll != nil {
		return ValidatePoll(*m.Poll)
	}
	return nil
}

// ValidatePoll checks a poll definition.
func ValidatePoll(p Poll) error {
	if strings.TrimSpace(p.Question) == "" {
		return NewError(CodeValidation, "poll question is required").WithDetail("question", "required")
	}
	if len(p.Options) < 2 {
		return NewError(CodeValidation, "poll requires at least two options").WithDetail("options", "need >= 2")
	}
	return nil
}

// ValidatePollVote checks a vote against the poll it targets. Expired
// polls reject new votes; option indexes must be in range.
func ValidatePollVote(p Poll, selected []int, now time.Time) error {
	if p.Expired(now) {
		return NewError(CodeValidation, "poll has expired").WithDetail("poll", "expired")
	}
	if len(selected) == 0 {
		return NewError(CodeValidation, "vote selects no options").WithDetail("selected_options", "empty")
	}
	for _, opt := range selected {
		if opt < 0 || opt >= len(p.Options) {
			return NewErrorf(CodeValidation, "option index %d out of range", opt).WithDetail("selected_options", "out of range")
		}
	}
	return nil
}
