// Package domain defines the entity snapshots shared by the sync layer.
// Entities are immutable value snapshots: mutation means replacing the
// snapshot in a collection, never aliasing fields in place.
package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempIDPrefix marks locally generated ids that have not been confirmed
// by the server yet.
const TempIDPrefix = "tmp_"

// NewTempID generates a temporary id for an optimistic entry.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// NewClientRef generates a correlation token carried on an optimistic
// entry so its server-confirmed counterpart can be matched later.
func NewClientRef() string {
	return uuid.NewString()
}

// IsTempID reports whether id was generated locally.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Entity is the interface all synced records implement.
type Entity interface {
	GetID() string
	GetClientRef() string
}

// Base provides the fields shared by all synced records.
type Base struct {
	ID        string    `json:"id"`
	ClientRef string    `json:"client_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetID returns the record id.
func (b Base) GetID() string { return b.ID }

// GetClientRef returns the correlation token, if any.
func (b Base) GetClientRef() string { return b.ClientRef }

// =============================================================================
// Households
// =============================================================================

// MemberRole describes a member's role within a household.
type MemberRole string

const (
	RoleOwner  MemberRole = "owner"
	RoleMember MemberRole = "member"
)

// Member is a user belonging to a household.
type Member struct {
	UserID   string     `json:"user_id"`
	Name     string     `json:"name"`
	Role     MemberRole `json:"role"`
	JoinedAt time.Time  `json:"joined_at"`
}

// Household is a group of members sharing tasks, bills and chat.
type Household struct {
	Base
	Name       string   `json:"name"`
	InviteCode string   `json:"invite_code,omitempty"`
	CreatedBy  string   `json:"created_by"`
	Members    []Member `json:"members"`
}

// =============================================================================
// Tasks
// =============================================================================

// TaskStatus is the completion state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskCompleted TaskStatus = "completed"
)

// Recurrence describes how often a task repeats.
type Recurrence string

const (
	RecurrenceNone    Recurrence = ""
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
)

// Task is a household chore or to-do item.
type Task struct {
	Base
	HouseholdID string     `json:"household_id"`
	Title       string     `json:"title"`
	Notes       string     `json:"notes,omitempty"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	Status      TaskStatus `json:"status"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Recurrence  Recurrence `json:"recurrence,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CompletedBy string     `json:"completed_by,omitempty"`
}

// Overdue reports whether the task is past due and not completed.
func (t Task) Overdue(now time.Time) bool {
	return t.Status != TaskCompleted && t.DueDate != nil && t.DueDate.Before(now)
}

// =============================================================================
// Bills
// =============================================================================

// BillSplit is one member's share of a bill. A split carries either an
// absolute amount or a percentage, never both.
type BillSplit struct {
	UserID  string     `json:"user_id"`
	Amount  float64    `json:"amount,omitempty"`
	Percent float64    `json:"percent,omitempty"`
	Paid    bool       `json:"paid"`
	PaidAt  *time.Time `json:"paid_at,omitempty"`
}

// Share returns the split's monetary share of the given bill total.
func (s BillSplit) Share(total float64) float64 {
	if s.Percent != 0 {
		return total * s.Percent / 100
	}
	return s.Amount
}

// Bill is a shared expense split across household members.
type Bill struct {
	Base
	HouseholdID string      `json:"household_id"`
	Title       string      `json:"title"`
	Total       float64     `json:"total"`
	PaidBy      string      `json:"paid_by"`
	DueDate     *time.Time  `json:"due_date,omitempty"`
	Splits      []BillSplit `json:"splits"`
}

// =============================================================================
// Chat
// =============================================================================

// PollVote is one user's vote on a poll. A user has at most one active
// vote; re-voting replaces the prior vote.
type PollVote struct {
	UserID          string    `json:"user_id"`
	SelectedOptions []int     `json:"selected_options"`
	CastAt          time.Time `json:"cast_at"`
}

// Poll is an inline poll attached to a chat message.
type Poll struct {
	ID        string     `json:"id"`
	Question  string     `json:"question"`
	Options   []string   `json:"options"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Votes     []PollVote `json:"votes"`
}

// Expired reports whether the poll no longer accepts votes.
func (p Poll) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && p.ExpiresAt.Before(now)
}

// OptionCounts returns the number of votes per option index.
func (p Poll) OptionCounts() []int {
	counts := make([]int, len(p.Options))
	for _, v := range p.Votes {
		for _, opt := range v.SelectedOptions {
			if opt >= 0 && opt < len(counts) {
				counts[opt]++
			}
		}
	}
	return counts
}

// Message is a chat message, optionally carrying a poll.
type Message struct {
	Base
	HouseholdID string `json:"household_id"`
	UserID      string `json:"user_id"`
	Body        string `json:"body,omitempty"`
	Poll        *Poll  `json:"poll,omitempty"`
}

// =============================================================================
// Notifications
// =============================================================================

// NotificationKind classifies a notification for display purposes.
type NotificationKind string

const (
	NotifyTaskAssigned NotificationKind = "task_assigned"
	NotifyTaskDue      NotificationKind = "task_due"
	NotifyBillAdded    NotificationKind = "bill_added"
	NotifyBillDue      NotificationKind = "bill_due"
	NotifyMention      NotificationKind = "mention"
	NotifyGeneral      NotificationKind = "general"
)

// Notification is a per-user alert. Unlike the other entities it is
// scoped by user id, not household id.
type Notification struct {
	Base
	UserID string           `json:"user_id"`
	Kind   NotificationKind `json:"kind"`
	Title  string           `json:"title"`
	Body   string           `json:"body,omitempty"`
	Read   bool             `json:"read"`
	ReadAt *time.Time       `json:"read_at,omitempty"`
}

// =============================================================================
// List queries
// =============================================================================

// ListMeta describes the pagination state of a list response.
type ListMeta struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasMore bool `json:"has_more"`
}

// ListQuery carries pagination, sorting and domain filters for list
// endpoints.
type ListQuery struct {
	Page      int
	Limit     int
	SortBy    string
	SortOrder string
	Filters   map[string]string
}

// Values flattens the query into url parameter pairs.
func (q ListQuery) Values() map[string]string {
	out := make(map[string]string, len(q.Filters)+4)
	for k, v := range q.Filters {
		out[k] = v
	}
	if q.Page > 0 {
		out["page"] = strconv.Itoa(q.Page)
	}
	if q.Limit > 0 {
		out["limit"] = strconv.Itoa(q.Limit)
	}
	if q.SortBy != "" {
		out["sort_by"] = q.SortBy
	}
	if q.SortOrder != "" {
		out["sort_order"] = q.SortOrder
	}
	return out
}
