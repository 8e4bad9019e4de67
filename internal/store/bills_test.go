package store

import (
	"context"
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/hearthhub/hearthhub/internal/domain"
	"github.com/hearthhub/hearthhub/pkg/testutil"
)

func seedBills(t *testing.T, f *fixture, s *BillStore, bills ...domain.Bill) {
	t.Helper()
	f.server.Handle(http.MethodGet, "/api/bills", http.StatusOK, bills)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestBillCreateRejectsInvalidSplitsLocally(t *testing.T) {
	f := newFixture(t)
	s := NewBillStore(f.deps)
	s.Reset("h1")

	tests := []struct {
		name   string
		splits []domain.BillSplit
	}{
		{"mixed modes", []domain.BillSplit{
			{UserID: "u1", Amount: 50},
			{UserID: "u2", Percent: 50},
		}},
		{"amounts off total", []domain.BillSplit{
			{UserID: "u1", Amount: 30},
			{UserID: "u2", Amount: 30},
		}},
		{"percents off hundred", []domain.BillSplit{
			{UserID: "u1", Percent: 40},
			{UserID: "u2", Percent: 40},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Create(context.Background(), BillInput{Title: "Rent", Total: 100, PaidBy: "u1", Splits: tt.splits})
			if !domain.IsCode(err, domain.CodeValidation) {
				t.Errorf("Create() error = %v, want VALIDATION_ERROR", err)
			}
		})
	}

	if hits := f.server.Hits(http.MethodPost, "/api/bills"); hits != 0 {
		t.Errorf("server hits = %d, want 0 (invariant enforced before the call)", hits)
	}
	if len(s.Bills()) != 0 {
		t.Error("invalid input left optimistic entries behind")
	}
}

func TestBillCreateReconciles(t *testing.T) {
	f := newFixture(t)
	s := NewBillStore(f.deps)
	s.Reset("h1")

	f.server.HandleFunc(http.MethodPost, "/api/bills", func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteData(w, http.StatusCreated, domain.Bill{
			Base:        domain.Base{ID: "bill-7"},
			HouseholdID: "h1",
			Title:       "Rent",
			Total:       100,
			PaidBy:      "u1",
			Splits:      []domain.BillSplit{{UserID: "u1", Percent: 60}, {UserID: "u2", Percent: 40}},
		}, nil)
	})

	created, err := s.Create(context.Background(), BillInput{
		Title:  "Rent",
		Total:  100,
		PaidBy: "u1",
		Splits: []domain.BillSplit{{UserID: "u1", Percent: 60}, {UserID: "u2", Percent: 40}},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.ID != "bill-7" {
		t.Errorf("created.ID = %q, want bill-7", created.ID)
	}
	if len(s.Bills()) != 1 || s.coll.PendingCount() != 0 {
		t.Errorf("bills = %d pending = %d, want 1/0", len(s.Bills()), s.coll.PendingCount())
	}
}

func TestBillUpdateRevalidatesSplits(t *testing.T) {
	f := newFixture(t)
	s := NewBillStore(f.deps)
	s.Reset("h1")
	seedBills(t, f, s, domain.Bill{
		Base:        domain.Base{ID: "bill-1"},
		HouseholdID: "h1",
		Title:       "Rent",
		Total:       100,
		Splits:      []domain.BillSplit{{UserID: "u1", Amount: 100}},
	})

	// Changing the total without adjusting splits breaks the invariant.
	total := 120.0
	_, err := s.Update(context.Background(), "bill-1", BillPatch{Total: &total})
	if !domain.IsCode(err, domain.CodeValidation) {
		t.Fatalf("Update() error = %v, want VALIDATION_ERROR", err)
	}
	if hits := f.server.Hits(http.MethodPut, "/api/bills/{id}"); hits != 0 {
		t.Errorf("server hits = %d, want 0", hits)
	}
	got, _ := s.Get("bill-1")
	if got.Total != 100 {
		t.Errorf("Total = %v after rejected patch, want 100", got.Total)
	}
}

func TestRecordPaymentOptimisticRollback(t *testing.T) {
	f := newFixture(t)
	s := NewBillStore(f.deps)
	s.Reset("h1")
	seedBills(t, f, s, domain.Bill{
		Base:        domain.Base{ID: "bill-1"},
		HouseholdID: "h1",
		Title:       "Rent",
		Total:       100,
		PaidBy:      "u1",
		Splits:      []domain.BillSplit{{UserID: "u1", Amount: 60}, {UserID: "u2", Amount: 40}},
	})

	f.server.HandleError(http.MethodPost, "/api/bills/{id}/payments", http.StatusInternalServerError, string(domain.CodeServer), "db down")

	_, err := s.RecordPayment(context.Background(), "bill-1", "u2")
	if !domain.IsCode(err, domain.CodeServer) {
		t.Fatalf("RecordPayment() error = %v, want SERVER_ERROR", err)
	}

	got, _ := s.Get("bill-1")
	for _, split := range got.Splits {
		if split.Paid {
			t.Errorf("split %q still marked paid after rollback", split.UserID)
		}
	}
}

func TestRecordPaymentSuccess(t *testing.T) {
	f := newFixture(t)
	s := NewBillStore(f.deps)
	s.Reset("h1")
	seedBills(t, f, s, domain.Bill{
		Base:        domain.Base{ID: "bill-1"},
		HouseholdID: "h1",
		Title:       "Rent",
		Total:       100,
		PaidBy:      "u1",
		Splits:      []domain.BillSplit{{UserID: "u1", Amount: 60}, {UserID: "u2", Amount: 40}},
	})

	now := time.Now()
	f.server.HandleFunc(http.MethodPost, "/api/bills/{id}/payments", func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteData(w, http.StatusOK, domain.Bill{
			Base:        domain.Base{ID: "bill-1"},
			HouseholdID: "h1",
			Title:       "Rent",
			Total:       100,
			PaidBy:      "u1",
			Splits: []domain.BillSplit{
				{UserID: "u1", Amount: 60},
				{UserID: "u2", Amount: 40, Paid: true, PaidAt: &now},
			},
		}, nil)
	})

	updated, err := s.RecordPayment(context.Background(), "bill-1", "u2")
	if err != nil {
		t.Fatalf("RecordPayment() error = %v", err)
	}
	if !updated.Splits[1].Paid {
		t.Error("split not marked paid")
	}

	// Paying the same split again is a no-op.
	if _, err := s.RecordPayment(context.Background(), "bill-1", "u2"); err != nil {
		t.Fatalf("second RecordPayment() error = %v", err)
	}
	if hits := f.server.Hits(http.MethodPost, "/api/bills/{id}/payments"); hits != 1 {
		t.Errorf("payment hits = %d, want 1", hits)
	}

	// Paying for a user with no split is rejected locally.
	if _, err := s.RecordPayment(context.Background(), "bill-1", "u9"); !domain.IsCode(err, domain.CodeValidation) {
		t.Errorf("RecordPayment(no split) = %v, want VALIDATION_ERROR", err)
	}
}

func TestBalancesDerived(t *testing.T) {
	f := newFixture(t)
	s := NewBillStore(f.deps)
	s.Reset("h1")
	seedBills(t, f, s,
		domain.Bill{
			Base:        domain.Base{ID: "bill-1"},
			HouseholdID: "h1",
			Title:       "Rent",
			Total:       100,
			PaidBy:      "u1",
			Splits:      []domain.BillSplit{{UserID: "u1", Amount: 60}, {UserID: "u2", Amount: 40}},
		},
		domain.Bill{
			Base:        domain.Base{ID: "bill-2"},
			HouseholdID: "h1",
			Title:       "Internet",
			Total:       50,
			PaidBy:      "u2",
			Splits:      []domain.BillSplit{{UserID: "u1", Percent: 50}, {UserID: "u2", Percent: 50, Paid: true}},
		},
	)

	balances := s.Balances()
	// u2 owes u1 40 for rent; u1 owes u2 25 for internet.
	if got := balances["u1"]; math.Abs(got-15) > 0.001 {
		t.Errorf("balances[u1] = %v, want 15", got)
	}
	if got := balances["u2"]; math.Abs(got-(-15)) > 0.001 {
		t.Errorf("balances[u2] = %v, want -15", got)
	}
}
