package store

import (
	"context"
	"errors"
	"testing"

	"github.com/dukerupert/flock/internal/model"
)

func TestOfferingSummary(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	c, b := seedChurch(t, db, "Grace")
	gs := NewGivingStore(db)

	entries := []struct {
		kind   string
		amount int64
		on     string
	}{
		{"tithe", 10000, "2024-01-07"},
		{"tithe", 5000, "2024-01-14"},
		{"offering", 2500, "2024-01-14"},
		{"donation", 99900, "2024-02-01"},
	}
	for _, e := range entries {
		_, err := gs.CreateOffering(ctx, &model.Offering{
			ChurchID: c.ID, BranchID: b.ID, Kind: e.kind, AmountCents: e.amount, GivenOn: e.on, RecordedBy: 1,
		})
		if err != nil {
			t.Fatalf("create offering: %v", err)
		}
	}

	totals, err := gs.Summary(ctx, c.ID, OfferingFilter{From: "2024-01-01", To: "2024-01-31"})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(totals) != 2 {
		t.Fatalf("len = %d, want 2", len(totals))
	}
	// ordered by kind
	if totals[0].Kind != "offering" || totals[0].AmountCents != 2500 {
		t.Errorf("totals[0] = %+v", totals[0])
	}
	if totals[1].Kind != "tithe" || totals[1].Count != 2 || totals[1].AmountCents != 15000 {
		t.Errorf("totals[1] = %+v", totals[1])
	}

	list, err := gs.ListOfferings(ctx, c.ID, OfferingFilter{From: "2024-02-01"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Kind != "donation" {
		t.Errorf("list = %+v, want the donation only", list)
	}
}

func TestOfferingRejectsNonPositiveAmount(t *testing.T) {
	db := setupTestDB(t)
	c, b := seedChurch(t, db, "Grace")

	_, err := NewGivingStore(db).CreateOffering(context.Background(), &model.Offering{
		ChurchID: c.ID, BranchID: b.ID, Kind: "tithe", AmountCents: 0, GivenOn: "2024-01-07", RecordedBy: 1,
	})
	if err == nil {
		t.Fatal("expected check constraint error")
	}
}

func TestPledgePayments(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	c, _ := seedChurch(t, db, "Grace")
	gs := NewGivingStore(db)

	p, err := gs.CreatePledge(ctx, &model.Pledge{ChurchID: c.ID, Title: "Roof fund", AmountCents: 10000, DueOn: "2024-12-31"})
	if err != nil {
		t.Fatalf("create pledge: %v", err)
	}
	if p.Status != model.PledgeOpen {
		t.Errorf("status = %q, want %q", p.Status, model.PledgeOpen)
	}

	p, err = gs.AddPayment(ctx, c.ID, p.ID, 4000)
	if err != nil {
		t.Fatalf("first payment: %v", err)
	}
	if p.AmountPaidCents != 4000 || p.Status != model.PledgeOpen {
		t.Errorf("after first payment: paid=%d status=%q", p.AmountPaidCents, p.Status)
	}

	p, err = gs.AddPayment(ctx, c.ID, p.ID, 6000)
	if err != nil {
		t.Fatalf("second payment: %v", err)
	}
	if p.AmountPaidCents != 10000 || p.Status != model.PledgeFulfilled {
		t.Errorf("after second payment: paid=%d status=%q", p.AmountPaidCents, p.Status)
	}

	if _, err := gs.AddPayment(ctx, c.ID, p.ID, 100); !errors.Is(err, ErrPledgeClosed) {
		t.Errorf("payment on fulfilled pledge: err = %v, want ErrPledgeClosed", err)
	}
	if _, err := gs.AddPayment(ctx, c.ID, 9999, 100); !errors.Is(err, ErrNotFound) {
		t.Errorf("payment on missing pledge: err = %v, want ErrNotFound", err)
	}

	// Raising the target reopens it.
	p.AmountCents = 20000
	p, err = gs.UpdatePledge(ctx, p)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if p.Status != model.PledgeOpen {
		t.Errorf("status after raise = %q, want %q", p.Status, model.PledgeOpen)
	}
}

func TestOfferingExternalRefIsUnique(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	c, b := seedChurch(t, db, "Grace")
	gs := NewGivingStore(db)

	online := &model.Offering{
		ChurchID: c.ID, BranchID: b.ID, Kind: "tithe", AmountCents: 2500,
		GivenOn: "2024-01-07", RecordedBy: 1, ExternalRef: "cs_test_1",
	}
	o, err := gs.CreateOffering(ctx, online)
	if err != nil {
		t.Fatalf("create offering: %v", err)
	}
	if o.ExternalRef != "cs_test_1" {
		t.Errorf("external ref = %q, want %q", o.ExternalRef, "cs_test_1")
	}
	if _, err := gs.CreateOffering(ctx, online); !errors.Is(err, ErrDuplicate) {
		t.Errorf("second create: err = %v, want ErrDuplicate", err)
	}

	// Cash offerings have no external ref and never collide.
	for range 2 {
		if _, err := gs.CreateOffering(ctx, &model.Offering{
			ChurchID: c.ID, BranchID: b.ID, Kind: "offering", AmountCents: 100, GivenOn: "2024-01-07", RecordedBy: 1,
		}); err != nil {
			t.Fatalf("create cash offering: %v", err)
		}
	}
}
