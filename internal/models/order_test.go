package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestOrder_DisplayStatus(t *testing.T) {
	cases := map[string]string{
		EscrowStatusFunded:        "in_progress",
		EscrowStatusWorkSubmitted: "in_review",
		EscrowStatusReleased:      "completed",
		EscrowStatusRefunded:      "cancelled",
		EscrowStatusDisputed:      "disputed",
	}
	for escrow, display := range cases {
		order := Order{EscrowStatus: escrow}
		assert.Equal(t, display, order.DisplayStatus())
	}
}

func TestOrder_ExtendAutoRelease_Monotonic(t *testing.T) {
	order := Order{}
	base := time.Now()

	order.ExtendAutoRelease(base)
	assert.Equal(t, base, *order.AutoReleaseAt)

	// Сдвиг назад игнорируется.
	order.ExtendAutoRelease(base.Add(-time.Hour))
	assert.Equal(t, base, *order.AutoReleaseAt)

	later := base.Add(48 * time.Hour)
	order.ExtendAutoRelease(later)
	assert.Equal(t, later, *order.AutoReleaseAt)
}

func TestOrder_NextRevisionNumber_ScopedByMilestone(t *testing.T) {
	pos1 := 1
	pos2 := 2
	order := Order{Deliverables: []Deliverable{
		{RevisionNumber: 2, MilestonePosition: &pos1},
		{RevisionNumber: 1, MilestonePosition: &pos2},
		{RevisionNumber: 3},
	}}

	assert.Equal(t, 3, order.NextRevisionNumber(&pos1))
	assert.Equal(t, 2, order.NextRevisionNumber(&pos2))
	// Сдачи вне этапов нумеруются отдельно от этапных.
	assert.Equal(t, 4, order.NextRevisionNumber(nil))
}

func TestOrder_MilestoneSumMatchesPrice(t *testing.T) {
	order := Order{
		Price: 20000,
		Milestones: []Milestone{
			{Amount: 8000},
			{Amount: 12000.005},
		},
	}
	assert.True(t, order.MilestoneSumMatchesPrice())

	order.Milestones[1].Amount = 12100
	assert.False(t, order.MilestoneSumMatchesPrice())
}

func TestOrder_ProtectionLevel(t *testing.T) {
	assert.Equal(t, ProtectionStandard, (&Order{Price: 99999}).ProtectionLevel(100000))
	assert.Equal(t, ProtectionEnhanced, (&Order{Price: 100000}).ProtectionLevel(100000))
}

func TestOrder_PartyChecks(t *testing.T) {
	buyerID := uuid.New()
	sellerID := uuid.New()
	order := Order{BuyerID: buyerID, SellerID: sellerID}

	assert.True(t, order.IsParty(buyerID))
	assert.True(t, order.IsParty(sellerID))
	assert.False(t, order.IsParty(uuid.New()))
}
