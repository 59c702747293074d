package war

import (
	"context"
	"errors"
	"testing"
)

func reconcileFixture(t *testing.T, feed Feed) (*Service, *War) {
	t.Helper()
	svc := NewService(newMemStore(), WithFeed(feed))
	w, err := svc.StartWar(context.Background(), StartWarParams{
		ChannelID: "chan1",
		ClanTag:   "#ABC123",
		TeamSize:  3,
	})
	if err != nil {
		t.Fatalf("StartWar failed: %v", err)
	}
	return svc, w
}

func snapshotWithAttacks(attacks ...FeedAttack) *FeedSnapshot {
	return &FeedSnapshot{
		State:    "inWar",
		TeamSize: 3,
		OpponentMembers: []FeedMember{
			{Tag: "#D1", MapPosition: 1},
			{Tag: "#D2", MapPosition: 2},
			{Tag: "#D3", MapPosition: 3},
		},
		Attacks: attacks,
	}
}

func TestRefreshAppliesBestAttack(t *testing.T) {
	ctx := context.Background()
	feed := &stubFeed{snap: snapshotWithAttacks(
		FeedAttack{AttackerTag: "#A1", DefenderTag: "#D1", Stars: 2, Destruction: 60},
		FeedAttack{AttackerTag: "#A2", DefenderTag: "#D1", Stars: 2, Destruction: 85},
		FeedAttack{AttackerTag: "#A3", DefenderTag: "#D2", Stars: 3, Destruction: 100},
	)}
	svc, w := reconcileFixture(t, feed)

	updated, err := svc.RefreshResults(ctx, w.ID)
	if err != nil {
		t.Fatalf("RefreshResults failed: %v", err)
	}
	if updated != 2 {
		t.Errorf("updated = %d, want 2", updated)
	}

	target, err := svc.Target(ctx, w.ID, 1)
	if err != nil {
		t.Fatalf("Target failed: %v", err)
	}
	if target.Result.Kind != ResultReconciled {
		t.Errorf("Kind = %q, want reconciled", target.Result.Kind)
	}
	// Destruction breaks the star tie.
	if target.Result.AttackerRef != "#A2" || target.Result.Destruction != 85 {
		t.Errorf("target 1 = %q %d%%, want #A2 85%%", target.Result.AttackerRef, target.Result.Destruction)
	}

	target3, err := svc.Target(ctx, w.ID, 3)
	if err != nil {
		t.Fatalf("Target failed: %v", err)
	}
	if target3.Result.IsSet() {
		t.Error("target 3 had no attacks and should stay unset")
	}

	// A second run with the same snapshot writes nothing.
	updated, err = svc.RefreshResults(ctx, w.ID)
	if err != nil {
		t.Fatalf("second RefreshResults failed: %v", err)
	}
	if updated != 0 {
		t.Errorf("second run updated = %d, want 0", updated)
	}
}

func TestRefreshUpgradesOnlyStrictlyBetter(t *testing.T) {
	ctx := context.Background()
	feed := &stubFeed{snap: snapshotWithAttacks(
		FeedAttack{AttackerTag: "#A1", DefenderTag: "#D1", Stars: 2, Destruction: 70},
	)}
	svc, w := reconcileFixture(t, feed)

	if _, err := svc.RefreshResults(ctx, w.ID); err != nil {
		t.Fatalf("RefreshResults failed: %v", err)
	}

	// A worse snapshot must not regress the stored result.
	feed.snap = snapshotWithAttacks(
		FeedAttack{AttackerTag: "#A9", DefenderTag: "#D1", Stars: 1, Destruction: 99},
	)
	updated, err := svc.RefreshResults(ctx, w.ID)
	if err != nil {
		t.Fatalf("RefreshResults failed: %v", err)
	}
	if updated != 0 {
		t.Errorf("worse attack updated = %d, want 0", updated)
	}
	target, _ := svc.Target(ctx, w.ID, 1)
	if target.Result.Stars != 2 || target.Result.AttackerRef != "#A1" {
		t.Errorf("result regressed to %d stars by %q", target.Result.Stars, target.Result.AttackerRef)
	}

	// A strictly better one replaces it.
	feed.snap = snapshotWithAttacks(
		FeedAttack{AttackerTag: "#A5", DefenderTag: "#D1", Stars: 3, Destruction: 100},
	)
	updated, err = svc.RefreshResults(ctx, w.ID)
	if err != nil {
		t.Fatalf("RefreshResults failed: %v", err)
	}
	if updated != 1 {
		t.Errorf("better attack updated = %d, want 1", updated)
	}
	target, _ = svc.Target(ctx, w.ID, 1)
	if target.Result.Stars != 3 || target.Result.AttackerRef != "#A5" {
		t.Errorf("result = %d stars by %q, want 3 by #A5", target.Result.Stars, target.Result.AttackerRef)
	}
}

func TestRefreshKeepsManualResults(t *testing.T) {
	ctx := context.Background()
	feed := &stubFeed{snap: snapshotWithAttacks(
		FeedAttack{AttackerTag: "#A1", DefenderTag: "#D1", Stars: 3, Destruction: 100},
	)}
	svc, w := reconcileFixture(t, feed)

	if _, err := svc.RecordResult(ctx, w.ID, 1, "alice", 1, 40); err != nil {
		t.Fatalf("RecordResult failed: %v", err)
	}

	updated, err := svc.RefreshResults(ctx, w.ID)
	if err != nil {
		t.Fatalf("RefreshResults failed: %v", err)
	}
	if updated != 0 {
		t.Errorf("updated = %d, want 0: manual results are sticky", updated)
	}
	target, _ := svc.Target(ctx, w.ID, 1)
	if target.Result.Kind != ResultManual || target.Result.Stars != 1 {
		t.Errorf("result = %q %d stars, want the manual 1-star entry", target.Result.Kind, target.Result.Stars)
	}
}

func TestRefreshAbsorbsFeedErrors(t *testing.T) {
	ctx := context.Background()
	for _, feedErr := range []error{ErrFeedNotActive, ErrFeedAccessDenied, ErrFeedUnavailable} {
		feed := &stubFeed{err: feedErr}
		svc, w := reconcileFixture(t, feed)

		updated, err := svc.RefreshResults(ctx, w.ID)
		if err != nil {
			t.Errorf("%v: RefreshResults returned %v, want nil", feedErr, err)
		}
		if updated != 0 {
			t.Errorf("%v: updated = %d, want 0", feedErr, updated)
		}
	}
}

func TestRefreshWithoutFeed(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemStore())
	w := startTestWar(t, svc, "chan1", 2)

	updated, err := svc.RefreshResults(ctx, w.ID)
	if err != nil || updated != 0 {
		t.Errorf("got (%d, %v), want (0, nil)", updated, err)
	}
}

func TestRefreshPromotesPreparation(t *testing.T) {
	ctx := context.Background()
	// No snapshot during start, so the war begins in preparation.
	feed := &stubFeed{err: ErrFeedNotActive}
	svc, w := reconcileFixture(t, feed)
	if w.State != StatePreparation {
		t.Fatalf("fixture war state = %q, want preparation", w.State)
	}

	feed.err = nil
	feed.snap = snapshotWithAttacks()
	if _, err := svc.RefreshResults(ctx, w.ID); err != nil {
		t.Fatalf("RefreshResults failed: %v", err)
	}

	got, err := svc.War(ctx, w.ID)
	if err != nil {
		t.Fatalf("War failed: %v", err)
	}
	if got.State != StateActive {
		t.Errorf("State = %q, want active after the feed reports inWar", got.State)
	}
}

func TestRefreshEndedWar(t *testing.T) {
	ctx := context.Background()
	feed := &stubFeed{snap: snapshotWithAttacks()}
	svc, w := reconcileFixture(t, feed)

	if err := svc.EndWar(ctx, w.ID); err != nil {
		t.Fatalf("EndWar failed: %v", err)
	}
	if _, err := svc.RefreshResults(ctx, w.ID); !errors.Is(err, ErrWarEnded) {
		t.Errorf("got %v, want ErrWarEnded", err)
	}
}

func TestBestAttackOn(t *testing.T) {
	attacks := []FeedAttack{
		{AttackerTag: "#A1", DefenderTag: "#D1", Stars: 2, Destruction: 80},
		{AttackerTag: "#A2", DefenderTag: "#D2", Stars: 3, Destruction: 100},
		{AttackerTag: "#A3", DefenderTag: "#D1", Stars: 2, Destruction: 80},
		{AttackerTag: "#A4", DefenderTag: "#D1", Stars: 1, Destruction: 99},
	}

	best, ok := bestAttackOn(attacks, "#D1")
	if !ok {
		t.Fatal("expected an attack on #D1")
	}
	// Exact ties keep the first attack encountered.
	if best.AttackerTag != "#A1" {
		t.Errorf("best = %q, want #A1", best.AttackerTag)
	}

	if _, ok := bestAttackOn(attacks, "#D9"); ok {
		t.Error("expected no attack on #D9")
	}
}
