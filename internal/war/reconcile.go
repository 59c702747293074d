package war

import (
	"context"
	"errors"
	"log"
)

// RefreshResults pulls the current feed snapshot for the war's clan
// and merges it into the board. It returns the number of targets whose
// result changed. Feed outages, denied access and "not in war" are
// absorbed: stored results stay as they are and the cycle reports zero
// updates. Safe to call concurrently with itself and with the
// coordinator; the per-target compare-and-write makes overlapping runs
// commutative.
func (s *Service) RefreshResults(ctx context.Context, warID string) (int, error) {
	w, err := s.store.WarByID(ctx, warID)
	if err != nil {
		return 0, err
	}
	if w.Ended() {
		return 0, ErrWarEnded
	}
	if s.feed == nil {
		return 0, nil
	}

	snap, err := s.fetchSnapshot(ctx, w.ClanTag)
	if err != nil {
		if IsFeedErr(err) {
			log.Printf("war: refresh skipped for %s: %v", warID, err)
			return 0, nil
		}
		return 0, err
	}

	if snap.State == "inWar" && w.State == StatePreparation {
		if err := s.store.SetWarState(ctx, warID, StateActive); err != nil && !errors.Is(err, ErrWarEnded) {
			log.Printf("war: failed to activate %s: %v", warID, err)
		}
	}

	return s.applySnapshot(ctx, w, snap)
}

// applySnapshot merges the snapshot into the board: per target, the best
// attack on its defender wins, manual results are sticky, and a
// reconciled result is only written when it is strictly better than
// the stored one (or the stored one names no attacker), and only when
// the value actually differs.
func (s *Service) applySnapshot(ctx context.Context, w *War, snap *FeedSnapshot) (int, error) {
	updated := 0
	for _, om := range snap.OpponentMembers {
		targetNumber := om.MapPosition
		if targetNumber < 1 || targetNumber > w.TeamSize {
			continue
		}
		best, ok := bestAttackOn(snap.Attacks, om.Tag)
		if !ok {
			continue
		}

		wrote := false
		err := s.retryStorage(ctx, func() error {
			_, err := s.store.UpdateResult(ctx, w.ID, targetNumber, func(w *War, t *Target) (Result, bool, error) {
				if w.Ended() {
					return Result{}, false, ErrWarEnded
				}
				next, write := mergeResult(t.Result, best)
				wrote = write
				return next, write, nil
			})
			return err
		})
		if err != nil {
			if errors.Is(err, ErrWarEnded) {
				return updated, nil
			}
			log.Printf("war: refresh of %s target %d failed: %v", w.ID, targetNumber, err)
			continue
		}
		if wrote {
			log.Printf("war: %s target %d reconciled to %d stars %d%% (attacker %s)",
				w.ID, targetNumber, best.Stars, best.Destruction, best.AttackerTag)
			updated++
		}
	}
	return updated, nil
}

// bestAttackOn picks the lexicographically best attack on defenderTag:
// stars first, destruction as the tiebreak. Ties keep the first
// encountered.
func bestAttackOn(attacks []FeedAttack, defenderTag string) (FeedAttack, bool) {
	var best FeedAttack
	found := false
	for _, a := range attacks {
		if a.DefenderTag != defenderTag {
			continue
		}
		if !found {
			best, found = a, true
			continue
		}
		if a.Stars > best.Stars || (a.Stars == best.Stars && a.Destruction > best.Destruction) {
			best = a
		}
	}
	return best, found
}

// mergeResult decides whether best replaces current. Manual results
// never change. Otherwise best wins when strictly better, or when the
// current result has no attacker recorded at all; identical values are
// not rewritten.
func mergeResult(current Result, best FeedAttack) (Result, bool) {
	if current.Kind == ResultManual {
		return current, false
	}
	next := Result{
		Kind:        ResultReconciled,
		Stars:       best.Stars,
		Destruction: best.Destruction,
		AttackerRef: best.AttackerTag,
	}
	if next == current {
		return current, false
	}
	if current.beatenBy(best.Stars, best.Destruction) || current.AttackerRef == "" {
		return next, true
	}
	return current, false
}

func (s *Service) fetchSnapshot(ctx context.Context, clanTag string) (*FeedSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.feedTimeout)
	defer cancel()
	return s.feed.CurrentWar(ctx, clanTag)
}
