package war

import (
	"context"
	"log"
	"time"
)

// Service coordinates reservations, results and war lifecycle on top
// of an injected Store. All invariants are enforced inside the store's
// unit of work, so concurrent callers racing on the same target get a
// typed rejection instead of a silent overwrite.
type Service struct {
	store       Store
	feed        Feed
	feedTimeout time.Duration
}

type Option func(*Service)

// WithFeed attaches the external result feed. Without it,
// RefreshResults and feed-seeded war creation degrade to no-ops.
func WithFeed(f Feed) Option {
	return func(s *Service) { s.feed = f }
}

func WithFeedTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.feedTimeout = d
		}
	}
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		feedTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reserve claims a slot on the target for userID and spends one attack.
func (s *Service) Reserve(ctx context.Context, warID string, targetNumber int, userID string) (*Target, *Member, error) {
	return s.updateBoard(ctx, warID, targetNumber, userID, func(w *War, t *Target, m *Member) error {
		if w.Ended() {
			return ErrWarEnded
		}
		if t.ReservedByMember(userID) {
			return ErrAlreadyReserved
		}
		if len(t.ReservedBy) >= MaxReservationsPerTarget {
			return ErrTargetFull
		}
		if m.AttacksLeft <= 0 {
			return ErrNoAttacksLeft
		}
		if len(m.ReservedTargets) >= MaxReservationsPerMember {
			return ErrReservationCap
		}
		t.addReservation(userID)
		m.AttacksLeft--
		return nil
	})
}

// Cancel releases userID's claim on the target and refunds the attack,
// capped at the war's budget. Any confidence entry goes with it.
func (s *Service) Cancel(ctx context.Context, warID string, targetNumber int, userID string) (*Target, *Member, error) {
	return s.updateBoard(ctx, warID, targetNumber, userID, func(w *War, t *Target, m *Member) error {
		if w.Ended() {
			return ErrWarEnded
		}
		if !t.ReservedByMember(userID) {
			return ErrNotReserved
		}
		t.removeReservation(userID)
		if m.AttacksLeft < w.AttacksPerMember {
			m.AttacksLeft++
		}
		return nil
	})
}

// SetConfidence records userID's estimated destruction percent for a
// target they currently hold. Percent is validated before any state is
// touched.
func (s *Service) SetConfidence(ctx context.Context, warID string, targetNumber int, userID string, percent int) (*Target, *Member, error) {
	if percent < 10 || percent > 100 {
		return nil, nil, ErrInvalidConfidence
	}
	return s.updateBoard(ctx, warID, targetNumber, userID, func(w *War, t *Target, m *Member) error {
		if w.Ended() {
			return ErrWarEnded
		}
		if !t.ReservedByMember(userID) {
			return ErrNotReserved
		}
		if t.Confidence == nil {
			t.Confidence = make(map[string]int)
		}
		t.Confidence[userID] = percent
		return nil
	})
}

// RecordResult stores a manually entered result. Manual results are
// sticky: the reconciler never replaces them.
func (s *Service) RecordResult(ctx context.Context, warID string, targetNumber int, userID string, stars, destruction int) (*Target, error) {
	if stars < 0 || stars > 3 || destruction < 0 || destruction > 100 {
		return nil, ErrInvalidResult
	}
	var target *Target
	err := s.retryStorage(ctx, func() error {
		t, err := s.store.UpdateResult(ctx, warID, targetNumber, func(w *War, t *Target) (Result, bool, error) {
			if w.Ended() {
				return Result{}, false, ErrWarEnded
			}
			return Result{
				Kind:        ResultManual,
				Stars:       stars,
				Destruction: destruction,
				AttackerRef: userID,
			}, true, nil
		})
		target = t
		return err
	})
	if err != nil {
		return nil, err
	}
	return target, nil
}

// War returns the session row.
func (s *Service) War(ctx context.Context, warID string) (*War, error) {
	return s.store.WarByID(ctx, warID)
}

// ActiveWarByChannel returns the non-ended war bound to a channel.
func (s *Service) ActiveWarByChannel(ctx context.Context, channelID string) (*War, error) {
	return s.store.ActiveWarByChannel(ctx, channelID)
}

// ActiveWars lists every non-ended session.
func (s *Service) ActiveWars(ctx context.Context) ([]War, error) {
	return s.store.ListActiveWars(ctx)
}

// Targets returns the full board for a war, ordered by target number.
func (s *Service) Targets(ctx context.Context, warID string) ([]Target, error) {
	return s.store.ListTargets(ctx, warID)
}

// Target returns one board row.
func (s *Service) Target(ctx context.Context, warID string, targetNumber int) (*Target, error) {
	return s.store.TargetByNumber(ctx, warID, targetNumber)
}

// Member returns the ledger view for one participant.
func (s *Service) Member(ctx context.Context, warID, userID string) (*Member, error) {
	return s.store.MemberView(ctx, warID, userID)
}

func (s *Service) updateBoard(ctx context.Context, warID string, targetNumber int, userID string, fn BoardUpdate) (*Target, *Member, error) {
	var (
		target *Target
		member *Member
	)
	err := s.retryStorage(ctx, func() error {
		t, m, err := s.store.UpdateBoard(ctx, warID, targetNumber, userID, fn)
		target, member = t, m
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return target, member, nil
}

// retryStorage runs fn, retrying exactly once when it fails with an
// infrastructure error. Domain conflicts are returned immediately.
func (s *Service) retryStorage(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || IsDomainErr(err) {
		return err
	}
	if ctx.Err() != nil {
		return err
	}
	log.Printf("war: storage error, retrying once: %v", err)
	return fn()
}
