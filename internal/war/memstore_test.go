package war

import (
	"context"
	"sync"
	"time"
)

// memStore is an in-memory Store for tests. The single mutex stands in
// for the row locks: every unit of work sees a consistent snapshot and
// callback failures leave nothing behind.
type memStore struct {
	mu      sync.Mutex
	wars    map[string]*War
	targets map[string]map[int]*Target
	members map[string]map[string]*Member

	// failures makes the next N mutations fail with failErr, for
	// exercising the retry path.
	failures int
	failErr  error
}

func newMemStore() *memStore {
	return &memStore{
		wars:    map[string]*War{},
		targets: map[string]map[int]*Target{},
		members: map[string]map[string]*Member{},
	}
}

func (s *memStore) failNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
	s.failErr = err
}

func (s *memStore) takeFailure() error {
	if s.failures > 0 {
		s.failures--
		return s.failErr
	}
	return nil
}

func (s *memStore) CreateWar(ctx context.Context, w *War, targets []Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	for _, existing := range s.wars {
		if existing.ChannelID == w.ChannelID && !existing.Ended() {
			return ErrDuplicateActiveWar
		}
	}
	s.wars[w.ID] = copyWar(w)
	s.targets[w.ID] = map[int]*Target{}
	s.members[w.ID] = map[string]*Member{}
	for i := range targets {
		t := copyTarget(&targets[i])
		s.targets[w.ID][t.Number] = t
	}
	return nil
}

func (s *memStore) WarByID(ctx context.Context, warID string) (*War, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wars[warID]
	if !ok {
		return nil, ErrWarNotFound
	}
	return copyWar(w), nil
}

func (s *memStore) ActiveWarByChannel(ctx context.Context, channelID string) (*War, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.wars {
		if w.ChannelID == channelID && !w.Ended() {
			return copyWar(w), nil
		}
	}
	return nil, ErrWarNotFound
}

func (s *memStore) ListActiveWars(ctx context.Context) ([]War, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []War
	for _, w := range s.wars {
		if !w.Ended() {
			out = append(out, *copyWar(w))
		}
	}
	return out, nil
}

func (s *memStore) SetWarState(ctx context.Context, warID string, state WarState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wars[warID]
	if !ok {
		return ErrWarNotFound
	}
	if w.Ended() {
		return ErrWarEnded
	}
	w.State = state
	return nil
}

func (s *memStore) EndWar(ctx context.Context, warID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wars[warID]
	if !ok {
		return ErrWarNotFound
	}
	if w.Ended() {
		return ErrAlreadyEnded
	}
	now := time.Now().UTC()
	w.State = StateEnded
	w.EndedAt = &now
	return nil
}

func (s *memStore) SaveMessageRefs(ctx context.Context, warID string, refs map[int]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wars[warID]
	if !ok {
		return ErrWarNotFound
	}
	w.MessageRefs = map[int]string{}
	for n, id := range refs {
		w.MessageRefs[n] = id
	}
	return nil
}

func (s *memStore) TargetByNumber(ctx context.Context, warID string, targetNumber int) (*Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targets[warID][targetNumber]
	if !ok {
		if _, exists := s.wars[warID]; !exists {
			return nil, ErrWarNotFound
		}
		return nil, ErrTargetNotFound
	}
	return copyTarget(t), nil
}

func (s *memStore) ListTargets(ctx context.Context, warID string) ([]Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byNumber, ok := s.targets[warID]
	if !ok {
		return nil, ErrWarNotFound
	}
	max := 0
	for n := range byNumber {
		if n > max {
			max = n
		}
	}
	var out []Target
	for n := 1; n <= max; n++ {
		if t, ok := byNumber[n]; ok {
			out = append(out, *copyTarget(t))
		}
	}
	return out, nil
}

func (s *memStore) MemberView(ctx context.Context, warID, userID string) (*Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wars[warID]
	if !ok {
		return nil, ErrWarNotFound
	}
	if m, ok := s.members[warID][userID]; ok {
		return copyMember(m), nil
	}
	return &Member{
		WarID:              warID,
		UserID:             userID,
		AttacksLeft:        w.AttacksPerMember,
		ConfidenceByTarget: map[int]int{},
	}, nil
}

func (s *memStore) UpdateBoard(ctx context.Context, warID string, targetNumber int, userID string, fn BoardUpdate) (*Target, *Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, nil, err
	}

	w, ok := s.wars[warID]
	if !ok {
		return nil, nil, ErrWarNotFound
	}
	stored, ok := s.targets[warID][targetNumber]
	if !ok {
		return nil, nil, ErrTargetNotFound
	}

	storedMember, ok := s.members[warID][userID]
	if !ok {
		storedMember = &Member{
			WarID:              warID,
			UserID:             userID,
			AttacksLeft:        w.AttacksPerMember,
			ConfidenceByTarget: map[int]int{},
		}
		s.members[warID][userID] = storedMember
	}

	t := copyTarget(stored)
	m := copyMember(storedMember)
	wasReserved := t.ReservedByMember(userID)

	if err := fn(copyWar(w), t, m); err != nil {
		return nil, nil, err
	}

	nowReserved := t.ReservedByMember(userID)
	switch {
	case nowReserved && !wasReserved:
		m.ReservedTargets = append(m.ReservedTargets, targetNumber)
	case !nowReserved && wasReserved:
		kept := m.ReservedTargets[:0]
		for _, n := range m.ReservedTargets {
			if n != targetNumber {
				kept = append(kept, n)
			}
		}
		m.ReservedTargets = kept
		delete(m.ConfidenceByTarget, targetNumber)
	}
	if c, ok := t.Confidence[userID]; ok && nowReserved {
		m.ConfidenceByTarget[targetNumber] = c
	}

	s.targets[warID][targetNumber] = copyTarget(t)
	s.members[warID][userID] = copyMember(m)
	return t, m, nil
}

func (s *memStore) UpdateResult(ctx context.Context, warID string, targetNumber int, fn ResultUpdate) (*Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}

	w, ok := s.wars[warID]
	if !ok {
		return nil, ErrWarNotFound
	}
	stored, ok := s.targets[warID][targetNumber]
	if !ok {
		return nil, ErrTargetNotFound
	}

	t := copyTarget(stored)
	result, write, err := fn(copyWar(w), t)
	if err != nil {
		return nil, err
	}
	if write {
		t.Result = result
		s.targets[warID][targetNumber] = copyTarget(t)
	}
	return t, nil
}

func copyWar(w *War) *War {
	out := *w
	out.MessageRefs = map[int]string{}
	for n, id := range w.MessageRefs {
		out.MessageRefs[n] = id
	}
	if w.EndedAt != nil {
		at := *w.EndedAt
		out.EndedAt = &at
	}
	return &out
}

func copyTarget(t *Target) *Target {
	out := *t
	out.ReservedBy = append([]string(nil), t.ReservedBy...)
	out.Confidence = map[string]int{}
	for id, p := range t.Confidence {
		out.Confidence[id] = p
	}
	return &out
}

func copyMember(m *Member) *Member {
	out := *m
	out.ReservedTargets = append([]int(nil), m.ReservedTargets...)
	out.ConfidenceByTarget = map[int]int{}
	for n, p := range m.ConfidenceByTarget {
		out.ConfidenceByTarget[n] = p
	}
	return &out
}

var _ Store = (*memStore)(nil)
