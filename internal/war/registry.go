package war

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
)

// StartWarParams describes a new session. Zero TeamSize and
// AttacksPerMember fall back to the defaults (or to the feed's values
// when a live war is visible).
type StartWarParams struct {
	ChannelID        string
	ClanTag          string
	CreatedBy        string
	TeamSize         int
	AttacksPerMember int
}

// StartWar creates a session and its target rows in one shot. At most
// one non-ended war may exist per channel; a second attempt fails with
// ErrDuplicateActiveWar. When the feed reports a live war, the roster
// seeds the targets' opponent names and levels.
func (s *Service) StartWar(ctx context.Context, p StartWarParams) (*War, error) {
	teamSize := p.TeamSize
	attacks := p.AttacksPerMember

	w := &War{
		ClanTag:     p.ClanTag,
		State:       StatePreparation,
		ChannelID:   p.ChannelID,
		MessageRefs: map[int]string{},
		CreatedBy:   p.CreatedBy,
		CreatedAt:   time.Now().UTC(),
	}

	var roster []FeedMember
	if s.feed != nil {
		snap, err := s.fetchSnapshot(ctx, p.ClanTag)
		if err != nil {
			log.Printf("war: starting without feed data: %v", err)
		} else {
			if teamSize <= 0 {
				teamSize = snap.TeamSize
			}
			if attacks <= 0 {
				attacks = snap.AttacksPerMember
			}
			if snap.State == "inWar" {
				w.State = StateActive
			}
			w.OpponentTag = snap.OpponentTag
			w.OpponentName = snap.OpponentName
			roster = snap.OpponentMembers
		}
	}
	if teamSize <= 0 {
		teamSize = DefaultTeamSize
	}
	if attacks <= 0 {
		attacks = DefaultAttacksPerMember
	}
	w.TeamSize = teamSize
	w.AttacksPerMember = attacks
	w.ID = newWarID(p.ClanTag, w.CreatedAt)

	byPosition := make(map[int]FeedMember, len(roster))
	for _, m := range roster {
		byPosition[m.MapPosition] = m
	}
	targets := make([]Target, 0, teamSize)
	for n := 1; n <= teamSize; n++ {
		t := Target{
			WarID:      w.ID,
			Number:     n,
			Confidence: map[string]int{},
			Result:     Result{Kind: ResultUnset},
		}
		if m, ok := byPosition[n]; ok {
			t.OpponentTag = m.Tag
			t.OpponentName = m.Name
			t.OpponentLevel = m.TownhallLevel
		}
		targets = append(targets, t)
	}

	err := s.retryStorage(ctx, func() error {
		return s.store.CreateWar(ctx, w, targets)
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// EndWar moves a session to its terminal state. Ending an already
// ended war reports ErrAlreadyEnded and changes nothing.
func (s *Service) EndWar(ctx context.Context, warID string) error {
	return s.retryStorage(ctx, func() error {
		return s.store.EndWar(ctx, warID)
	})
}

// SaveMessageRefs stores the target-number to message-id map for the
// rendering layer.
func (s *Service) SaveMessageRefs(ctx context.Context, warID string, refs map[int]string) error {
	return s.retryStorage(ctx, func() error {
		return s.store.SaveMessageRefs(ctx, warID, refs)
	})
}

func newWarID(clanTag string, at time.Time) string {
	tag := strings.TrimPrefix(clanTag, "#")
	return fmt.Sprintf("%s-%s", tag, at.UTC().Format("200601021504"))
}
