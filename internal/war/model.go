package war

import (
	"context"
	"sort"
	"time"
)

// WarState follows preparation -> active -> ended. Ended is terminal.
type WarState string

const (
	StatePreparation WarState = "preparation"
	StateActive      WarState = "active"
	StateEnded       WarState = "ended"
)

const (
	// MaxReservationsPerTarget is the number of claim slots on one target.
	MaxReservationsPerTarget = 2
	// MaxReservationsPerMember caps how many targets one member may hold.
	MaxReservationsPerMember = 2
	// DefaultAttacksPerMember is the attack budget when none is configured.
	DefaultAttacksPerMember = 2
	// DefaultTeamSize is the target count when neither the caller nor
	// the feed supplies one.
	DefaultTeamSize = 10
)

type War struct {
	ID               string
	ClanTag          string
	OpponentTag      string
	OpponentName     string
	State            WarState
	TeamSize         int
	AttacksPerMember int
	ChannelID        string
	// MessageRefs maps target number to the Discord message showing it.
	// Opaque to the board logic; the bot layer reads and writes it.
	MessageRefs map[int]string
	CreatedBy   string
	CreatedAt   time.Time
	EndedAt     *time.Time
}

func (w *War) Ended() bool {
	return w.State == StateEnded
}

type ResultKind string

const (
	ResultUnset      ResultKind = "unset"
	ResultManual     ResultKind = "manual"
	ResultReconciled ResultKind = "reconciled"
)

// Result is the scored outcome of a target. Manual results are entered
// by members and are never overwritten by reconciliation; reconciled
// results come from the external feed.
type Result struct {
	Kind        ResultKind
	Stars       int
	Destruction int
	// AttackerRef is a Discord user id for manual results and a CoC
	// player tag for reconciled ones.
	AttackerRef string
}

func (r Result) IsSet() bool {
	return r.Kind != ResultUnset && r.Kind != ""
}

// beatenBy reports whether (stars, destruction) strictly beats r
// lexicographically. An unset result compares as (-1, -1).
func (r Result) beatenBy(stars, destruction int) bool {
	rs, rd := r.Stars, r.Destruction
	if !r.IsSet() {
		rs, rd = -1, -1
	}
	if stars != rs {
		return stars > rs
	}
	return destruction > rd
}

type Target struct {
	WarID         string
	Number        int
	OpponentTag   string
	OpponentName  string
	OpponentLevel int
	// ReservedBy holds at most two member ids, unique, unordered.
	ReservedBy []string
	// Confidence maps member id to their estimated destruction percent.
	Confidence map[string]int
	Result     Result
}

func (t *Target) ReservedByMember(userID string) bool {
	for _, id := range t.ReservedBy {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *Target) addReservation(userID string) {
	if !t.ReservedByMember(userID) {
		t.ReservedBy = append(t.ReservedBy, userID)
		sort.Strings(t.ReservedBy)
	}
}

func (t *Target) removeReservation(userID string) {
	out := t.ReservedBy[:0]
	for _, id := range t.ReservedBy {
		if id != userID {
			out = append(out, id)
		}
	}
	t.ReservedBy = out
	delete(t.Confidence, userID)
}

// Member is the per-war ledger for one participant. ReservedTargets
// and ConfidenceByTarget are derived from the reservation rows; only
// AttacksLeft is stored directly.
type Member struct {
	WarID              string
	UserID             string
	AttacksLeft        int
	ReservedTargets    []int
	ConfidenceByTarget map[int]int
}

// FeedAttack is one attack reported by the external feed.
type FeedAttack struct {
	AttackerTag string
	DefenderTag string
	Stars       int
	Destruction int
}

// FeedMember is one member of the opposing roster. MapPosition is the
// 1-indexed slot that maps directly to a target number.
type FeedMember struct {
	Tag           string
	Name          string
	TownhallLevel int
	MapPosition   int
}

// FeedSnapshot is the authoritative war state pulled from the feed.
type FeedSnapshot struct {
	State            string
	TeamSize         int
	AttacksPerMember int
	Attacks          []FeedAttack
	OpponentTag      string
	OpponentName     string
	OpponentMembers  []FeedMember
}

// Feed supplies ground-truth war data. Implementations must honor the
// context deadline.
type Feed interface {
	CurrentWar(ctx context.Context, clanTag string) (*FeedSnapshot, error)
}

// BoardUpdate mutates a locked (target, member) pair inside one unit
// of work. Returning an error aborts the transaction unchanged.
type BoardUpdate func(w *War, t *Target, m *Member) error

// ResultUpdate computes a new result for a locked target. The write
// happens only when the returned bool is true.
type ResultUpdate func(w *War, t *Target) (Result, bool, error)

// Store is the persistence contract for the target board. All
// mutation goes through CreateWar, SetWarState, EndWar,
// SaveMessageRefs and the two unit-of-work primitives.
type Store interface {
	CreateWar(ctx context.Context, w *War, targets []Target) error
	WarByID(ctx context.Context, warID string) (*War, error)
	ActiveWarByChannel(ctx context.Context, channelID string) (*War, error)
	ListActiveWars(ctx context.Context) ([]War, error)
	SetWarState(ctx context.Context, warID string, state WarState) error
	EndWar(ctx context.Context, warID string) error
	SaveMessageRefs(ctx context.Context, warID string, refs map[int]string) error
	TargetByNumber(ctx context.Context, warID string, targetNumber int) (*Target, error)
	ListTargets(ctx context.Context, warID string) ([]Target, error)
	MemberView(ctx context.Context, warID, userID string) (*Member, error)
	UpdateBoard(ctx context.Context, warID string, targetNumber int, userID string, fn BoardUpdate) (*Target, *Member, error)
	UpdateResult(ctx context.Context, warID string, targetNumber int, fn ResultUpdate) (*Target, error)
}
