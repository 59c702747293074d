package coc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/susu3304/warboard/internal/war"
)

const defaultBaseURL = "https://api.clashofclans.com/v1"

// Client talks to the Clash of Clans API. It implements war.Feed.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(token string) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// WithBaseURL overrides the API endpoint. Used by tests.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

type apiAttack struct {
	AttackerTag           string  `json:"attackerTag"`
	DefenderTag           string  `json:"defenderTag"`
	Stars                 int     `json:"stars"`
	DestructionPercentage float64 `json:"destructionPercentage"`
}

type apiMember struct {
	Tag           string      `json:"tag"`
	Name          string      `json:"name"`
	TownhallLevel int         `json:"townhallLevel"`
	MapPosition   int         `json:"mapPosition"`
	Attacks       []apiAttack `json:"attacks"`
}

type apiClan struct {
	Tag     string      `json:"tag"`
	Name    string      `json:"name"`
	Members []apiMember `json:"members"`
}

type apiWar struct {
	State            string  `json:"state"`
	TeamSize         int     `json:"teamSize"`
	AttacksPerMember int     `json:"attacksPerMember"`
	Clan             apiClan `json:"clan"`
	Opponent         apiClan `json:"opponent"`
}

// CurrentWar fetches the clan's current war and flattens it into a
// feed snapshot. The tag's leading # must be URL-encoded or the API
// rejects the path.
func (c *Client) CurrentWar(ctx context.Context, clanTag string) (*war.FeedSnapshot, error) {
	endpoint := fmt.Sprintf("%s/clans/%s/currentwar", c.baseURL, url.PathEscape(clanTag))
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", war.ErrFeedUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", war.ErrFeedUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return nil, war.ErrFeedAccessDenied
	case resp.StatusCode == http.StatusNotFound:
		return nil, war.ErrFeedNotActive
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: coc API returned status %d", war.ErrFeedUnavailable, resp.StatusCode)
	}

	var payload apiWar
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", war.ErrFeedUnavailable, err)
	}
	if payload.State == "notInWar" {
		return nil, war.ErrFeedNotActive
	}
	return snapshot(&payload), nil
}

func snapshot(w *apiWar) *war.FeedSnapshot {
	snap := &war.FeedSnapshot{
		State:            w.State,
		TeamSize:         w.TeamSize,
		AttacksPerMember: w.AttacksPerMember,
		OpponentTag:      w.Opponent.Tag,
		OpponentName:     w.Opponent.Name,
	}
	if snap.AttacksPerMember <= 0 {
		snap.AttacksPerMember = war.DefaultAttacksPerMember
	}
	for _, m := range w.Clan.Members {
		for _, a := range m.Attacks {
			snap.Attacks = append(snap.Attacks, war.FeedAttack{
				AttackerTag: a.AttackerTag,
				DefenderTag: a.DefenderTag,
				Stars:       a.Stars,
				Destruction: int(a.DestructionPercentage),
			})
		}
	}
	for _, m := range w.Opponent.Members {
		snap.OpponentMembers = append(snap.OpponentMembers, war.FeedMember{
			Tag:           m.Tag,
			Name:          m.Name,
			TownhallLevel: m.TownhallLevel,
			MapPosition:   m.MapPosition,
		})
	}
	return snap
}

var _ war.Feed = (*Client)(nil)
