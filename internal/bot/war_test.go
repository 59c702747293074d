package bot

import (
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/susu3304/warboard/internal/config"
)

func TestStartWarParams(t *testing.T) {
	b := &Bot{cfg: &config.Config{
		ClanTag:          "#ABC123",
		DefaultTeamSize:  15,
		AttacksPerMember: 2,
	}}

	// Without the option the configured default applies.
	params := b.startWarParams(discordgo.ApplicationCommandInteractionData{}, "chan1", "alice")
	if params.TeamSize != 15 {
		t.Errorf("TeamSize = %d, want configured default 15", params.TeamSize)
	}
	if params.ClanTag != "#ABC123" || params.ChannelID != "chan1" || params.CreatedBy != "alice" {
		t.Errorf("params = %+v", params)
	}
	if params.AttacksPerMember != 2 {
		t.Errorf("AttacksPerMember = %d, want 2", params.AttacksPerMember)
	}

	// An explicit option overrides it.
	data := discordgo.ApplicationCommandInteractionData{
		Options: []*discordgo.ApplicationCommandInteractionDataOption{
			{
				Name:  "teamsize",
				Type:  discordgo.ApplicationCommandOptionInteger,
				Value: float64(7),
			},
		},
	}
	params = b.startWarParams(data, "chan1", "alice")
	if params.TeamSize != 7 {
		t.Errorf("TeamSize = %d, want option value 7", params.TeamSize)
	}
}
