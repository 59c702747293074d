package bot

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/susu3304/warboard/internal/war"
)

const (
	colorOpen     = 0x95a5a6 // grey: no reservations, no result
	colorReserved = 0x3498db // blue: someone holds a slot
	colorCleared  = 0xf1c40f // yellow: result recorded, under 3 stars
	colorPerfect  = 0x2ecc71 // green: 3 stars
)

func targetEmbed(t *war.Target) *discordgo.MessageEmbed {
	title := fmt.Sprintf("目標 #%d", t.Number)
	if t.OpponentName != "" {
		title = fmt.Sprintf("目標 #%d — %s", t.Number, t.OpponentName)
	}

	embed := &discordgo.MessageEmbed{
		Title: title,
		Color: targetColor(t),
	}
	if t.OpponentLevel > 0 {
		embed.Description = fmt.Sprintf("TH%d", t.OpponentLevel)
	}

	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
		Name:   "予約",
		Value:  reservationLine(t),
		Inline: false,
	})
	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
		Name:   "結果",
		Value:  resultLine(t.Result),
		Inline: false,
	})

	return embed
}

func targetColor(t *war.Target) int {
	switch {
	case t.Result.IsSet() && t.Result.Stars >= 3:
		return colorPerfect
	case t.Result.IsSet():
		return colorCleared
	case len(t.ReservedBy) > 0:
		return colorReserved
	default:
		return colorOpen
	}
}

func reservationLine(t *war.Target) string {
	if len(t.ReservedBy) == 0 {
		return fmt.Sprintf("なし（空き %d 枠）", war.MaxReservationsPerTarget)
	}
	var parts []string
	for _, userID := range t.ReservedBy {
		line := fmt.Sprintf("<@%s>", userID)
		if percent, ok := t.Confidence[userID]; ok {
			line += fmt.Sprintf("（予想 %d%%）", percent)
		}
		parts = append(parts, line)
	}
	return strings.Join(parts, "\n")
}

func resultLine(r war.Result) string {
	if !r.IsSet() {
		return "未攻撃"
	}
	line := fmt.Sprintf("%s %d%%", stars(r.Stars), r.Destruction)
	switch r.Kind {
	case war.ResultManual:
		if r.AttackerRef != "" {
			line += fmt.Sprintf(" — <@%s>（手動）", r.AttackerRef)
		} else {
			line += "（手動）"
		}
	case war.ResultReconciled:
		if r.AttackerRef != "" {
			line += fmt.Sprintf(" — `%s`", r.AttackerRef)
		}
	}
	return line
}

func stars(n int) string {
	if n <= 0 {
		return "☆☆☆"
	}
	if n > 3 {
		n = 3
	}
	return strings.Repeat("⭐", n) + strings.Repeat("☆", 3-n)
}

func targetActionRow(targetNumber int, warID string) discordgo.MessageComponent {
	return discordgo.ActionsRow{
		Components: []discordgo.MessageComponent{
			discordgo.Button{
				Label:    "予約",
				Style:    discordgo.PrimaryButton,
				CustomID: fmt.Sprintf("reserve_%d_%s", targetNumber, warID),
			},
			discordgo.Button{
				Label:    "解除",
				Style:    discordgo.SecondaryButton,
				CustomID: fmt.Sprintf("cancel_%d_%s", targetNumber, warID),
			},
			discordgo.Button{
				Label:    "予想破壊率",
				Style:    discordgo.SuccessButton,
				CustomID: fmt.Sprintf("confidence_%d_%s", targetNumber, warID),
			},
		},
	}
}

func statusEmbed(w *war.War, targets []war.Target) *discordgo.MessageEmbed {
	totalStars := 0
	cleared := 0
	var lines []string
	for idx := range targets {
		t := &targets[idx]
		line := fmt.Sprintf("`#%2d`", t.Number)
		if t.OpponentName != "" {
			line += " " + t.OpponentName
		}
		if t.Result.IsSet() {
			line += fmt.Sprintf(" — %s %d%%", stars(t.Result.Stars), t.Result.Destruction)
			totalStars += t.Result.Stars
			cleared++
		} else if len(t.ReservedBy) > 0 {
			var mentions []string
			for _, userID := range t.ReservedBy {
				mentions = append(mentions, fmt.Sprintf("<@%s>", userID))
			}
			line += " — 予約: " + strings.Join(mentions, " ")
		} else {
			line += " — 空き"
		}
		lines = append(lines, line)
	}

	stateLabel := map[war.WarState]string{
		war.StatePreparation: "準備中",
		war.StateActive:      "進行中",
		war.StateEnded:       "終了",
	}[w.State]

	opponent := w.OpponentName
	if opponent == "" {
		opponent = "（未取得）"
	}

	description := fmt.Sprintf("相手: %s\n状態: %s\n合計: ⭐%d / %d 目標攻略 (%d 目標)",
		opponent, stateLabel, totalStars, cleared, w.TeamSize)

	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("⚔️ クラン戦 `%s`", w.ID),
		Description: description,
		Color:       colorReserved,
	}
	if len(lines) > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "目標一覧",
			Value: strings.Join(lines, "\n"),
		})
	}
	return embed
}
