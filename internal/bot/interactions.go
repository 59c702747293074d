package bot

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/susu3304/warboard/internal/war"
)

// Component custom ids are "<action>_<targetNumber>_<warID>". The war id
// itself contains hyphens but never underscores, so SplitN is safe.
func parseCustomID(customID string) (action string, targetNumber int, warID string, ok bool) {
	parts := strings.SplitN(customID, "_", 3)
	if len(parts) != 3 {
		return "", 0, "", false
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil || n <= 0 {
		return "", 0, "", false
	}
	return parts[0], n, parts[2], true
}

func (b *Bot) handleButton(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.MessageComponentData()
	action, targetNumber, warID, ok := parseCustomID(data.CustomID)
	if !ok {
		return
	}

	switch action {
	case "reserve":
		b.handleReserve(s, i, warID, targetNumber)
	case "cancel":
		b.handleCancel(s, i, warID, targetNumber)
	case "confidence":
		b.showConfidenceModal(s, i, warID, targetNumber)
	}
}

func (b *Bot) handleReserve(s *discordgo.Session, i *discordgo.InteractionCreate, warID string, targetNumber int) {
	deferEphemeral(s, i)
	ctx := context.Background()

	t, m, err := b.svc.Reserve(ctx, warID, targetNumber, interactionUserID(i))
	if err != nil {
		if !war.IsDomainErr(err) {
			log.Printf("reserve: %s target %d: %v", warID, targetNumber, err)
		}
		editReply(s, i, conflictMessage(err))
		return
	}

	b.refreshTargetEmbed(ctx, s, warID, t)
	editReply(s, i, fmt.Sprintf("✅ 目標 #%d を予約しました（残り攻撃権: %d）", targetNumber, m.AttacksLeft))
}

func (b *Bot) handleCancel(s *discordgo.Session, i *discordgo.InteractionCreate, warID string, targetNumber int) {
	deferEphemeral(s, i)
	ctx := context.Background()

	t, m, err := b.svc.Cancel(ctx, warID, targetNumber, interactionUserID(i))
	if err != nil {
		if !war.IsDomainErr(err) {
			log.Printf("cancel: %s target %d: %v", warID, targetNumber, err)
		}
		editReply(s, i, conflictMessage(err))
		return
	}

	b.refreshTargetEmbed(ctx, s, warID, t)
	editReply(s, i, fmt.Sprintf("🗑️ 目標 #%d の予約を解除しました（残り攻撃権: %d）", targetNumber, m.AttacksLeft))
}

func (b *Bot) showConfidenceModal(s *discordgo.Session, i *discordgo.InteractionCreate, warID string, targetNumber int) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: fmt.Sprintf("confidenceModal_%d_%s", targetNumber, warID),
			Title:    fmt.Sprintf("目標 #%d の予想破壊率", targetNumber),
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.TextInput{
							CustomID:    "percent",
							Label:       "予想破壊率 (10〜100)",
							Style:       discordgo.TextInputShort,
							Placeholder: "例: 85",
							Required:    true,
							MaxLength:   3,
						},
					},
				},
			},
		},
	})
	if err != nil {
		log.Printf("confidence: failed to show modal: %v", err)
	}
}

func (b *Bot) handleModalSubmit(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ModalSubmitData()
	action, targetNumber, warID, ok := parseCustomID(data.CustomID)
	if !ok || action != "confidenceModal" {
		return
	}

	deferEphemeral(s, i)
	ctx := context.Background()

	raw := modalInputValue(data, "percent")
	percent, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		editReply(s, i, conflictMessage(war.ErrInvalidConfidence))
		return
	}

	t, _, err := b.svc.SetConfidence(ctx, warID, targetNumber, interactionUserID(i), percent)
	if err != nil {
		if !war.IsDomainErr(err) {
			log.Printf("confidence: %s target %d: %v", warID, targetNumber, err)
		}
		editReply(s, i, conflictMessage(err))
		return
	}

	b.refreshTargetEmbed(ctx, s, warID, t)
	editReply(s, i, fmt.Sprintf("📊 目標 #%d の予想破壊率を %d%% に設定しました", targetNumber, percent))
}

func modalInputValue(data discordgo.ModalSubmitInteractionData, customID string) string {
	for _, row := range data.Components {
		actionsRow, ok := row.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, c := range actionsRow.Components {
			if input, ok := c.(*discordgo.TextInput); ok && input.CustomID == customID {
				return input.Value
			}
		}
	}
	return ""
}

func (b *Bot) refreshTargetEmbed(ctx context.Context, s *discordgo.Session, warID string, t *war.Target) {
	w, err := b.svc.War(ctx, warID)
	if err != nil {
		return
	}
	b.updateTargetEmbed(ctx, s, w, t)
}

func deferReply(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		log.Printf("bot: failed to defer interaction: %v", err)
	}
}

func deferEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
		},
	}); err != nil {
		log.Printf("bot: failed to defer interaction: %v", err)
	}
}

func editReply(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
	}); err != nil {
		log.Printf("bot: failed to edit interaction response: %v", err)
	}
}

func editReplyEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) error {
	_, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Embeds: &[]*discordgo.MessageEmbed{embed},
	})
	return err
}

func getIntOption(options []*discordgo.ApplicationCommandInteractionDataOption, name string) *int64 {
	for _, opt := range options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionInteger {
			v := opt.IntValue()
			return &v
		}
	}
	return nil
}

func getStringOption(options []*discordgo.ApplicationCommandInteractionDataOption, name string) *string {
	for _, opt := range options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionString {
			v := opt.StringValue()
			return &v
		}
	}
	return nil
}
