package bot

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/susu3304/warboard/internal/war"
)

func (b *Bot) handleStartWar(s *discordgo.Session, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	deferEphemeral(s, i)
	ctx := context.Background()

	channel, err := b.createWarChannel(s, i.GuildID)
	if err != nil {
		log.Printf("startwar: failed to create channel: %v", err)
		editReply(s, i, "戦争チャンネルの作成に失敗しました")
		return
	}

	params := b.startWarParams(data, channel.ID, interactionUserID(i))
	w, err := b.svc.StartWar(ctx, params)
	if err != nil {
		log.Printf("startwar: failed to start war: %v", err)
		if _, derr := s.ChannelDelete(channel.ID); derr != nil {
			log.Printf("startwar: failed to clean up channel %s: %v", channel.ID, derr)
		}
		editReply(s, i, conflictMessage(err))
		return
	}

	targets, err := b.svc.Targets(ctx, w.ID)
	if err != nil {
		log.Printf("startwar: failed to load targets for %s: %v", w.ID, err)
		editReply(s, i, "セッションは作成しましたが、目標の読み込みに失敗しました")
		return
	}

	// One embed per target; the message ids come back to the store so
	// later reservations can re-render the right message.
	refs := make(map[int]string, len(targets))
	for idx := range targets {
		t := &targets[idx]
		msg, err := s.ChannelMessageSendComplex(channel.ID, &discordgo.MessageSend{
			Embeds:     []*discordgo.MessageEmbed{targetEmbed(t)},
			Components: []discordgo.MessageComponent{targetActionRow(t.Number, w.ID)},
		})
		if err != nil {
			log.Printf("startwar: failed to post embed for target %d: %v", t.Number, err)
			continue
		}
		refs[t.Number] = msg.ID
	}
	if err := b.svc.SaveMessageRefs(ctx, w.ID, refs); err != nil {
		log.Printf("startwar: failed to save message refs for %s: %v", w.ID, err)
	}

	editReply(s, i, fmt.Sprintf("戦争セッション `%s` を開始しました → <#%s>", w.ID, channel.ID))
}

// startWarParams builds the session parameters from the command
// options, falling back to the configured defaults.
func (b *Bot) startWarParams(data discordgo.ApplicationCommandInteractionData, channelID, userID string) war.StartWarParams {
	teamSize := b.cfg.DefaultTeamSize
	if v := getIntOption(data.Options, "teamsize"); v != nil {
		teamSize = int(*v)
	}
	return war.StartWarParams{
		ChannelID:        channelID,
		ClanTag:          b.cfg.ClanTag,
		CreatedBy:        userID,
		TeamSize:         teamSize,
		AttacksPerMember: b.cfg.AttacksPerMember,
	}
}

func (b *Bot) createWarChannel(s *discordgo.Session, guildID string) (*discordgo.Channel, error) {
	name := fmt.Sprintf("war-%s", time.Now().UTC().Format("20060102-1504"))

	parentID := ""
	if channels, err := s.GuildChannels(guildID); err == nil {
		for _, c := range channels {
			if c.Type == discordgo.ChannelTypeGuildCategory &&
				strings.EqualFold(c.Name, b.cfg.WarCategoryName) {
				parentID = c.ID
				break
			}
		}
	}

	return s.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:     name,
		Type:     discordgo.ChannelTypeGuildText,
		Topic:    "クラン戦の目標予約・結果共有チャンネル",
		ParentID: parentID,
	})
}

func (b *Bot) handleEndWar(s *discordgo.Session, i *discordgo.InteractionCreate) {
	deferEphemeral(s, i)
	ctx := context.Background()

	w, err := b.svc.ActiveWarByChannel(ctx, i.ChannelID)
	if err != nil {
		editReply(s, i, "このチャンネルに進行中の戦争はありません")
		return
	}
	if err := b.svc.EndWar(ctx, w.ID); err != nil {
		editReply(s, i, conflictMessage(err))
		return
	}

	// Lock the channel and mark it as archived.
	if err := s.ChannelPermissionSet(i.ChannelID, i.GuildID,
		discordgo.PermissionOverwriteTypeRole, 0, discordgo.PermissionSendMessages); err != nil {
		log.Printf("endwar: failed to lock channel %s: %v", i.ChannelID, err)
	}
	if ch, err := s.Channel(i.ChannelID); err == nil && !strings.HasPrefix(ch.Name, "closed-") {
		name := "closed-" + ch.Name
		if len(name) > 100 {
			name = name[:100]
		}
		if _, err := s.ChannelEdit(i.ChannelID, &discordgo.ChannelEdit{Name: name}); err != nil {
			log.Printf("endwar: failed to rename channel %s: %v", i.ChannelID, err)
		}
	}

	editReply(s, i, fmt.Sprintf("✅ 戦争セッション `%s` を終了しました。チャンネルは読み取り専用です", w.ID))
	if _, err := s.ChannelMessageSend(i.ChannelID,
		fmt.Sprintf("📢 この戦争セッションは <@%s> によって終了されました", interactionUserID(i))); err != nil {
		log.Printf("endwar: failed to announce in channel %s: %v", i.ChannelID, err)
	}
}

func (b *Bot) handleStatus(s *discordgo.Session, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	deferReply(s, i)
	ctx := context.Background()

	var (
		w   *war.War
		err error
	)
	if v := getStringOption(data.Options, "warid"); v != nil && *v != "" {
		w, err = b.svc.War(ctx, *v)
	} else {
		w, err = b.svc.ActiveWarByChannel(ctx, i.ChannelID)
	}
	if err != nil {
		editReply(s, i, "表示できる戦争が見つかりません。warid を指定するか、戦争チャンネルで実行してください")
		return
	}

	// Status doubles as the on-demand refresh trigger.
	if !w.Ended() {
		if n, err := b.svc.RefreshResults(ctx, w.ID); err != nil {
			log.Printf("status: refresh failed for %s: %v", w.ID, err)
		} else if n > 0 {
			b.updateTargetEmbeds(ctx, s, w.ID)
			if fresh, err := b.svc.War(ctx, w.ID); err == nil {
				w = fresh
			}
		}
	}

	targets, err := b.svc.Targets(ctx, w.ID)
	if err != nil {
		editReply(s, i, "目標情報の読み込みに失敗しました")
		return
	}

	if err := editReplyEmbed(s, i, statusEmbed(w, targets)); err != nil {
		log.Printf("status: failed to send embed for %s: %v", w.ID, err)
	}
}

func (b *Bot) handleResult(s *discordgo.Session, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	deferEphemeral(s, i)
	ctx := context.Background()

	targetOpt := getIntOption(data.Options, "target")
	starsOpt := getIntOption(data.Options, "stars")
	destOpt := getIntOption(data.Options, "destruction")
	if targetOpt == nil || starsOpt == nil || destOpt == nil {
		editReply(s, i, "target, stars, destruction をすべて指定してください")
		return
	}

	w, err := b.svc.ActiveWarByChannel(ctx, i.ChannelID)
	if err != nil {
		editReply(s, i, "このチャンネルに進行中の戦争はありません")
		return
	}

	t, err := b.svc.RecordResult(ctx, w.ID, int(*targetOpt), interactionUserID(i), int(*starsOpt), int(*destOpt))
	if err != nil {
		editReply(s, i, conflictMessage(err))
		return
	}

	b.updateTargetEmbed(ctx, s, w, t)
	editReply(s, i, fmt.Sprintf("✅ 目標 #%d の結果を記録しました: ⭐%d %d%%", t.Number, t.Result.Stars, t.Result.Destruction))
}

// updateTargetEmbed re-renders the board message for one target.
func (b *Bot) updateTargetEmbed(ctx context.Context, s *discordgo.Session, w *war.War, t *war.Target) {
	messageID, ok := w.MessageRefs[t.Number]
	if !ok || messageID == "" {
		return
	}
	edit := discordgo.NewMessageEdit(w.ChannelID, messageID)
	edit.Embeds = []*discordgo.MessageEmbed{targetEmbed(t)}
	if _, err := s.ChannelMessageEditComplex(edit); err != nil {
		log.Printf("bot: failed to update embed for %s target %d: %v", w.ID, t.Number, err)
	}
}

func (b *Bot) updateTargetEmbeds(ctx context.Context, s *discordgo.Session, warID string) {
	w, err := b.svc.War(ctx, warID)
	if err != nil {
		return
	}
	targets, err := b.svc.Targets(ctx, warID)
	if err != nil {
		return
	}
	for idx := range targets {
		b.updateTargetEmbed(ctx, s, w, &targets[idx])
	}
}
