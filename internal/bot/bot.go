package bot

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/susu3304/warboard/internal/config"
	"github.com/susu3304/warboard/internal/war"
)

type Bot struct {
	session   *discordgo.Session
	svc       *war.Service
	cfg       *config.Config
	refresher *refresher
}

func New(cfg *config.Config, svc *war.Service) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	bot := &Bot{
		session: session,
		svc:     svc,
		cfg:     cfg,
	}

	// Register event handlers
	session.AddHandler(bot.onReady)
	session.AddHandler(bot.onGuildCreate)
	session.AddHandler(bot.onInteractionCreate)

	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages

	if cfg.AutoRefreshEnabled {
		bot.refresher = newRefresher(bot, time.Duration(cfg.AutoRefreshInterval)*time.Minute)
	}

	return bot, nil
}

func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	b.refresher.start()
	log.Println("Discord bot is running")
	return nil
}

func (b *Bot) Stop() error {
	b.refresher.stop()
	return b.session.Close()
}

func (b *Bot) onReady(s *discordgo.Session, event *discordgo.Ready) {
	log.Printf("%s is connected!", event.User.Username)

	// Register commands for all guilds
	for _, guild := range event.Guilds {
		if err := b.registerGuildCommands(guild.ID); err != nil {
			log.Printf("Failed to register commands for guild %s: %v", guild.ID, err)
		}
	}
}

func (b *Bot) onGuildCreate(s *discordgo.Session, event *discordgo.GuildCreate) {
	log.Printf("Guild available/joined: %s (id=%s), ensuring commands", event.Name, event.ID)
	if err := b.registerGuildCommands(event.ID); err != nil {
		log.Printf("Failed to register commands for guild %s: %v", event.ID, err)
	}
}

func (b *Bot) registerGuildCommands(guildID string) error {
	manageChannels := int64(discordgo.PermissionManageChannels)
	commands := []*discordgo.ApplicationCommand{
		{
			Name:                     "startwar",
			Description:              "新しいクラン戦セッションを開始し、専用チャンネルを作成します",
			DMPermission:             boolPtr(false),
			DefaultMemberPermissions: &manageChannels,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "teamsize",
					Description: "目標数（省略時はAPIまたは既定値）",
					Required:    false,
				},
			},
		},
		{
			Name:                     "endwar",
			Description:              "このチャンネルのクラン戦セッションを終了し、読み取り専用にします",
			DMPermission:             boolPtr(false),
			DefaultMemberPermissions: &manageChannels,
		},
		{
			Name:         "status",
			Description:  "クラン戦の進行状況を表示します（最新の結果を取り込みます）",
			DMPermission: boolPtr(false),
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "warid",
					Description: "表示する戦争ID（省略時は現在のチャンネル）",
					Required:    false,
				},
			},
		},
		{
			Name:         "result",
			Description:  "目標の攻撃結果を手動で記録します",
			DMPermission: boolPtr(false),
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "target",
					Description: "目標番号",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "stars",
					Description: "獲得した星の数 (0-3)",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "destruction",
					Description: "破壊率 (0-100)",
					Required:    true,
				},
			},
		},
	}

	// Delete existing commands and register new ones
	_, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, guildID, commands)
	if err != nil {
		return err
	}

	log.Printf("Registered application commands for guild %s", guildID)
	return nil
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		b.handleApplicationCommand(s, i)
	case discordgo.InteractionMessageComponent:
		b.handleButton(s, i)
	case discordgo.InteractionModalSubmit:
		b.handleModalSubmit(s, i)
	}
}

func (b *Bot) handleApplicationCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()

	switch data.Name {
	case "startwar":
		b.handleStartWar(s, i, data)
	case "endwar":
		b.handleEndWar(s, i)
	case "status":
		b.handleStatus(s, i, data)
	case "result":
		b.handleResult(s, i, data)
	}
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

// conflictMessage turns a typed board outcome into user-facing text.
func conflictMessage(err error) string {
	switch {
	case errors.Is(err, war.ErrAlreadyReserved):
		return "この目標はすでに予約しています 🤔"
	case errors.Is(err, war.ErrTargetFull):
		return "この目標の予約枠は埋まっています 🛡️🛡️"
	case errors.Is(err, war.ErrNoAttacksLeft):
		return "攻撃権が残っていません 😢"
	case errors.Is(err, war.ErrReservationCap):
		return "すでに2件予約しています。先に解除してください"
	case errors.Is(err, war.ErrNotReserved):
		return "この目標は予約していません 🤷"
	case errors.Is(err, war.ErrWarEnded), errors.Is(err, war.ErrAlreadyEnded):
		return "この戦争はすでに終了しています"
	case errors.Is(err, war.ErrWarNotFound):
		return "対象の戦争が見つかりません"
	case errors.Is(err, war.ErrTargetNotFound):
		return "対象の目標が見つかりません"
	case errors.Is(err, war.ErrInvalidConfidence):
		return "予想破壊率は10〜100で入力してください 🔢"
	case errors.Is(err, war.ErrInvalidResult):
		return "結果は星0〜3、破壊率0〜100で入力してください"
	case errors.Is(err, war.ErrDuplicateActiveWar):
		return "このチャンネルには進行中の戦争があります"
	default:
		return "処理中にエラーが発生しました"
	}
}

func boolPtr(b bool) *bool {
	return &b
}
