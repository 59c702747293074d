package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/susu3304/warboard/internal/api"
	"github.com/susu3304/warboard/internal/bot"
	"github.com/susu3304/warboard/internal/coc"
	"github.com/susu3304/warboard/internal/config"
	"github.com/susu3304/warboard/internal/db"
	"github.com/susu3304/warboard/internal/war"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	database, err := db.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Run migrations
	if err := database.RunMigrations(context.Background()); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Build the war service over the store and the CoC feed
	feed := coc.NewClient(cfg.CocAPIToken)
	if cfg.CocAPIBaseURL != "" {
		feed.WithBaseURL(cfg.CocAPIBaseURL)
	}
	svc := war.NewService(database,
		war.WithFeed(feed),
		war.WithFeedTimeout(time.Duration(cfg.FeedTimeoutSeconds)*time.Second),
	)

	// Initialize Discord bot
	discordBot, err := bot.New(cfg, svc)
	if err != nil {
		log.Fatalf("Failed to create discord bot: %v", err)
	}

	// Initialize API server
	apiServer := api.New(cfg, svc)

	// Start Discord bot
	if err := discordBot.Start(); err != nil {
		log.Fatalf("Failed to start discord bot: %v", err)
	}
	defer discordBot.Stop()

	// Start API server
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Printf("API server error: %v", err)
		}
	}()

	// Wait for signal to stop
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down...")
}
