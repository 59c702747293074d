package bot

import (
	"context"
	"log"
	"time"

	"github.com/susu3304/warboard/internal/war"
)

// refresher periodically pulls the result feed into every active war
// and re-renders the board messages that changed.
type refresher struct {
	bot      *Bot
	stopChan chan struct{}
	ticker   *time.Ticker
	interval time.Duration
}

func newRefresher(b *Bot, interval time.Duration) *refresher {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &refresher{
		bot:      b,
		stopChan: make(chan struct{}),
		interval: interval,
	}
}

func (r *refresher) start() {
	if r == nil {
		return
	}
	r.ticker = time.NewTicker(r.interval)
	go r.loop()
	log.Printf("refresher: started (interval %s)", r.interval)
}

func (r *refresher) stop() {
	if r == nil {
		return
	}
	close(r.stopChan)
	if r.ticker != nil {
		r.ticker.Stop()
	}
}

func (r *refresher) loop() {
	ctx := context.Background()
	// Run once right away so a restart doesn't wait a full interval.
	r.tick(ctx)
	for {
		select {
		case <-r.ticker.C:
			r.tick(ctx)
		case <-r.stopChan:
			return
		}
	}
}

func (r *refresher) tick(ctx context.Context) {
	wars, err := r.bot.svc.ActiveWars(ctx)
	if err != nil {
		log.Printf("refresher: failed to list active wars: %v", err)
		return
	}

	for idx := range wars {
		w := &wars[idx]
		n, err := r.bot.svc.RefreshResults(ctx, w.ID)
		if err != nil {
			if !war.IsDomainErr(err) {
				log.Printf("refresher: refresh failed for %s: %v", w.ID, err)
			}
			continue
		}
		if n == 0 {
			continue
		}
		log.Printf("refresher: %s applied %d result update(s)", w.ID, n)
		r.bot.updateTargetEmbeds(ctx, r.bot.session, w.ID)
	}
}
