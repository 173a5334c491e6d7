// Command engine runs the warmup orchestration engine: the dispatch,
// engagement, reply, spam recovery, day advance and score loops plus the
// admin HTTP API, all in one process.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/warmup-engine/internal/api"
	"github.com/ignite/warmup-engine/internal/config"
	"github.com/ignite/warmup-engine/internal/mailer"
	"github.com/ignite/warmup-engine/internal/mailer/gmail"
	"github.com/ignite/warmup-engine/internal/model"
	"github.com/ignite/warmup-engine/internal/store"
	"github.com/ignite/warmup-engine/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("[Engine] Load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("[Engine] DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("[Engine] Open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := db.PingContext(ctx); err != nil {
		cancel()
		log.Fatalf("[Engine] Database unreachable: %v", err)
	}
	cancel()

	if err := store.Migrate(context.Background(), db); err != nil {
		log.Fatalf("[Engine] Migrate schema: %v", err)
	}

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("[Engine] Parse redis url: %v", err)
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Printf("[Engine] Redis unreachable, falling back to advisory locks: %v", err)
			rdb = nil
		}
	}

	mailboxes := store.NewMailboxStore(db)
	clients := gmailFactory(cfg, mailboxes)

	dispatcher := worker.NewDispatcher(db, clients, cfg, nil, nil)
	engagement := worker.NewEngagementSimulator(db, clients, cfg, nil, nil)
	replies := worker.NewReplyMatcher(db, clients, cfg, nil)
	spam := worker.NewSpamRecovery(db, clients, cfg, nil)
	advancer := worker.NewDayAdvancer(db, rdb, cfg, nil)
	scores := worker.NewScoreWorker(db, rdb, cfg, nil)

	dispatcher.Start()
	engagement.Start()
	replies.Start()
	spam.Start()
	advancer.Start()
	scores.Start()

	server := api.NewServer(db, scores, cfg, nil)
	server.Start()

	log.Println("[Engine] All workers started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("[Engine] Shutting down")

	dispatcher.Stop()
	engagement.Stop()
	replies.Stop()
	spam.Stop()
	advancer.Stop()
	scores.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Printf("[Engine] API shutdown: %v", err)
	}
	log.Println("[Engine] Stopped")
}

// gmailFactory builds provider clients per mailbox, persisting rotated
// tokens back to the store.
func gmailFactory(cfg *config.Config, mailboxes *store.MailboxStore) worker.ClientFactory {
	return func(ctx context.Context, mb *model.Mailbox) (mailer.Client, error) {
		return gmail.New(ctx, mb.Email, mb.Credentials, gmail.Options{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			OnTokenRefresh: func(c model.Credentials) {
				saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := mailboxes.UpdateCredentials(saveCtx, mb.ID, c); err != nil {
					log.Printf("[Engine] Persist rotated token for %s failed: %v",
						model.RedactEmail(mb.Email), err)
				}
			},
		})
	}
}
