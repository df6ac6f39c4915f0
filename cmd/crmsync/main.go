// crmsync is a headless inbox client: it connects to a crmsyncd instance,
// keeps the conversation directory and the open conversation's timeline in
// sync over the push channel, and logs what changes. Useful for smoke
// testing a deployment and as the reference wiring of the client core.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crmsync/internal/app/compose"
	"crmsync/internal/app/directory"
	"crmsync/internal/app/readstate"
	"crmsync/internal/app/syncer"
	"crmsync/internal/app/timeline"
	"crmsync/internal/app/topics"
	"crmsync/internal/infra/config"
	"crmsync/internal/infra/obs"
	"crmsync/internal/infra/store/rest"
	"crmsync/internal/infra/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("configuration invalid: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env)

	api, err := rest.NewClient(rest.Config{BaseURL: cfg.APIBaseURL, CallTimeout: cfg.CallTimeout}, logger)
	if err != nil {
		logger.Error("api client setup failed", "error", err)
		os.Exit(1)
	}

	broker := transport.NewClient(transport.Config{URL: cfg.BrokerWSURL, RetryDelay: cfg.ReconnectDelay}, logger)
	registry := topics.NewRegistry(broker, logger)
	dir := directory.New(api, logger)
	tl := timeline.New(api, logger)
	read := readstate.New(api, dir, logger)
	pipeline := compose.New(api, api, logger)

	core := syncer.New(syncer.Config{
		Registry:  registry,
		Directory: dir,
		Timeline:  tl,
		ReadState: read,
		Pipeline:  pipeline,
		Logger:    logger,
		OpTimeout: cfg.CallTimeout,
	})
	if err := core.Start(ctx); err != nil {
		logger.Warn("initial refresh failed, continuing with push resync", "error", err)
	}
	defer core.Stop()
	defer broker.Disconnect()

	logger.Info("inbox client running", "api", cfg.APIBaseURL, "broker", cfg.BrokerWSURL)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("inbox client stopping")
			return
		case <-ticker.C:
			reportState(logger, dir, tl)
		}
	}
}

func reportState(logger *slog.Logger, dir *directory.Directory, tl *timeline.Timeline) {
	convs := dir.Conversations()
	unread := 0
	for _, c := range convs {
		unread += c.UnreadCount
	}
	logger.Info("inbox state",
		"conversations", len(convs),
		"unread_total", unread,
		"open_conversation", dir.OpenID(),
		"timeline_entries", len(tl.Entries()),
	)
}
