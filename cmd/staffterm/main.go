// staffterm is a headless staff client: it joins its restaurant's scope,
// falls back to polling when the push channel is unavailable, and prints
// toast notifications to the terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/plategrid/backoffice-backend/internal/client/sync"
	"github.com/plategrid/backoffice-backend/internal/client/toast"
	"github.com/plategrid/backoffice-backend/internal/core/domain"
	"github.com/plategrid/backoffice-backend/internal/infrastructure/logging"
)

func main() {
	var (
		wsURL    = flag.String("ws", "ws://localhost:8080/api/v1/ws", "broker websocket URL")
		apiURL   = flag.String("api", "http://localhost:8080", "back-office API base URL")
		scopeID  = flag.String("scope", "", "restaurant scope id")
		token    = flag.String("token", "", "staff auth token")
		poll     = flag.Duration("poll", 15*time.Second, "poll fallback interval")
		liveness = flag.Duration("liveness", 30*time.Second, "push liveness check interval")
		mute     = flag.Bool("mute", false, "disable the audio cue")
	)
	flag.Parse()

	if *scopeID == "" || *token == "" {
		fmt.Fprintln(os.Stderr, "usage: staffterm -scope <restaurant-id> -token <jwt>")
		os.Exit(2)
	}

	logger := logging.NewLogger(logging.Config{
		Level:       "info",
		Format:      "text",
		Output:      os.Stderr,
		ServiceName: "staffterm",
		Environment: "development",
	})

	clock := clockwork.NewRealClock()

	transport := sync.NewWebsocketTransport(*wsURL, *token, logger)
	lister := sync.NewHTTPNotificationLister(*apiURL, *token, nil)

	agent, err := sync.New(sync.Config{
		ScopeID:          *scopeID,
		AuthToken:        *token,
		LivenessInterval: *liveness,
		PollInterval:     *poll,
	}, transport, lister, clock, logger)
	if err != nil {
		logger.Error("failed to create sync agent", "error", err)
		os.Exit(1)
	}

	toasts := toast.NewManager(clock, toast.BellChimer{Out: os.Stdout}, logger)
	toasts.SetMuted(*mute)
	toasts.OnChange(func(visible []toast.Toast) {
		fmt.Printf("--- %d toast(s) [%s] ---\n", len(visible), agent.Status())
		for _, t := range visible {
			fmt.Printf("  [%s] %s: %s\n", t.Priority, t.Title, t.Message)
		}
	})

	agent.OnNotification(func(n domain.Notification) {
		toasts.Add(n)
	})
	agent.OnRefetch(func() {
		logger.Debug("silent refetch requested")
	})

	agent.Subscribe(domain.EventScopePresence, func(event domain.Event) {
		logger.Info("scope presence changed")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agent.Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	agent.Close()
	fmt.Println("disconnected")
}
