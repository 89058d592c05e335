// Package main provides the voter CLI entry point for testing.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/djvote/internal/api/connect"
	"github.com/osa030/djvote/internal/app/notification"
	"github.com/osa030/djvote/internal/app/session"
)

var (
	app    = kingpin.New("djvote-votecli", "djvote voter client for testing")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()

	// join command
	joinCmd        = app.Command("join", "Join the session")
	joinName       = joinCmd.Arg("name", "Display name").Required().String()
	joinExternalID = joinCmd.Arg("external-id", "External user ID (optional)").String()

	// vote command
	voteCmd      = app.Command("vote", "Vote for a candidate of the current round")
	voteListener = voteCmd.Arg("listener-id", "Listener ID (UUID)").Required().String()
	voteIndex    = voteCmd.Arg("index", "Candidate index (0-based)").Required().Int()

	// round command
	roundCmd = app.Command("round", "Show the current round")

	// votes command
	votesCmd   = app.Command("votes", "Show the persisted tally of a round")
	votesRound = votesCmd.Arg("round-id", "Round ID (default: current)").String()

	// subscribe command
	subscribeCmd = app.Command("subscribe", "Subscribe to notifications")
	subscribeRaw = subscribeCmd.Flag("raw", "Print notifications as JSON").Bool()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	client := apiconnect.NewListenerClient(http.DefaultClient, *server)
	ctx := context.Background()

	switch command {
	case joinCmd.FullCommand():
		join(ctx, client, *joinName, *joinExternalID)
	case voteCmd.FullCommand():
		vote(ctx, client, *voteListener, *voteIndex)
	case roundCmd.FullCommand():
		showRound(ctx, client)
	case votesCmd.FullCommand():
		showVotes(ctx, client, *votesRound)
	case subscribeCmd.FullCommand():
		subscribe(ctx, client, *subscribeRaw)
	}
}

func fail(err error) {
	fmt.Printf("Error: %v\n", err)
	os.Exit(1)
}

func join(ctx context.Context, client *apiconnect.ListenerClient, displayName, externalID string) {
	resp, err := client.Join(ctx, &apiconnect.JoinRequest{
		DisplayName:    displayName,
		ExternalUserID: externalID,
	})
	if err != nil {
		fail(err)
	}

	fmt.Printf("Joined! Your listener ID: %s\n", resp.ListenerID)
}

func vote(ctx context.Context, client *apiconnect.ListenerClient, listenerID string, index int) {
	resp, err := client.CastVote(ctx, &apiconnect.CastVoteRequest{
		ListenerID: listenerID,
		Index:      index,
	})
	if err != nil {
		fail(err)
	}

	switch {
	case resp.Accepted && resp.Resolved:
		fmt.Printf("Vote counted and decided the next track: %s\n", resp.TrackID)
	case resp.Accepted:
		fmt.Printf("Vote counted for %s\n", resp.TrackID)
	default:
		fmt.Printf("Vote rejected: %s\n", resp.Reason)
	}
}

func showRound(ctx context.Context, client *apiconnect.ListenerClient) {
	resp, err := client.GetRound(ctx)
	if err != nil {
		fail(err)
	}
	if resp.Round == nil {
		fmt.Println("No round in progress")
		return
	}
	printRound(resp.Round)
	p := resp.Progress
	fmt.Printf("  Progress: %d/%ds (%s)\n", p.ElapsedSec, p.DurationSec, p.State)
}

func showVotes(ctx context.Context, client *apiconnect.ListenerClient, roundID string) {
	resp, err := client.GetVotes(ctx, roundID)
	if err != nil {
		fail(err)
	}

	fmt.Printf("Votes for round %s:\n", resp.RoundID)
	for trackID, n := range resp.Counts {
		fmt.Printf("  %s: %d\n", trackID, n)
	}
}

func subscribe(ctx context.Context, client *apiconnect.ListenerClient, raw bool) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stream, err := client.SubscribeNotifications(ctx)
	if err != nil {
		fail(err)
	}
	defer stream.Close()

	fmt.Println("Subscribed to notifications. Press Ctrl+C to exit.")

	for stream.Receive() {
		printNotification(stream.Msg(), raw)
	}

	if err := stream.Err(); err != nil && ctx.Err() == nil {
		fmt.Printf("Stream error: %v\n", err)
	}
}

func printNotification(n *notification.Notification, raw bool) {
	if raw {
		data, _ := json.Marshal(n)
		fmt.Println(string(data))
		return
	}

	fmt.Printf("\n[Sequence: %d] === %s ===\n", n.SequenceNo, strings.ToUpper(string(n.Type)))

	switch n.Type {
	case notification.TypeRoundStarted, notification.TypeCandidatesReady, notification.TypeVotingOpened,
		notification.TypeVoteCast, notification.TypeRoundResolved:
		var r session.RoundView
		if decodePayload(n.Payload, &r) == nil && r.ID != "" {
			printRound(&r)
		}
	case notification.TypeTrackChanged:
		var t session.TrackView
		if decodePayload(n.Payload, &t) == nil {
			fmt.Printf("  Now playing: %s - %s (%ds)\n", t.Artist, t.Name, t.DurationSec)
		}
	default:
		data, _ := json.Marshal(n.Payload)
		fmt.Printf("  %s\n", data)
	}
}

// decodePayload converts a generically decoded payload into v.
func decodePayload(payload any, v any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func printRound(r *session.RoundView) {
	fmt.Printf("  Round: %s (%s)\n", r.ID, r.State)
	fmt.Printf("  Seed: %s - %s\n", r.Seed.Artist, r.Seed.Name)
	for i, c := range r.Candidates {
		marker := " "
		if r.WinnerIndex == i {
			marker = "*"
		}
		votes := 0
		if i < len(r.VoteCounts) {
			votes = r.VoteCounts[i]
		}
		fmt.Printf("  %s[%d] %s - %s (votes: %d)\n", marker, i, c.Artist, c.Name, votes)
	}
	if r.VotingOpen {
		fmt.Printf("  Voting open: %ds left\n", r.TimeRemaining)
	}
}
