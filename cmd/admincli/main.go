// Package main provides the admin CLI entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/djvote/internal/api/connect"
)

var (
	app    = kingpin.New("djvote-admincli", "djvote admin client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Admin token (or set ADMIN_TOKEN env)").Envar("ADMIN_TOKEN").String()

	// status command
	statusCmd = app.Command("status", "Get session status")

	// search command
	searchCmd   = app.Command("search", "Search the catalog for a seed")
	searchQuery = searchCmd.Arg("query", "Search text").Required().String()
	searchLimit = searchCmd.Flag("limit", "Maximum results").Default("10").Int()

	// seed command
	seedCmd   = app.Command("seed", "Start a new round from a seed track").Alias("start-round")
	seedInput = seedCmd.Arg("seed", "Track ID, spotify:track URI, open.spotify.com URL, or search text").Required().String()

	// toggle command
	toggleCmd = app.Command("toggle", "Pause or resume playback")

	// volume command
	volumeCmd   = app.Command("volume", "Set device volume")
	volumeLevel = volumeCmd.Arg("level", "Volume 0-100").Required().Int()

	// skip command
	skipCmd = app.Command("skip", "Skip the current track")

	// kick command
	kickCmd      = app.Command("kick", "Kick a listener")
	kickListener = kickCmd.Arg("listener-id", "Listener ID (UUID)").Required().String()

	// list-listeners command
	listCmd = app.Command("list-listeners", "List all listeners").Alias("list")

	// stop command
	stopCmd = app.Command("stop", "Stop the session")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if *token == "" {
		fmt.Println("Error: admin token is required (use --token or ADMIN_TOKEN env)")
		os.Exit(1)
	}

	client := apiconnect.NewAdminClient(http.DefaultClient, *server, *token)
	ctx := context.Background()

	var err error
	switch command {
	case statusCmd.FullCommand():
		err = status(ctx, client)
	case searchCmd.FullCommand():
		err = search(ctx, client, *searchQuery, *searchLimit)
	case seedCmd.FullCommand():
		err = seed(ctx, client, *seedInput)
	case toggleCmd.FullCommand():
		err = toggle(ctx, client)
	case volumeCmd.FullCommand():
		err = printAck(client.SetVolume(ctx, *volumeLevel))
	case skipCmd.FullCommand():
		err = printAck(client.Skip(ctx))
	case kickCmd.FullCommand():
		err = printAck(client.Kick(ctx, *kickListener))
	case listCmd.FullCommand():
		err = listListeners(ctx, client)
	case stopCmd.FullCommand():
		err = printAck(client.StopSession(ctx))
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

// printAck prints the outcome of a command that returns only an acknowledgement.
func printAck(resp *apiconnect.CommandResponse, err error) error {
	if err != nil {
		return err
	}
	if resp.Success {
		fmt.Println(resp.Message)
	} else {
		fmt.Printf("Failed: %s\n", resp.Message)
	}
	return nil
}

func status(ctx context.Context, client *apiconnect.AdminClient) error {
	resp, err := client.GetStatus(ctx)
	if err != nil {
		return err
	}

	s := resp.Status
	fmt.Println("\n=== CURRENT SESSION STATUS ===")
	fmt.Printf("Session ID: %s\n", s.Session.SessionID)
	fmt.Printf("Title: %s\n", s.Session.Title)
	fmt.Printf("Phase: %s\n", s.Session.Phase)
	if s.Session.Device != "" {
		fmt.Printf("Device: %s\n", s.Session.Device)
	}
	if s.Session.Failure != "" {
		fmt.Printf("Failure: %s\n", s.Session.Failure)
	}
	if s.Session.EndTime != nil {
		fmt.Printf("Ends at: %s\n", s.Session.EndTime.Local().Format("15:04:05"))
	}
	fmt.Printf("Listeners: %d\n", s.Listeners)

	if r := s.Round; r != nil {
		fmt.Printf("\nRound %s (%s)\n", r.ID, r.State)
		fmt.Printf("  Seed: %s - %s [%d/%ds, %s]\n",
			r.Seed.Artist, r.Seed.Name, s.Progress.ElapsedSec, s.Progress.DurationSec, s.Progress.State)
		for i, c := range r.Candidates {
			votes := 0
			if i < len(r.VoteCounts) {
				votes = r.VoteCounts[i]
			}
			fmt.Printf("  [%d] %s - %s (votes: %d, via %s)\n", i, c.Artist, c.Name, votes, c.Source)
		}
		if r.VotingOpen {
			fmt.Printf("  Voting open: %ds left\n", r.TimeRemaining)
		}
	} else {
		fmt.Println("\nNo round in progress")
	}
	if s.Loading != "" {
		fmt.Printf("Loading: %s\n", s.Loading)
	}
	fmt.Println()
	return nil
}

func search(ctx context.Context, client *apiconnect.AdminClient, query string, limit int) error {
	resp, err := client.Search(ctx, query, limit)
	if err != nil {
		return err
	}

	fmt.Printf("Results (%d):\n", len(resp.Tracks))
	for _, t := range resp.Tracks {
		fmt.Printf("  %s  %s - %s (%ds)\n", t.ID, t.Artist, t.Name, t.DurationSec)
	}
	return nil
}

func seed(ctx context.Context, client *apiconnect.AdminClient, input string) error {
	resp, err := client.StartRound(ctx, input)
	if err != nil {
		return err
	}

	fmt.Printf("Round started with %s - %s\n", resp.Track.Artist, resp.Track.Name)
	return nil
}

func toggle(ctx context.Context, client *apiconnect.AdminClient) error {
	resp, err := client.TogglePlayPause(ctx)
	if err != nil {
		return err
	}

	if resp.Playing {
		fmt.Println("Playback resumed")
	} else {
		fmt.Println("Playback paused")
	}
	return nil
}

func listListeners(ctx context.Context, client *apiconnect.AdminClient) error {
	resp, err := client.ListListeners(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Listeners (%d):\n", len(resp.Listeners))
	for _, l := range resp.Listeners {
		displayName := l.DisplayName
		if l.IsKicked {
			displayName = "[KICKED] " + displayName
		}
		fmt.Printf("  %s: %s (votes: %d, joined: %s)\n",
			l.ListenerID, displayName, l.TotalVotes, l.JoinedAt)
	}
	return nil
}
