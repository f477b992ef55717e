// Package main provides the DJ control client.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	apiconnect "github.com/osa030/turntable/internal/api/connect"
)

var (
	app     = kingpin.New("djctl", "turntable DJ control client")
	server  = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token   = app.Flag("token", "Control token (or set CONTROL_TOKEN env)").Envar("CONTROL_TOKEN").String()
	rawJSON = app.Flag("json", "Print raw JSON responses").Bool()

	// status command
	statusCmd = app.Command("status", "Show the session state")

	// search command
	searchCmd   = app.Command("search", "Search the catalog")
	searchQuery = searchCmd.Arg("query", "Search terms").Required().Strings()

	// pick command
	pickCmd   = app.Command("pick", "Pick a track (plays now if nothing is playing)")
	pickTrack = pickCmd.Arg("track", "Spotify track ID, URL or URI").Required().String()

	// skip-to command
	skipToCmd   = app.Command("skip-to", "Jump to a queued entry")
	skipToEntry = skipToCmd.Arg("entry-id", "Queue entry ID").Required().String()

	// direction command
	directionCmd = app.Command("direction", "Ask the AI to change direction")

	// personas command
	personasCmd = app.Command("personas", "List personas")

	// persona command
	personaCmd  = app.Command("persona", "Switch the active persona")
	personaName = personaCmd.Arg("name", "Persona name").Required().String()

	// reset command
	resetCmd = app.Command("reset", "Clear the session")

	// watch command
	watchCmd = app.Command("watch", "Stream state changes")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if *token == "" {
		fmt.Println("Error: control token is required (use --token or CONTROL_TOKEN env)")
		os.Exit(1)
	}

	client := apiconnect.NewSessionServiceClient(http.DefaultClient, *server, *token)
	ctx := context.Background()

	var (
		msg *structpb.Struct
		err error
	)
	switch command {
	case statusCmd.FullCommand():
		msg, err = client.GetState(ctx)
		if err == nil && !*rawJSON {
			printState(msg)
			return
		}
	case searchCmd.FullCommand():
		msg, err = client.Search(ctx, strings.Join(*searchQuery, " "))
		if err == nil && !*rawJSON {
			printTracks(msg)
			return
		}
	case pickCmd.FullCommand():
		msg, err = client.SelectTrack(ctx, *pickTrack)
		if err == nil && !*rawJSON {
			e := fields(msg, "entry")
			fmt.Printf("Picked: %s (%s)\n", trackLine(fields(e, "track")), str(e, "queue_status"))
			return
		}
	case skipToCmd.FullCommand():
		msg, err = client.SkipTo(ctx, *skipToEntry)
		if err == nil && !*rawJSON {
			fmt.Printf("Now playing: %s\n", trackLine(fields(fields(msg, "entry"), "track")))
			return
		}
	case directionCmd.FullCommand():
		msg, err = client.ChangeDirection(ctx)
		if err == nil && !*rawJSON {
			fmt.Printf("Direction: %s\n  %s\n", str(msg, "label"), str(msg, "prompt"))
			return
		}
	case personasCmd.FullCommand():
		msg, err = client.ListPersonas(ctx)
		if err == nil && !*rawJSON {
			printPersonas(msg)
			return
		}
	case personaCmd.FullCommand():
		msg, err = client.SetPersona(ctx, *personaName)
		if err == nil && !*rawJSON {
			fmt.Printf("Persona: %s\n", str(fields(msg, "persona"), "name"))
			return
		}
	case resetCmd.FullCommand():
		if err = client.Reset(ctx); err == nil {
			fmt.Println("Session reset")
			return
		}
	case watchCmd.FullCommand():
		err = watch(ctx, client)
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if msg != nil {
		printJSON(msg)
	}
}

func watch(ctx context.Context, client *apiconnect.SessionServiceClient) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("Watching session state. Press Ctrl+C to exit.")
	err := client.WatchState(ctx, func(msg *structpb.Struct) error {
		if *rawJSON {
			printJSON(msg)
			return nil
		}
		fmt.Printf("\n[Sequence: %d]\n", int64(num(msg, "sequence_no")))
		printState(msg)
		return nil
	})
	if ctx.Err() != nil {
		fmt.Println("\nUnsubscribing...")
		return nil
	}
	return err
}

func printState(msg *structpb.Struct) {
	fmt.Println("=== SESSION ===")
	fmt.Printf("Player: %s\n", str(msg, "player_state"))
	fmt.Printf("Turn: %s\n", str(msg, "current_turn"))
	fmt.Printf("Persona: %s\n", str(msg, "persona"))
	if d := str(msg, "direction"); d != "" {
		fmt.Printf("Direction: %s\n", d)
	}
	if b := msg.GetFields()["ai_thinking"].GetBoolValue(); b {
		fmt.Println("AI is picking the next track...")
	}
	if n := str(msg, "notice"); n != "" {
		fmt.Printf("Notice: %s\n", n)
	}

	if np := fields(msg, "now_playing"); np != nil {
		fmt.Printf("\nNow playing: %s [%s]\n", trackLine(fields(np, "track")), str(np, "selected_by"))
		if r := str(np, "rationale"); r != "" {
			fmt.Printf("  %s\n", r)
		}
	} else {
		fmt.Println("\nNothing playing")
	}

	queue := msg.GetFields()["queue"].GetListValue().GetValues()
	if len(queue) > 0 {
		fmt.Println("\nQueue:")
		for _, v := range queue {
			e := v.GetStructValue()
			fmt.Printf("  %s  %-18s %s [%s]\n", str(e, "id"), str(e, "queue_status"), trackLine(fields(e, "track")), str(e, "selected_by"))
			if r := str(e, "rationale"); r != "" {
				fmt.Printf("      %s\n", r)
			}
		}
	}

	history := msg.GetFields()["history"].GetListValue().GetValues()
	fmt.Printf("\nHistory: %d tracks\n", len(history))
}

func printTracks(msg *structpb.Struct) {
	tracks := msg.GetFields()["tracks"].GetListValue().GetValues()
	if len(tracks) == 0 {
		fmt.Println("No results")
		return
	}
	for i, v := range tracks {
		t := v.GetStructValue()
		fmt.Printf("%2d. %s  %s\n", i+1, str(t, "id"), trackLine(t))
	}
}

func printPersonas(msg *structpb.Struct) {
	active := str(msg, "active")
	for _, v := range msg.GetFields()["personas"].GetListValue().GetValues() {
		p := v.GetStructValue()
		marker := " "
		if str(p, "name") == active {
			marker = "*"
		}
		fmt.Printf("%s %-20s - %s\n", marker, str(p, "name"), str(p, "style"))
	}
}

func printJSON(msg *structpb.Struct) {
	out, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(msg)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println(string(out))
}

func trackLine(t *structpb.Struct) string {
	line := str(t, "artist") + " - " + str(t, "title")
	if ms := num(t, "duration_ms"); ms > 0 {
		sec := int(ms / 1000)
		line += fmt.Sprintf(" (%d:%02d)", sec/60, sec%60)
	}
	return line
}

func fields(s *structpb.Struct, name string) *structpb.Struct {
	return s.GetFields()[name].GetStructValue()
}

func str(s *structpb.Struct, name string) string {
	return s.GetFields()[name].GetStringValue()
}

func num(s *structpb.Struct, name string) float64 {
	return s.GetFields()[name].GetNumberValue()
}
