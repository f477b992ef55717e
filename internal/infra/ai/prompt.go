package ai

import (
	"fmt"
	"strings"
)

// historyWindow is how many recent plays the model sees.
const historyWindow = 20

const systemPrompt = `You are a radio DJ taking turns with a human listener.
Answer with a single JSON object and nothing else.`

const judgeSystemPrompt = `You review track picks for a radio DJ persona.
Answer with a single JSON object and nothing else.`

func buildSelectPrompt(req SelectRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Persona: %s\n\n", req.PersonaStyle)
	writeHistory(&b, req.History)

	if len(req.Exclusions) > 0 {
		b.WriteString("\nRecently selected, do not pick again:\n")
		for _, e := range req.Exclusions {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	if len(req.Suggestions) > 0 {
		b.WriteString("\nListeners of the current track also like (optional ideas):\n")
		for _, sg := range req.Suggestions {
			fmt.Fprintf(&b, "- %s\n", sg)
		}
	}
	if req.Direction != "" {
		fmt.Fprintf(&b, "\nSteer the set in this direction: %s\n", req.Direction)
	}
	if req.RejectionReason != "" {
		fmt.Fprintf(&b, "\nYour previous pick was rejected: %s\nPick something that avoids this problem.\n", req.RejectionReason)
	}
	if req.AvoidRepeats {
		b.WriteString("\nIMPORTANT: your previous pick was already played. The track MUST NOT appear anywhere in the history above.\n")
	}

	b.WriteString("\nPick exactly one next track that exists on major streaming services.\n")
	b.WriteString(`Respond as {"artist": "...", "title": "...", "rationale": "one short sentence"}.`)
	return b.String()
}

func buildDirectionPrompt(personaStyle string, history []HistoryItem) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Persona: %s\n\n", personaStyle)
	writeHistory(&b, history)
	b.WriteString("\nThe listener wants the set to go somewhere new while staying in character.\n")
	b.WriteString("Describe the new direction as an instruction for picking the next track, and a short label for display.\n")
	b.WriteString(`Respond as {"prompt": "...", "label": "two to four words"}.`)
	return b.String()
}

func buildJudgePrompt(artist, title, personaStyle string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Persona: %s\n", personaStyle)
	fmt.Fprintf(&b, "Track: %s - %s\n\n", artist, title)
	b.WriteString("Would this persona play this track?\n")
	b.WriteString(`Respond as {"fits": true|false, "reason": "one short sentence"}.`)
	return b.String()
}

func writeHistory(b *strings.Builder, history []HistoryItem) {
	if len(history) == 0 {
		b.WriteString("Nothing has played yet.\n")
		return
	}
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	b.WriteString("Played so far (oldest first):\n")
	for i, h := range history {
		fmt.Fprintf(b, "%d. %s - %s (picked by %s)\n", i+1, h.Artist, h.Title, h.SelectedBy)
	}
}
