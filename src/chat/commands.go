package chat

import "strings"

const (
	keywordClipboard = "clipboard"
	keywordSend      = "send"
)

// Command is a transcript with its voice keywords resolved.
type Command struct {
	Text      string
	Clipboard bool
	Send      bool
}

// ParseCommand looks for the "clipboard" and "send" keywords among the first
// two words of a transcript and strips them. Matching is case-insensitive
// and ignores trailing punctuation on the keyword.
func ParseCommand(transcript string) Command {
	words := strings.Fields(transcript)
	var cmd Command

	kept := words[:0:0]
	for i, w := range words {
		if i < 2 {
			switch keyword(w) {
			case keywordClipboard:
				if !cmd.Clipboard {
					cmd.Clipboard = true
					continue
				}
			case keywordSend:
				if !cmd.Send {
					cmd.Send = true
					continue
				}
			}
		}
		kept = append(kept, w)
	}

	cmd.Text = strings.Join(kept, " ")
	return cmd
}

func keyword(word string) string {
	return strings.ToLower(strings.TrimRight(word, ".,!?;:"))
}
