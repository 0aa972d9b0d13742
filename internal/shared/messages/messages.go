// Package messages holds the push notification texts. Operators can
// override them with a JSON file without a rebuild.
package messages

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// MessageText is a push title and a fmt body template.
type MessageText struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Format fills the body template.
func (m MessageText) Format(args ...any) string {
	return fmt.Sprintf(m.Body, args...)
}

type Messages struct {
	SyncComplete     MessageText `json:"sync_complete"`
	UnmatchedPending MessageText `json:"unmatched_pending"`
}

// Default returns the built-in English texts.
func Default() *Messages {
	return &Messages{
		SyncComplete: MessageText{
			Title: "Sync complete",
			Body:  "%d new transactions imported, %d trades reconciled.",
		},
		UnmatchedPending: MessageText{
			Title: "Trades need review",
			Body:  "%d transactions could not be matched automatically.",
		},
	}
}

// Load reads an override file on top of the defaults. A missing file is
// not an error. On any other failure the defaults are returned along with
// the error.
func Load(path string) (*Messages, error) {
	msgs := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return msgs, nil
	}
	if err != nil {
		return msgs, fmt.Errorf("read messages file: %w", err)
	}

	override := *msgs
	if err := json.Unmarshal(data, &override); err != nil {
		return msgs, fmt.Errorf("parse messages file: %w", err)
	}
	if err := checkVerbs(override.SyncComplete, 2); err != nil {
		return msgs, fmt.Errorf("sync_complete: %w", err)
	}
	if err := checkVerbs(override.UnmatchedPending, 1); err != nil {
		return msgs, fmt.Errorf("unmatched_pending: %w", err)
	}
	return &override, nil
}

// checkVerbs rejects bodies whose %d count does not match the arguments
// the notification service passes.
func checkVerbs(m MessageText, want int) error {
	if m.Title == "" {
		return fmt.Errorf("empty title")
	}
	if got := strings.Count(m.Body, "%d"); got != want {
		return fmt.Errorf("body has %d %%d verbs, want %d", got, want)
	}
	return nil
}
