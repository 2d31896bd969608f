package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Output handles formatting output based on the configured format
type Output struct {
	format string
	w      io.Writer
}

// NewOutput creates a new Output formatter writing to stdout
func NewOutput(format string) *Output {
	return &Output{format: format, w: os.Stdout}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

// PrintError outputs an error
func (o *Output) PrintError(err error) {
	if o.format == "json" {
		errData := map[string]any{
			"error": map[string]string{
				"message": err.Error(),
			},
		}
		data, _ := json.Marshal(errData)
		fmt.Fprintln(os.Stderr, string(data))
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	if o.format == "json" {
		data, _ := json.Marshal(map[string]string{"message": msg})
		fmt.Fprintln(o.w, string(data))
	} else {
		fmt.Fprintln(o.w, msg)
	}
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case AuthResult:
		o.printAuthResult(v)
	case Session:
		o.printSession(v)
	case CollectResult:
		fmt.Fprintf(o.w, "Score: %d\n", v.Score)
	case Leaderboard:
		o.printLeaderboard(v)
	case HealthResult:
		o.printHealthResult(v)
	default:
		// Fallback to JSON for unknown types
		o.printJSON(data)
	}
}

// User response type (matches API)
type User struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
}

// AuthResult combines user and token
type AuthResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

// Item response type
type Item struct {
	ID        string    `json:"id"`
	Lane      int       `json:"lane"`
	SpawnedAt time.Time `json:"spawned_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Round response type
type Round struct {
	ID            string `json:"id"`
	Score         int    `json:"score"`
	TimeRemaining int    `json:"time_remaining"`
	Items         []Item `json:"items"`
}

// Session response type
type Session struct {
	UserID                   int64      `json:"user_id"`
	DisplayName              string     `json:"display_name"`
	State                    string     `json:"state"`
	Balance                  int64      `json:"balance"`
	LastPlayedAt             *time.Time `json:"last_played_at"`
	CooldownRemainingSeconds int        `json:"cooldown_remaining_seconds"`
	NextEligibleAt           *time.Time `json:"next_eligible_at,omitempty"`
	Round                    *Round     `json:"round,omitempty"`
	Warning                  string     `json:"warning,omitempty"`
}

// CollectResult response type
type CollectResult struct {
	Score int `json:"score"`
}

// LeaderboardEntry response type
type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name"`
	Balance     int64  `json:"balance"`
}

// Leaderboard response type
type Leaderboard struct {
	Entries []LeaderboardEntry `json:"entries"`
}

// HealthResult response type
type HealthResult struct {
	Status        string    `json:"status"`
	Time          time.Time `json:"time"`
	ActiveEngines int       `json:"active_engines"`
}

func (o *Output) printAuthResult(a AuthResult) {
	fmt.Fprintf(o.w, "User: %s (%d)\n", a.User.DisplayName, a.User.ID)
	fmt.Fprintf(o.w, "Token: %s\n", a.Token)
	fmt.Fprintf(o.w, "Expires: %s\n", a.ExpiresAt.Local().Format(time.RFC1123))
}

func (o *Output) printSession(s Session) {
	fmt.Fprintf(o.w, "Player: %s (%d)\n", s.DisplayName, s.UserID)
	fmt.Fprintf(o.w, "State: %s\n", s.State)
	fmt.Fprintf(o.w, "Balance: %d\n", s.Balance)
	if s.LastPlayedAt != nil {
		fmt.Fprintf(o.w, "Last played: %s\n", s.LastPlayedAt.Local().Format(time.RFC1123))
	}
	if s.State == "locked" {
		fmt.Fprintf(o.w, "Next round in: %s\n", formatCountdown(s.CooldownRemainingSeconds))
	}
	if s.Round != nil {
		fmt.Fprintf(o.w, "Round: %s\n", s.Round.ID)
		fmt.Fprintf(o.w, "Score: %d\n", s.Round.Score)
		fmt.Fprintf(o.w, "Time left: %ds\n", s.Round.TimeRemaining)
		if len(s.Round.Items) > 0 {
			fmt.Fprintf(o.w, "Items (%d):\n", len(s.Round.Items))
			for _, it := range s.Round.Items {
				fmt.Fprintf(o.w, "  - %s lane %d\n", it.ID, it.Lane)
			}
		}
	}
	if s.Warning != "" {
		fmt.Fprintf(o.w, "Warning: %s\n", s.Warning)
	}
}

func (o *Output) printLeaderboard(l Leaderboard) {
	if len(l.Entries) == 0 {
		fmt.Fprintln(o.w, "No players yet")
		return
	}
	for _, e := range l.Entries {
		fmt.Fprintf(o.w, "%3d. %-24s %d\n", e.Rank, e.DisplayName, e.Balance)
	}
}

func (o *Output) printHealthResult(h HealthResult) {
	fmt.Fprintf(o.w, "Status: %s\n", h.Status)
	fmt.Fprintf(o.w, "Active engines: %d\n", h.ActiveEngines)
}

// formatCountdown renders whole seconds as HH:MM:SS
func formatCountdown(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, seconds%3600/60, seconds%60)
}
