package cmd

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog/log"

	"github.com/MikeDominic92/keyless-kingdom/pkg/client"
)

var (
	bold  = color.New(color.Bold).SprintFunc()
	faint = color.New(color.Faint).SprintFunc()

	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()

	greenCheck = color.GreenString("✔")
	redCross   = color.RedString("✖")
)

// BeQuietError signals that the error was already reported to the user.
type BeQuietError struct{}

func (BeQuietError) Error() string {
	return "command failed"
}

// logError prints err together with the correlation ID the server returned
// and returns a BeQuietError.
func logError(err error, correlation, msg string) error {
	ev := log.Error()
	if correlation != "" {
		ev = ev.Str("correlation_id", correlation)
	}
	var apiErr client.APIError
	if errors.As(err, &apiErr) {
		ev = ev.Int("status", apiErr.StatusCode)
	}
	ev.Msgf("%s %s", redCross, msg)
	log.Error().Msgf("error: %v", err)
	if errors.Is(err, client.ErrInvalidSession) {
		log.Info().Msgf("Run '%s' to create a new session.", cyan("keyless login"))
	}
	return BeQuietError{}
}

func logSuccess(format string, args ...any) {
	log.Info().Msgf("%s %s", greenCheck, fmt.Sprintf(format, args...))
}

func applyTableFormat(t table.Writer) {
	t.SetStyle(table.StyleLight)
	if color.NoColor {
		t.SetStyle(table.StyleDefault)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

func printKV(key string, val any) {
	fmt.Printf("  %-26s %v\n", faint(key)+":", val)
}

func orNone(s string) string {
	if s == "" {
		return faint("(none)")
	}
	return s
}
