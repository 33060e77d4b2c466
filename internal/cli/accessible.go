package cli

import (
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// forceAccessible is set from the --accessible persistent flag in
// NewRootCmd's PersistentPreRun, before any subcommand prompts.
var forceAccessible bool

// NewAccessibleForm builds a huh.Form that falls back to plain sequential
// text prompts (reading from stdin instead of driving /dev/tty) whenever
// --accessible/ACCESSIBLE is set or stdout isn't a terminal — the same
// trigger the integration tests rely on.
func NewAccessibleForm(groups ...*huh.Group) *huh.Form {
	return huh.NewForm(groups...).WithAccessible(accessibleMode())
}

func accessibleMode() bool {
	if forceAccessible || os.Getenv("ACCESSIBLE") != "" {
		return true
	}
	return !term.IsTerminal(int(os.Stdout.Fd()))
}
