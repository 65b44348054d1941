package preview

import (
	"os"
	"strconv"

	"github.com/charmbracelet/x/term"
)

// defaultWidth is used when neither the terminal nor $COLUMNS says
// otherwise.
const defaultWidth = 80

// Width returns the column count of the terminal on fd. It falls back to
// $COLUMNS and then to 80.
func Width(fd uintptr) int {
	if w, _, err := term.GetSize(fd); err == nil && w > 0 {
		return w
	}
	return envInt("COLUMNS", defaultWidth)
}

// envInt reads a positive integer from the named environment variable.
func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
