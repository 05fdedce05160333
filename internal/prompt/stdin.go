package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Stdin reads confirmations from an io.Reader (os.Stdin in production),
// writing the prompt text to an io.Writer (os.Stdout in production).
type Stdin struct {
	In  io.Reader
	Out io.Writer
}

// NewStdin returns a Stdin prompt wired to in/out.
func NewStdin(in io.Reader, out io.Writer) *Stdin {
	return &Stdin{In: in, Out: out}
}

// Confirm prints message followed by " [y/N]: " and blocks for a line of
// input. Anything other than a case-insensitive "y"/"yes" is a no. ctx
// cancellation is checked before printing the prompt; Stdin cannot
// interrupt a blocked read, so cancellation mid-read is not observed
// until the next line arrives.
func (s *Stdin) Confirm(ctx context.Context, message string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fmt.Fprintf(s.Out, "%s [y/N]: ", message)

	scanner := bufio.NewScanner(s.In)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return false, err
		}
		return false, nil
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes", nil
}
