package prompt

import "context"

// Canned answers a fixed sequence of confirmations, for tests. Calls past
// the end of Answers return Default.
type Canned struct {
	Answers []bool
	Default bool

	calls int
}

// NewCanned returns a Canned prompt that yields answers in order.
func NewCanned(answers ...bool) *Canned {
	return &Canned{Answers: answers}
}

// Confirm implements Prompt.
func (c *Canned) Confirm(ctx context.Context, message string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if c.calls >= len(c.Answers) {
		c.calls++
		return c.Default, nil
	}
	a := c.Answers[c.calls]
	c.calls++
	return a, nil
}

// Calls reports how many times Confirm was invoked.
func (c *Canned) Calls() int { return c.calls }
