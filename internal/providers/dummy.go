package providers

import (
	"context"
	"fmt"
	"sync"
)

// Dummy is an offline provider that replays scripted responses. It is the
// default when no API key is configured and the workhorse of the test suite.
type Dummy struct {
	mu        sync.Mutex
	responses []string
	next      int
	calls     []string
}

// NewDummy creates a Dummy replaying the given responses in order. With no
// responses it echoes a canned acknowledgement.
func NewDummy(responses ...string) *Dummy {
	return &Dummy{responses: responses}
}

func (d *Dummy) Name() string { return "dummy" }

func (d *Dummy) SupportsStreaming() bool { return false }

func (d *Dummy) AuthType() AuthType { return AuthAPIKey }

// Generate returns the next scripted response. Past the end of the script it
// repeats the last response, so bounded worker loops always terminate.
func (d *Dummy) Generate(ctx context.Context, prompt string, _ Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, prompt)

	if len(d.responses) == 0 {
		return fmt.Sprintf("Acknowledged: %.80s. done", prompt), nil
	}
	resp := d.responses[min(d.next, len(d.responses)-1)]
	d.next++
	return resp, nil
}

// Calls returns every prompt seen so far.
func (d *Dummy) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.calls))
	copy(out, d.calls)
	return out
}
