package toast

import (
	"fmt"
	"io"
)

// Pitch selects the audio cue tone. Urgent notifications chime higher.
type Pitch int

const (
	PitchNormal Pitch = iota
	PitchHigh
)

// Chimer emits the audio cue for a loud notification. It is fire and
// forget: callers never wait on it and never see its failures.
type Chimer interface {
	Chime(pitch Pitch)
}

// NopChimer is the silent implementation for headless and test use.
type NopChimer struct{}

func (NopChimer) Chime(Pitch) {}

// BellChimer rings the terminal bell. The urgent pitch rings twice; real
// tone synthesis belongs to the UI shell, not this core.
type BellChimer struct {
	Out io.Writer
}

func (c BellChimer) Chime(pitch Pitch) {
	if c.Out == nil {
		return
	}
	if pitch == PitchHigh {
		_, _ = fmt.Fprint(c.Out, "\a\a")
		return
	}
	_, _ = fmt.Fprint(c.Out, "\a")
}
