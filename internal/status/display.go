// Package status publishes what is playing to whatever display the host has.
package status

import (
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

type Mode int

const (
	ModeSpectrum Mode = iota
	ModeStatic
)

func (m Mode) String() string {
	if m == ModeStatic {
		return "static"
	}
	return "spectrum"
}

// ParseMode accepts "spectrum" or "static"; anything else is spectrum.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), "static") {
		return ModeStatic
	}
	return ModeSpectrum
}

// Display is the now-playing surface.
type Display interface {
	SetNowPlaying(text string)
	StartVisualization()
	StopVisualization()
}

func NowPlayingText(song string) string {
	return "Now playing: " + song
}

// LogDisplay reports now-playing changes through the logger.
type LogDisplay struct {
	mu          sync.Mutex
	text        string
	visualizing bool
}

func NewLogDisplay() *LogDisplay {
	return &LogDisplay{}
}

func (d *LogDisplay) SetNowPlaying(text string) {
	d.mu.Lock()
	changed := text != d.text
	d.text = text
	d.mu.Unlock()

	if !changed {
		return
	}
	if text == "" {
		log.Debug().Msg("Now playing cleared")
		return
	}
	log.Info().Msg(text)
}

func (d *LogDisplay) StartVisualization() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.visualizing {
		d.visualizing = true
		log.Debug().Msg("Spectrum visualization started")
	}
}

func (d *LogDisplay) StopVisualization() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.visualizing {
		d.visualizing = false
		log.Debug().Msg("Spectrum visualization stopped")
	}
}

func (d *LogDisplay) NowPlaying() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text
}

func (d *LogDisplay) Visualizing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.visualizing
}
