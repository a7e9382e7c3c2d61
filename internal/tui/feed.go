package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/intellixa/console/internal/models"
)

// Feed carries stage changes from the run controller's goroutines into the
// bubbletea event loop.
type Feed struct {
	ch chan models.Stage
}

func NewFeed() *Feed {
	return &Feed{ch: make(chan models.Stage, 16)}
}

// Observe is passed to the controller as its observer.
func (f *Feed) Observe(stage models.Stage) {
	f.ch <- stage
}

type stageMsg struct {
	stage models.Stage
}

// next waits for one stage change. The app re-issues it after every
// stageMsg so the feed is drained for the program's lifetime.
func (f *Feed) next() tea.Msg {
	return stageMsg{stage: <-f.ch}
}
