package ui

import (
	"fmt"

	"github.com/audiolibrelab/wavedeck/internal/service"
)

type recordingItem struct {
	info service.RecordingInfo
}

func (i recordingItem) Title() string {
	switch {
	case i.info.Playing:
		return "▶ " + i.info.Name
	case i.info.Active:
		return "⏸ " + i.info.Name
	default:
		return i.info.Name
	}
}

func (i recordingItem) Description() string {
	return fmt.Sprintf("%s  %s  %s", i.info.DurationHuman, i.info.CreatedHuman, i.info.SizeHuman)
}

func (i recordingItem) FilterValue() string { return i.info.Name }
