package ui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Record  key.Binding
	Access  key.Binding
	Toggle  key.Binding
	Export  key.Binding
	Delete  key.Binding
	Dismiss key.Binding
	Up      key.Binding
	Down    key.Binding
	Help    key.Binding
	Quit    key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Record:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "start/stop recording")),
		Access:  key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "request microphone")),
		Toggle:  key.NewBinding(key.WithKeys(" ", "space", "enter"), key.WithHelp("space", "play/pause")),
		Export:  key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "download")),
		Delete:  key.NewBinding(key.WithKeys("x", "delete"), key.WithHelp("x", "delete")),
		Dismiss: key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "dismiss alert")),
		Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Help:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:    key.NewBinding(key.WithKeys("ctrl+c", "q"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Record, k.Toggle, k.Delete, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Record, k.Access},
		{k.Up, k.Down, k.Toggle, k.Export, k.Delete},
		{k.Dismiss, k.Help, k.Quit},
	}
}
