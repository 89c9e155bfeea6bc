package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Quit      key.Binding
	Accept    key.Binding
	Decline   key.Binding
	Decrease  key.Binding
	Increase  key.Binding
	JumpLeft  key.Binding
	JumpRight key.Binding
	Submit    key.Binding
	Retry     key.Binding
	Close     key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Quit:      key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "abort")),
		Accept:    key.NewBinding(key.WithKeys("y", "Y"), key.WithHelp("y", "I consent")),
		Decline:   key.NewBinding(key.WithKeys("n", "N"), key.WithHelp("n", "I do not consent")),
		Decrease:  key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←", "move left")),
		Increase:  key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→", "move right")),
		JumpLeft:  key.NewBinding(key.WithKeys("pgdown", "shift+left"), key.WithHelp("pgdn", "jump left")),
		JumpRight: key.NewBinding(key.WithKeys("pgup", "shift+right"), key.WithHelp("pgup", "jump right")),
		Submit:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "confirm")),
		Retry:     key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "retry saving")),
		Close:     key.NewBinding(key.WithKeys("q", "esc", "enter"), key.WithHelp("q", "close")),
	}
}
