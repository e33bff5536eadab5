package messaging

import (
	"github.com/yourusername/linkedin-messenger/internal/config"
)

// Selectors holds the ordered candidate lists for each UI element. Earlier
// entries are more specific; generic text matches come last.
type Selectors struct {
	LoggedIn      []string
	MessageButton []string
	TextBox       []string
	SendButton    []string

	UnreadConversation string
	ThreadProfileLink  string
	MessageEvent       string
}

// DefaultSelectors targets the French-locale LinkedIn UI, with English
// fallbacks.
func DefaultSelectors() Selectors {
	return Selectors{
		LoggedIn: []string{
			`nav[aria-label="Navigation principale"]`,
			`nav[aria-label="Primary Navigation"]`,
			`#global-nav`,
			`.global-nav__me`,
		},
		MessageButton: []string{
			`button.pvs-profile-actions__action:has-text("Message")`,
			`button:has-text("Message")`,
			`button:has-text("Envoyer un message")`,
			`a[href*="messaging/thread"]`,
			`.message-anywhere-button`,
			`button[aria-label*="Message"]`,
		},
		TextBox: []string{
			`div[role="textbox"]`,
			`div.msg-form__contenteditable`,
			`div.msg-form__msg-content-container`,
			`p[data-placeholder="Écrire un message..."]`,
		},
		SendButton: []string{
			`button[type="submit"]:has-text("Envoyer")`,
			`button.msg-form__send-button`,
			`button:has-text("Envoyer")`,
			`button[aria-label="Envoyer"]`,
			`button[type="submit"][aria-label*="Send"]`,
		},
		UnreadConversation: `.msg-conversations-container__convo-item--unread`,
		ThreadProfileLink:  `.msg-thread__profile-link`,
		MessageEvent:       `.msg-s-message-list__event`,
	}
}

// SelectorsFromConfig returns the defaults with any non-empty configured list
// replacing its built-in counterpart.
func SelectorsFromConfig(c config.Selectors) Selectors {
	s := DefaultSelectors()
	if len(c.LoggedIn) > 0 {
		s.LoggedIn = c.LoggedIn
	}
	if len(c.MessageButton) > 0 {
		s.MessageButton = c.MessageButton
	}
	if len(c.TextBox) > 0 {
		s.TextBox = c.TextBox
	}
	if len(c.SendButton) > 0 {
		s.SendButton = c.SendButton
	}
	return s
}
