package messaging

import "errors"

// Kind classifies a failed send or check.
type Kind string

const (
	KindSessionMissing        Kind = "session_missing"
	KindSessionExpired        Kind = "session_expired"
	KindNavigationTimeout     Kind = "navigation_timeout"
	KindMessageButtonNotFound Kind = "message_button_not_found"
	KindComposerNotFound      Kind = "composer_not_found"
	KindSendButtonNotFound    Kind = "send_button_not_found"
	KindAutomation            Kind = "automation_error"
	KindDailyLimit            Kind = "daily_limit_reached"
	KindHourlyLimit           Kind = "hourly_limit_reached"
	KindOutsideHours          Kind = "outside_business_hours"
)

// Error is a classified automation failure. Msg is the user-facing text
// returned to callers.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrSessionExpired)
// holds whatever the cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrSessionMissing        = &Error{Kind: KindSessionMissing, Msg: "session LinkedIn non configurée, lancez d'abord la commande login puis envoyez le fichier de session"}
	ErrSessionExpired        = &Error{Kind: KindSessionExpired, Msg: "session LinkedIn expirée ou invalide"}
	ErrNavigationTimeout     = &Error{Kind: KindNavigationTimeout, Msg: "délai de navigation dépassé"}
	ErrMessageButtonNotFound = &Error{Kind: KindMessageButtonNotFound, Msg: "bouton Message introuvable sur le profil, vérifiez que vous êtes connectés"}
	ErrComposerNotFound      = &Error{Kind: KindComposerNotFound, Msg: "zone de texte message introuvable"}
	ErrSendButtonNotFound    = &Error{Kind: KindSendButtonNotFound, Msg: "bouton Envoyer introuvable"}
	ErrAutomation            = &Error{Kind: KindAutomation, Msg: "erreur d'automatisation"}
	ErrDailyLimit            = &Error{Kind: KindDailyLimit, Msg: "limite quotidienne de messages atteinte"}
	ErrHourlyLimit           = &Error{Kind: KindHourlyLimit, Msg: "limite horaire de messages atteinte"}
	ErrOutsideHours          = &Error{Kind: KindOutsideHours, Msg: "envoi refusé en dehors des heures d'activité"}
)

// IsRefusal reports whether err keeps a send from starting at all, as opposed
// to a failed run.
func IsRefusal(err error) bool {
	switch KindOf(err) {
	case KindDailyLimit, KindHourlyLimit, KindOutsideHours:
		return true
	}
	return false
}

// Wrap returns a copy of sentinel carrying cause.
func Wrap(sentinel *Error, cause error) *Error {
	return &Error{Kind: sentinel.Kind, Msg: sentinel.Msg, Err: cause}
}

// KindOf classifies err. Unclassified errors are automation errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindAutomation
}
