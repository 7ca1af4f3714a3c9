package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/kompomir/servicebot/intake/field"
	"github.com/kompomir/servicebot/intake/flow"
)

// Controls selects the inline keyboard attached to a reply.
type Controls int

const (
	// ControlsNone attaches no keyboard.
	ControlsNone Controls = iota
	// ControlsCancelOnly offers a cancel button.
	ControlsCancelOnly
	// ControlsBackCancel offers back and cancel buttons.
	ControlsBackCancel
	// ControlsConfirmCancel offers confirm and cancel buttons.
	ControlsConfirmCancel
	// ControlsMenu shows the main menu.
	ControlsMenu
	// ControlsBackToMenu offers a single back-to-menu button.
	ControlsBackToMenu
)

func (c Controls) String() string {
	switch c {
	case ControlsNone:
		return "none"
	case ControlsCancelOnly:
		return "cancel"
	case ControlsBackCancel:
		return "back_cancel"
	case ControlsConfirmCancel:
		return "confirm_cancel"
	case ControlsMenu:
		return "menu"
	case ControlsBackToMenu:
		return "back_to_menu"
	default:
		return "unknown"
	}
}

// Action is an effect requested by a transition. Actions run in order.
type Action interface {
	Name() string
}

// Reply is an action delivered to the user.
type Reply interface {
	Action
	Render() (text string, controls Controls)
}

// Prompt asks the pending question.
type Prompt struct {
	Text     string
	Controls Controls
}

// RejectInput explains why an answer was not accepted.
type RejectInput struct {
	Text   string
	Reason field.Reason
}

// Summary shows the collected answers for confirmation.
type Summary struct {
	Text string
}

// Notify is a plain status message.
type Notify struct {
	Text string
}

// ShowMenu shows the main menu.
type ShowMenu struct {
	Text string
}

// ShowPage shows a static page with a back-to-menu button.
type ShowPage struct {
	Page string
	Text string
}

// Submit delivers a confirmed submission to the operator.
type Submit struct {
	Submission Submission
}

// Forward relays a free chat message to the operator.
type Forward struct {
	Text string
}

func (Prompt) Name() string      { return "prompt" }
func (RejectInput) Name() string { return "reject" }
func (Summary) Name() string     { return "summary" }
func (Notify) Name() string      { return "notify" }
func (ShowMenu) Name() string    { return "menu" }
func (ShowPage) Name() string    { return "page" }
func (Submit) Name() string      { return "submit" }
func (Forward) Name() string     { return "forward" }

func (a Prompt) Render() (string, Controls)      { return a.Text, a.Controls }
func (a RejectInput) Render() (string, Controls) { return a.Text, ControlsNone }
func (a Summary) Render() (string, Controls)     { return a.Text, ControlsConfirmCancel }
func (a Notify) Render() (string, Controls)      { return a.Text, ControlsNone }
func (a ShowMenu) Render() (string, Controls)    { return a.Text, ControlsMenu }
func (a ShowPage) Render() (string, Controls)    { return a.Text, ControlsBackToMenu }

// Submission is a confirmed request ready for the operator.
type Submission struct {
	ID        uuid.UUID
	UserID    int64
	Flow      flow.ID
	Variant   string
	Title     string
	Fields    []flow.Field
	Summary   string
	CreatedAt time.Time
}

// Tag is the hashtag operators filter submissions by.
func (s Submission) Tag() string {
	if s.Variant != "" {
		return "#" + s.Variant
	}
	return "#" + string(s.Flow)
}
