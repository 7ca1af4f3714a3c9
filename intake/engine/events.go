package engine

// Event is an input to the state machine.
type Event interface {
	Name() string
}

// StartFlow starts the flow registered under a menu key.
type StartFlow struct {
	Key string
}

// Text is a free text message from the user.
type Text struct {
	Raw string
}

// Back returns to the previous question.
type Back struct{}

// Cancel abandons the active flow or operator chat.
type Cancel struct{}

// Confirm accepts the summary and submits it.
type Confirm struct{}

// Reject declines the summary.
type Reject struct{}

// Timeout is the synthetic event fed by the idle sweep. Generation is the
// session generation observed when the sweep selected the session.
type Timeout struct {
	Generation uint64
}

// OperatorChat switches the user to free chat with the operator.
type OperatorChat struct{}

// Menu returns to the main menu from any state.
type Menu struct{}

// OpenPage shows a static page such as contacts.
type OpenPage struct {
	Page string
}

func (StartFlow) Name() string    { return "start_flow" }
func (Text) Name() string         { return "text" }
func (Back) Name() string         { return "back" }
func (Cancel) Name() string       { return "cancel" }
func (Confirm) Name() string      { return "confirm" }
func (Reject) Name() string       { return "reject" }
func (Timeout) Name() string      { return "timeout" }
func (OperatorChat) Name() string { return "operator_chat" }
func (Menu) Name() string         { return "menu" }
func (OpenPage) Name() string     { return "open_page" }
