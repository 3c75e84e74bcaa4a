package chat

// View is the UI surface driven by the Controller. Implementations
// must not block in these methods; they are invoked from subscription
// callbacks interleaved with user input.
type View interface {
	// SetRoomName sets the room label once the chat is initialized.
	SetRoomName(name string)
	// AppendMessage renders one incoming message at the end of the
	// list. Messages arrive in server-timestamp order and are never
	// re-ordered after display.
	AppendMessage(msg Message)
	// SetOnlineCount updates the presence counter.
	SetOnlineCount(count int)
	// SetTheme applies the light/dark side styling.
	SetTheme(theme Theme)
	// SetSending disables the input control while a send is in flight
	// and re-enables it on completion or failure.
	SetSending(sending bool)
	// Notify surfaces a transient, non-fatal notice to the user.
	Notify(text string)
	// NavigateLogin routes to the login view. Terminal for this page
	// instance.
	NavigateLogin()
}
