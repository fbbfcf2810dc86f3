package esl

import "context"

// Api issues a synchronous "api <cmd> <args>" command and returns the
// server's api/response packet.
func (e *Engine) Api(ctx context.Context, cmd, args string) (*Packet, error) {
	return e.send(ctx, encodeAPI(cmd, args))
}

// Event subscribes the connection itself to the named event classes
// server-side ("event plain <names...>"). format is typically "plain",
// "xml", or "json".
func (e *Engine) Event(ctx context.Context, format string, names ...string) (*Packet, error) {
	return e.send(ctx, encodeEvent(format, names))
}

// MyEvents scopes event delivery to a single channel UUID.
func (e *Engine) MyEvents(ctx context.Context, format, uuid string) (*Packet, error) {
	return e.send(ctx, encodeMyevents(format, uuid))
}

// DivertEvents toggles whether events matched by MyEvents are diverted
// to this connection instead of the default dialplan handling.
func (e *Engine) DivertEvents(ctx context.Context, on bool) (*Packet, error) {
	return e.send(ctx, encodeDivertEvents(on))
}

// Filter adds a server-side event filter on header key/value.
func (e *Engine) Filter(ctx context.Context, key, value string) (*Packet, error) {
	return e.send(ctx, encodeFilter(key, value))
}

// FilterDelete removes a previously added filter.
func (e *Engine) FilterDelete(ctx context.Context, key, value string) (*Packet, error) {
	return e.send(ctx, encodeFilterDelete(key, value))
}

// SendEvent fires a custom event into FreeSWITCH's event system.
func (e *Engine) SendEvent(ctx context.Context, name string, headers map[string]string, body []byte) (*Packet, error) {
	return e.send(ctx, encodeSendevent(name, headers, body))
}

// SendMsg delivers an application message to a channel by UUID.
func (e *Engine) SendMsg(ctx context.Context, uuid string, headers map[string]string, body []byte) (*Packet, error) {
	return e.send(ctx, encodeSendmsg(uuid, headers, body))
}

// Log sets the server's log level for events delivered on this
// connection.
func (e *Engine) Log(ctx context.Context, level string) (*Packet, error) {
	return e.send(ctx, encodeLog(level))
}

// NoLog disables log event delivery on this connection.
func (e *Engine) NoLog(ctx context.Context) (*Packet, error) {
	return e.send(ctx, encodeNolog())
}

// Nixevent removes one or more event classes from this connection's
// subscription.
func (e *Engine) Nixevent(ctx context.Context, names ...string) (*Packet, error) {
	return e.send(ctx, encodeNixevent(names))
}

// Noevents cancels all event subscriptions on this connection.
func (e *Engine) Noevents(ctx context.Context) (*Packet, error) {
	return e.send(ctx, encodeNoevents())
}

// Linger tells the server to keep delivering events for a disconnected
// channel for up to seconds (0 uses the server default).
func (e *Engine) Linger(ctx context.Context, seconds int) (*Packet, error) {
	return e.send(ctx, encodeLinger(seconds))
}

// Nolinger disables lingering.
func (e *Engine) Nolinger(ctx context.Context) (*Packet, error) {
	return e.send(ctx, encodeNolinger())
}

// Exit requests a graceful disconnect from the server.
func (e *Engine) Exit(ctx context.Context) (*Packet, error) {
	return e.send(ctx, encodeExit())
}
