package sim

// A Connection delivers messages between the receivers plugged into it.
type Connection interface {
	Named
	Hookable

	// PlugIn makes the receiver reachable through its name.
	PlugIn(r MsgReceiver)

	// Send delivers the message to the receiver named by msg.Meta().Dst.
	Send(msg Msg) error
}

// HookPosConnStartTrans marks a message being accepted by a connection.
var HookPosConnStartTrans = &HookPos{Name: "Conn Start Trans"}

// HookPosConnDeliver marks a message being delivered to its receiver.
var HookPosConnDeliver = &HookPos{Name: "Conn Deliver"}

// DeliverEvent is the event that hands a message to its destination.
type DeliverEvent struct {
	*EventBase
	Msg Msg
}

// NewDeliverEvent creates a new DeliverEvent.
func NewDeliverEvent(
	t VTimeInSec,
	handler Handler,
	msg Msg,
) *DeliverEvent {
	return &DeliverEvent{
		EventBase: NewEventBase(t, handler),
		Msg:       msg,
	}
}
