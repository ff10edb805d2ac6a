package sim

// A Msg is a piece of information that is transferred between components.
type Msg interface {
	Meta() *MsgMeta
}

// MsgMeta contains the meta data that is attached to every message.
type MsgMeta struct {
	ID           string
	Src, Dst     string
	SendTime     VTimeInSec
	RecvTime     VTimeInSec
	TrafficBytes int
}

// A MsgReceiver accepts messages delivered by a Connection.
type MsgReceiver interface {
	Named

	// Recv is called when a message arrives at the receiver.
	Recv(msg Msg)
}
