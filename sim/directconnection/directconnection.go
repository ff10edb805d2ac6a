// Package directconnection provides a connection that delivers every message
// after a fixed number of cycles.
package directconnection

import (
	"fmt"

	"github.com/sarchlab/coherence/sim"
)

// Comp is a DirectConnection. It has unlimited bandwidth, and messages sent
// between the same pair of receivers arrive in the order they were sent.
type Comp struct {
	sim.HookableBase

	name      string
	engine    sim.Engine
	freq      sim.Freq
	latency   int
	receivers map[string]sim.MsgReceiver
}

// Name returns the name of the connection.
func (c *Comp) Name() string {
	return c.name
}

// PlugIn registers the receiver under its name.
func (c *Comp) PlugIn(r sim.MsgReceiver) {
	if _, found := c.receivers[r.Name()]; found {
		panic(fmt.Sprintf("receiver %s plugged in twice", r.Name()))
	}

	c.receivers[r.Name()] = r
}

// Send schedules the delivery of the message.
func (c *Comp) Send(msg sim.Msg) error {
	meta := msg.Meta()
	if _, found := c.receivers[meta.Dst]; !found {
		return fmt.Errorf("%s: unknown destination %q", c.name, meta.Dst)
	}

	now := c.engine.CurrentTime()
	meta.SendTime = now

	c.InvokeHook(sim.HookCtx{
		Domain: c,
		Pos:    sim.HookPosConnStartTrans,
		Item:   msg,
	})

	deliverTime := now
	if c.latency > 0 {
		deliverTime = c.freq.NCyclesLater(c.latency, now)
	}

	c.engine.Schedule(sim.NewDeliverEvent(deliverTime, c, msg))

	return nil
}

// Handle delivers the message carried by a DeliverEvent.
func (c *Comp) Handle(e sim.Event) error {
	evt, ok := e.(*sim.DeliverEvent)
	if !ok {
		return fmt.Errorf("%s cannot handle event of type %T", c.name, e)
	}

	meta := evt.Msg.Meta()
	meta.RecvTime = evt.Time()

	c.InvokeHook(sim.HookCtx{
		Domain: c,
		Pos:    sim.HookPosConnDeliver,
		Item:   evt.Msg,
	})

	c.receivers[meta.Dst].Recv(evt.Msg)

	return nil
}
