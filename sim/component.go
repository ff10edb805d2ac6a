package sim

import (
	"log"
	"strings"
)

// A Named object is an object that has a name.
type Named interface {
	Name() string
}

// A Component is an element that is being simulated. It handles its own
// events and receives messages from connections.
type Component interface {
	Named
	Handler
	Hookable
	MsgReceiver
}

// ComponentBase provides some functions that other component can use.
type ComponentBase struct {
	HookableBase
	name string
}

// NewComponentBase creates a new ComponentBase.
func NewComponentBase(name string) *ComponentBase {
	NameMustBeValid(name)

	c := new(ComponentBase)
	c.name = name

	return c
}

// Name returns the name of the component.
func (c *ComponentBase) Name() string {
	return c.name
}

// NameMustBeValid panics if the name cannot identify a component. Names are
// dot-separated, and each element must be non-empty and must not contain
// white spaces.
func NameMustBeValid(name string) {
	if name == "" {
		log.Panic("name cannot be empty")
	}

	for _, token := range strings.Split(name, ".") {
		if token == "" {
			log.Panicf("name %q has an empty element", name)
		}

		if strings.ContainsAny(token, " \t\n") {
			log.Panicf("name %q must not contain white spaces", name)
		}
	}
}
