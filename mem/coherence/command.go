package coherence

import "fmt"

// Command is the operation carried by a MemEvent.
type Command int

// Commands exchanged between the levels of the hierarchy.
const (
	CmdNone Command = iota
	GetS
	GetX
	GetSEx
	PutS
	PutE
	PutM
	Inv
	FetchInv
	FetchInvX
	Fetch
	GetSResp
	GetXResp
	FetchResp
	FetchXResp
	AckInv
	AckPut
	NACK
	numCommands
)

var commandNames = [...]string{
	CmdNone:    "None",
	GetS:       "GetS",
	GetX:       "GetX",
	GetSEx:     "GetSEx",
	PutS:       "PutS",
	PutE:       "PutE",
	PutM:       "PutM",
	Inv:        "Inv",
	FetchInv:   "FetchInv",
	FetchInvX:  "FetchInvX",
	Fetch:      "Fetch",
	GetSResp:   "GetSResp",
	GetXResp:   "GetXResp",
	FetchResp:  "FetchResp",
	FetchXResp: "FetchXResp",
	AckInv:     "AckInv",
	AckPut:     "AckPut",
	NACK:       "NACK",
}

func (c Command) String() string {
	if c < 0 || c >= numCommands {
		return fmt.Sprintf("Command(%d)", int(c))
	}

	return commandNames[c]
}

// ParseCommand converts a command name back to a Command.
func ParseCommand(name string) (Command, error) {
	for i, n := range commandNames {
		if n == name {
			return Command(i), nil
		}
	}

	return CmdNone, fmt.Errorf("unknown command %q", name)
}

// IsRequest returns true for the commands that ask for data or permission.
func (c Command) IsRequest() bool {
	return c == GetS || c == GetX || c == GetSEx
}

// IsReplacement returns true for writebacks sent by an upper level.
func (c Command) IsReplacement() bool {
	return c == PutS || c == PutE || c == PutM
}

// IsInvalidation returns true for the commands a lower level sends to take
// data or permission back.
func (c Command) IsInvalidation() bool {
	return c == Inv || c == FetchInv || c == FetchInvX || c == Fetch
}

// IsResponse returns true for responses and acknowledgements.
func (c Command) IsResponse() bool {
	switch c {
	case GetSResp, GetXResp, FetchResp, FetchXResp, AckInv, AckPut:
		return true
	}

	return false
}

// IsWrite returns true if the request needs write permission.
func (c Command) IsWrite() bool {
	return c == GetX || c == GetSEx
}

// ResponseCommand returns the command that answers c.
func (c Command) ResponseCommand() Command {
	switch c {
	case GetS:
		return GetSResp
	case GetX, GetSEx:
		return GetXResp
	case FetchInv, Fetch:
		return FetchResp
	case FetchInvX:
		return FetchXResp
	case Inv:
		return AckInv
	case PutS, PutE, PutM:
		return AckPut
	}

	return CmdNone
}
