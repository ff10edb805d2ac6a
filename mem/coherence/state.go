package coherence

import "fmt"

// State is the coherence state of a line.
type State int

// Stable states come first. Transient states name the state the line left
// and the event it is waiting for.
const (
	I State = iota
	S
	E
	M

	IS
	IM
	SM

	SI
	EI
	MI

	SInv
	EInv
	MInv
	SMInv
	EInvX
	MInvX

	SD
	ED
	MD
	SMD

	numStates
)

var stateNames = [...]string{
	I:     "I",
	S:     "S",
	E:     "E",
	M:     "M",
	IS:    "IS",
	IM:    "IM",
	SM:    "SM",
	SI:    "SI",
	EI:    "EI",
	MI:    "MI",
	SInv:  "S_Inv",
	EInv:  "E_Inv",
	MInv:  "M_Inv",
	SMInv: "SM_Inv",
	EInvX: "E_InvX",
	MInvX: "M_InvX",
	SD:    "S_D",
	ED:    "E_D",
	MD:    "M_D",
	SMD:   "SM_D",
}

func (s State) String() string {
	if s < 0 || s >= numStates {
		return fmt.Sprintf("State(%d)", int(s))
	}

	return stateNames[s]
}

// IsStable returns true for I, S, E, and M.
func (s State) IsStable() bool {
	return s <= M
}

// InTransition returns true for every state outside I, S, E, and M.
func (s State) InTransition() bool {
	return !s.IsStable()
}

// IsExclusive returns true if the level owns the line, in a stable or in an
// invalidating state.
func (s State) IsExclusive() bool {
	switch s {
	case E, M, EI, MI, EInv, MInv, EInvX, MInvX, ED, MD:
		return true
	}

	return false
}

// IsDirty returns true if the line holds data newer than the level below.
func (s State) IsDirty() bool {
	switch s {
	case M, MI, MInv, MInvX, MD:
		return true
	}

	return false
}

// Dirtied returns the state the line moves to when it receives modified
// data while in s.
func (s State) Dirtied() State {
	switch s {
	case E:
		return M
	case EI:
		return MI
	case EInv:
		return MInv
	case EInvX:
		return MInvX
	case ED:
		return MD
	}

	return s
}
