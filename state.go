package ftpsession

// State is the connection state of a Session.
type State int

const (
	// Disconnected is both the initial state and the terminal one.
	Disconnected State = iota
	Connecting
	Connected
	Authenticating
	Authenticated
	// Busy means a command or transfer is outstanding.
	Busy
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Busy:
		return "busy"
	}
	return "unknown"
}

// TransferMode selects who opens the data connection.
type TransferMode int

const (
	// Passive mode: the server offers a port and the client connects (PASV/EPSV).
	Passive TransferMode = iota
	// Active mode: the client listens and the server connects (PORT/EPRT).
	Active
)

func (m TransferMode) String() string {
	if m == Active {
		return "active"
	}
	return "passive"
}

// DataType is the representation type used for file transfers.
type DataType int

const (
	// Binary transfers bytes unchanged (TYPE I).
	Binary DataType = iota
	// ASCII translates line endings to and from CRLF (TYPE A).
	ASCII
)

func (t DataType) String() string {
	if t == ASCII {
		return "ascii"
	}
	return "binary"
}

// typeCode returns the TYPE command argument.
func (t DataType) typeCode() string {
	if t == ASCII {
		return "A"
	}
	return "I"
}
