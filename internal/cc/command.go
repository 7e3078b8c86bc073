package cc

// Command is one command of a command class, either decoded from an inbound
// payload or built by the caller for encoding. The set of implementations is
// closed: every command embeds Header.
type Command interface {
	ClassID() uint8
	CommandID() uint8
	Version() uint8
	command()
}

// Header identifies a command and the version it was decoded or built for.
type Header struct {
	Class      uint8 `json:"class_id"`
	Cmd        uint8 `json:"command_id"`
	Negotiated uint8 `json:"version"`
}

// NewHeader returns a header for the given command at version v.
func NewHeader(class, cmd, v uint8) Header {
	return Header{Class: class, Cmd: cmd, Negotiated: v}
}

func (h Header) ClassID() uint8 { return h.Class }

func (h Header) CommandID() uint8 { return h.Cmd }

func (h Header) Version() uint8 { return h.Negotiated }

func (Header) command() {}

// Visibility controls whether a decoded field may be surfaced to external
// readers of the value cache.
type Visibility uint8

const (
	Public Visibility = iota
	Internal
)

func (v Visibility) String() string {
	if v == Internal {
		return "internal"
	}
	return "public"
}

// Value is one named field produced by a decoded command.
type Value struct {
	Property    string     `json:"property"`
	PropertyKey string     `json:"property_key,omitempty"`
	Value       any        `json:"value"`
	Visibility  Visibility `json:"-"`
}

// Valuer is implemented by commands that carry field values worth caching.
type Valuer interface {
	Values() []Value
}
