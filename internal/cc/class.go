package cc

// DecodeFunc builds a command from a raw payload at an already clamped version.
type DecodeFunc func(payload []byte, version uint8) (Command, error)

// EncodeFunc serializes a command at an already clamped version.
type EncodeFunc func(cmd Command, version uint8) ([]byte, error)

// CommandDef defines one command of a command class.
type CommandDef struct {
	ID   uint8  `json:"id"`
	Name string `json:"name"`

	// Decode is nil for request-only commands.
	Decode DecodeFunc `json:"-"`
	// Encode is nil for commands the host never sends.
	Encode EncodeFunc `json:"-"`

	// ExpectedResponse names the command a device answers this one with.
	// The transport owns the matching; the registry only records the link.
	ExpectedResponse *uint8 `json:"expected_response,omitempty"`
}

// CanDecode returns true if inbound payloads of this command can be decoded.
func (c *CommandDef) CanDecode() bool {
	return c.Decode != nil
}

// CanEncode returns true if the command can be serialized.
func (c *CommandDef) CanEncode() bool {
	return c.Encode != nil
}

// Expects returns a pointer suitable for CommandDef.ExpectedResponse.
func Expects(id uint8) *uint8 {
	return &id
}

// ClassDef defines a command class with its commands.
type ClassDef struct {
	ID                 uint8        `json:"id"`
	Name               string       `json:"name"`
	ImplementedVersion uint8        `json:"implemented_version"`
	Commands           []CommandDef `json:"commands,omitempty"`
}

// FindCommand looks up a command by ID.
func (c *ClassDef) FindCommand(id uint8) *CommandDef {
	for i := range c.Commands {
		if c.Commands[i].ID == id {
			return &c.Commands[i]
		}
	}
	return nil
}

// ClampVersion maps a negotiated version onto the layouts this class
// implements: 0 becomes 1, anything above the ceiling becomes the ceiling.
func (c *ClassDef) ClampVersion(v uint8) uint8 {
	if v < 1 {
		v = 1
	}
	if c.ImplementedVersion > 0 && v > c.ImplementedVersion {
		v = c.ImplementedVersion
	}
	return v
}

// DeepCopy returns a deep copy of the class definition.
func (c *ClassDef) DeepCopy() *ClassDef {
	cp := *c
	if c.Commands != nil {
		cp.Commands = make([]CommandDef, len(c.Commands))
		copy(cp.Commands, c.Commands)
	}
	return &cp
}

// Merge adds commands from another definition that are not defined yet and
// raises the implemented version if the other one is higher.
func (c *ClassDef) Merge(other *ClassDef) {
	for _, cmd := range other.Commands {
		if c.FindCommand(cmd.ID) == nil {
			c.Commands = append(c.Commands, cmd)
		}
	}
	if other.ImplementedVersion > c.ImplementedVersion {
		c.ImplementedVersion = other.ImplementedVersion
	}
}
