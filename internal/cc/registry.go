package cc

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// Registry holds all known command class definitions. It is filled once at
// start-up and only read afterwards.
type Registry struct {
	mu      sync.RWMutex
	classes map[uint8]*ClassDef
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		classes: make(map[uint8]*ClassDef),
		logger:  logger,
	}
}

// Register adds a command class definition to the registry.
func (r *Registry) Register(c ClassDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.classes[c.ID]; ok {
		existing.Merge(&c)
		r.logger.Debug("command class merged", "id", fmt.Sprintf("0x%02X", c.ID), "name", existing.Name)
	} else {
		clone := c.DeepCopy()
		r.classes[c.ID] = clone
		r.logger.Debug("command class registered", "id", fmt.Sprintf("0x%02X", c.ID), "name", c.Name,
			"version", c.ImplementedVersion)
	}
}

// Get returns a class definition by ID, or nil if not found.
// The returned value is a deep copy; callers may modify it safely.
func (r *Registry) Get(id uint8) *ClassDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := r.classes[id]
	if c == nil {
		return nil
	}
	return c.DeepCopy()
}

// All returns all registered class definitions ordered by ID.
// Each entry is a deep copy; callers may modify them safely.
func (r *Registry) All() []ClassDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]ClassDef, 0, len(r.classes))
	for _, c := range r.classes {
		result = append(result, *c.DeepCopy())
	}
	slices.SortFunc(result, func(a, b ClassDef) int { return int(a.ID) - int(b.ID) })
	return result
}

func (r *Registry) lookup(classID, cmdID uint8) (*ClassDef, *CommandDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	class := r.classes[classID]
	if class == nil {
		return nil, nil, &DecodeError{Kind: KindUnsupportedCommand, ClassID: classID, CommandID: cmdID}
	}
	cmd := class.FindCommand(cmdID)
	if cmd == nil {
		return nil, nil, &DecodeError{Kind: KindUnsupportedCommand, ClassID: classID, CommandID: cmdID}
	}
	return class, cmd, nil
}

// Lookup returns the class and command definitions for a command, or an
// UnsupportedCommand DecodeError.
func (r *Registry) Lookup(classID, cmdID uint8) (*ClassDef, *CommandDef, error) {
	class, cmd, err := r.lookup(classID, cmdID)
	if err != nil {
		return nil, nil, err
	}
	cp := *cmd
	return class.DeepCopy(), &cp, nil
}

// ExpectedResponse returns the command a device answers cmdID with, if any.
func (r *Registry) ExpectedResponse(classID, cmdID uint8) (uint8, bool) {
	_, cmd, err := r.lookup(classID, cmdID)
	if err != nil || cmd.ExpectedResponse == nil {
		return 0, false
	}
	return *cmd.ExpectedResponse, true
}

// ClampVersion clamps a negotiated version for a class; unknown classes
// get the version back unchanged (but at least 1).
func (r *Registry) ClampVersion(classID, version uint8) uint8 {
	r.mu.RLock()
	class := r.classes[classID]
	r.mu.RUnlock()
	if class == nil {
		return max(version, 1)
	}
	return class.ClampVersion(version)
}

// Decode dispatches an inbound payload to its command definition. The
// payload is copied, so the returned command never aliases caller memory.
func (r *Registry) Decode(classID, cmdID uint8, payload []byte, version uint8) (Command, error) {
	class, def, err := r.lookup(classID, cmdID)
	if err != nil {
		return nil, err
	}
	if def.Decode == nil {
		return nil, &DecodeError{Kind: KindDeserializationNotImplemented, ClassID: classID, CommandID: cmdID}
	}
	cmd, err := def.Decode(bytes.Clone(payload), class.ClampVersion(version))
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			de.ClassID, de.CommandID = classID, cmdID
		}
		return nil, err
	}
	return cmd, nil
}

// Encode serializes cmd at the given negotiated version.
func (r *Registry) Encode(cmd Command, version uint8) ([]byte, error) {
	classID, cmdID := cmd.ClassID(), cmd.CommandID()
	class, def, err := r.lookup(classID, cmdID)
	if err != nil {
		return nil, err
	}
	v := class.ClampVersion(version)
	if def.Encode == nil {
		return nil, &EncodeError{ClassID: classID, CommandID: cmdID, Version: v, Reason: "command has no encoder"}
	}
	payload, err := def.Encode(cmd, v)
	if err != nil {
		var ee *EncodeError
		if errors.As(err, &ee) {
			return nil, err
		}
		if errors.Is(err, ErrEncodeContract) {
			return nil, &EncodeError{ClassID: classID, CommandID: cmdID, Version: v, Reason: strings.TrimPrefix(err.Error(), ErrEncodeContract.Error()+": ")}
		}
		return nil, err
	}
	return payload, nil
}
