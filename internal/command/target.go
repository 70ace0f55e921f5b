// Package command carries tracking commands from the ground station to the
// drone. A command is one UTF-8 datagram: a target descriptor, or StopCommand
// to clear the current target. Delivery is fire-and-forget.
package command

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// StopCommand clears the tracked target
const StopCommand = "STOP"

// ErrCommandDecode means a command datagram was not valid UTF-8
var ErrCommandDecode = errors.New("command is not valid UTF-8")

// Command kinds reported by Apply
const (
	KindTarget = "target"
	KindStop   = "stop"
	KindEmpty  = "empty"
)

// TargetState holds the current target descriptor, or nothing. It is written
// by the command listener and read by the frame loop and gimbal controller.
type TargetState struct {
	mu     sync.RWMutex
	target string
	set    bool
}

// NewTargetState creates an empty target cell
func NewTargetState() *TargetState {
	return &TargetState{}
}

// Get returns the current target and whether one is set
func (s *TargetState) Get() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.target, s.set
}

// Set designates target, replacing any previous one
func (s *TargetState) Set(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = target
	s.set = true
}

// Clear removes the current target
func (s *TargetState) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = ""
	s.set = false
}

// Apply decodes one command payload and updates s. It returns the kind of
// command applied. Payloads that are empty after trimming are ignored.
func (s *TargetState) Apply(payload []byte) (string, error) {
	if !utf8.Valid(payload) {
		return "", ErrCommandDecode
	}

	descriptor := strings.TrimSpace(string(payload))
	switch descriptor {
	case "":
		return KindEmpty, nil
	case StopCommand:
		s.Clear()
		return KindStop, nil
	default:
		s.Set(descriptor)
		return KindTarget, nil
	}
}
