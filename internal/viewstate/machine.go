// Package viewstate tracks which screen a board client shows and which moves between
// screens are allowed.
package viewstate

import (
	"errors"
	"fmt"
)

var (
	ErrLoginRequired     = errors.New("login required")
	ErrInvalidTransition = errors.New("invalid transition")
)

type Kind int

const (
	List Kind = iota
	ComposeNew
	ComposeEdit
	Detail
)

func (k Kind) String() string {
	switch k {
	case List:
		return "list"
	case ComposeNew:
		return "compose-new"
	case ComposeEdit:
		return "compose-edit"
	case Detail:
		return "detail"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// State is a screen. PostID is set for ComposeEdit and Detail only.
type State struct {
	Kind   Kind
	PostID string
}

func (s State) String() string {
	if s.PostID == "" {
		return s.Kind.String()
	}
	return fmt.Sprintf("%s(%s)", s.Kind, s.PostID)
}

// Machine is owned by a single client session and is not safe for concurrent use.
type Machine struct {
	current State
}

func NewMachine() *Machine {
	return &Machine{current: State{Kind: List}}
}

func (m *Machine) Current() State {
	return m.current
}

func (m *Machine) invalid(action string) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, action, m.current)
}

// ComposeNew opens the empty form. Anonymous users get ErrLoginRequired and should be sent to login.
func (m *Machine) ComposeNew(authenticated bool) error {
	if m.current.Kind != List {
		return m.invalid("compose new")
	}
	if !authenticated {
		return ErrLoginRequired
	}
	m.current = State{Kind: ComposeNew}
	return nil
}

func (m *Machine) Open(postID string) error {
	if m.current.Kind != List {
		return m.invalid("open")
	}
	if postID == "" {
		return fmt.Errorf("%w: open without post id", ErrInvalidTransition)
	}
	m.current = State{Kind: Detail, PostID: postID}
	return nil
}

// Edit moves from a post detail to its edit form, for the author only.
func (m *Machine) Edit(canEdit bool) error {
	if m.current.Kind != Detail {
		return m.invalid("edit")
	}
	if !canEdit {
		return m.invalid("edit without ownership")
	}
	m.current = State{Kind: ComposeEdit, PostID: m.current.PostID}
	return nil
}

// Cancel leaves a compose form without submitting.
func (m *Machine) Cancel() error {
	return m.leaveCompose("cancel")
}

// Submitted leaves a compose form after a successful submit.
func (m *Machine) Submitted() error {
	return m.leaveCompose("submit")
}

func (m *Machine) leaveCompose(action string) error {
	if m.current.Kind != ComposeNew && m.current.Kind != ComposeEdit {
		return m.invalid(action)
	}
	m.current = State{Kind: List}
	return nil
}

// Back returns from a post detail to the list.
func (m *Machine) Back() error {
	return m.leaveDetail("back")
}

// Deleted returns to the list once the shown post is deleted.
func (m *Machine) Deleted() error {
	return m.leaveDetail("delete")
}

func (m *Machine) leaveDetail(action string) error {
	if m.current.Kind != Detail {
		return m.invalid(action)
	}
	m.current = State{Kind: List}
	return nil
}
