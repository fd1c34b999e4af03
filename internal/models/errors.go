package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition      = errors.New("invalid deal status transition")
	ErrConcurrentModification = errors.New("deal was modified concurrently")
	ErrNotFound               = errors.New("not found")
	ErrExternalUnavailable    = errors.New("external platform unavailable")
	ErrInvalidAmount          = errors.New("invalid escrow amount")
	ErrInvalidDeal            = errors.New("invalid deal parameters")
)

type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
