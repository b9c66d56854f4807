// Package events decodes raw receipt logs against a contract ABI into named
// events with typed arguments.
package events

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"
)

// Event is a decoded log entry.
type Event struct {
	Name string
	Args map[string]interface{}
	Log  *types.Log
}

// ExpectedEventNotFoundError signals that a receipt was missing an event the
// flow requires. This indicates an ABI mismatch or a contract bug and is not
// retryable.
type ExpectedEventNotFoundError struct {
	Event string
}

func (e *ExpectedEventNotFoundError) Error() string {
	return fmt.Sprintf("expected event %q not found in receipt logs", e.Event)
}

// ParseLogs decodes the logs it can match against the ABI and skips the rest.
// The result preserves receipt log order, since some flows distinguish events
// by position (e.g. a mint followed by a transfer in the same transaction).
func ParseLogs(contractABI abi.ABI, logs []*types.Log) []Event {
	parsed := make([]Event, 0, len(logs))
	for _, lg := range logs {
		if lg == nil || len(lg.Topics) == 0 {
			continue
		}
		ev, err := contractABI.EventByID(lg.Topics[0])
		if err != nil {
			continue
		}

		args := make(map[string]interface{})
		if len(lg.Data) > 0 {
			if err := contractABI.UnpackIntoMap(args, ev.Name, lg.Data); err != nil {
				continue
			}
		}

		var indexed abi.Arguments
		for _, input := range ev.Inputs {
			if input.Indexed {
				indexed = append(indexed, input)
			}
		}
		if len(indexed) > 0 {
			if err := abi.ParseTopicsIntoMap(args, indexed, lg.Topics[1:]); err != nil {
				continue
			}
		}

		parsed = append(parsed, Event{Name: ev.Name, Args: args, Log: lg})
	}
	return parsed
}

// FindEvent returns the first event with the given name, or nil.
func FindEvent(name string, evs []Event) *Event {
	for i := range evs {
		if evs[i].Name == name {
			return &evs[i]
		}
	}
	return nil
}

// AssertEvent returns the first event with the given name or an
// ExpectedEventNotFoundError.
func AssertEvent(name string, evs []Event) (Event, error) {
	if ev := FindEvent(name, evs); ev != nil {
		return *ev, nil
	}
	return Event{}, &ExpectedEventNotFoundError{Event: name}
}
