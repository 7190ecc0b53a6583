package allocation

import (
	"context"
	"time"

	"parking-admission/inventory"
)

type Vehicle struct {
	Plate string              `json:"plate"`
	Model string              `json:"model,omitempty"`
	Size  inventory.SizeClass `json:"size"`
}

// RequestContext is the facility state handed to remote advisers.
type RequestContext struct {
	Mode     Mode `json:"size_mode"`
	Total    int  `json:"total_slots"`
	Occupied int  `json:"occupied_slots"`
	Free     int  `json:"free_slots"`

	Timestamp time.Time `json:"timestamp"`
}

// Request is what a remote tier sees: only slots that are free and eligible
// at snapshot time.
type Request struct {
	Slots   []inventory.Slot `json:"slots"`
	Vehicle Vehicle          `json:"vehicle"`
	Context RequestContext   `json:"context"`
}

// Contains reports whether id is one of the offered candidates.
func (r Request) Contains(id int) bool {
	for _, s := range r.Slots {
		if s.ID == id {
			return true
		}
	}
	return false
}

type Result int

const (
	ResultOk Result = iota
	ResultFallthrough
	ResultFatal
)

func (r Result) String() string {
	switch r {
	case ResultOk:
		return "ok"
	case ResultFallthrough:
		return "fallthrough"
	case ResultFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Proposal is a tier's answer. Only one of SlotID, Reason or Err is meaningful,
// depending on Result.
type Proposal struct {
	Result Result
	SlotID int
	Reason string
	Err    error
}

func Ok(slotID int) Proposal { return Proposal{Result: ResultOk, SlotID: slotID} }

func Fallthrough(reason string) Proposal { return Proposal{Result: ResultFallthrough, Reason: reason} }

func Fatal(err error) Proposal { return Proposal{Result: ResultFatal, Err: err} }

// Tier is a remote slot adviser consulted before the local rule. Propose must
// honour ctx cancellation and never touch the inventory.
type Tier interface {
	Name() string
	Propose(ctx context.Context, req Request) Proposal
}
