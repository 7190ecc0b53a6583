package admission

import (
	"parking-admission/inventory"
	"parking-admission/ledger"
)

// Status is the terminal state of one admission attempt.
type Status string

const (
	StatusNoPlate  Status = "no_plate"
	StatusRejected Status = "rejected"
	StatusNoSlot   Status = "no_slot"
	StatusEntered  Status = "entered"
	StatusError    Status = "error"
)

const DefaultSource = "gate_camera"

// Detection is what the recognition pipeline reports for a vehicle.
type Detection struct {
	Plate      string  `json:"plate"`
	Model      string  `json:"model,omitempty"`
	Size       string  `json:"size,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Source     string  `json:"source,omitempty"`
}

// Context accumulates facts as the workflow advances. Steps receive it by
// value and return an updated copy.
type Context struct {
	Plate  string
	Model  string
	Size   inventory.SizeClass
	Source string

	Booking      *ledger.Booking
	SecurityNote string

	Price    float64
	HasPrice bool

	SlotID  int
	HasSlot bool
	EntryID string
	// restoreTo is the slot status to compensate back to if persistence fails.
	restoreTo inventory.Status
}

type Outcome struct {
	Status   Status              `json:"status"`
	Plate    string              `json:"plate,omitempty"`
	Model    string              `json:"model,omitempty"`
	Size     inventory.SizeClass `json:"size,omitempty"`
	SlotID   *int                `json:"slot_id,omitempty"`
	Price    *float64            `json:"price,omitempty"`
	Security string              `json:"security,omitempty"`
	Message  string              `json:"message,omitempty"`
	EntryID  string              `json:"entry_id,omitempty"`
}

func (c Context) outcome(status Status, msg string) *Outcome {
	o := &Outcome{
		Status:   status,
		Plate:    c.Plate,
		Model:    c.Model,
		Size:     c.Size,
		Security: c.SecurityNote,
		Message:  msg,
		EntryID:  c.EntryID,
	}
	if c.HasPrice {
		p := c.Price
		o.Price = &p
	}
	if c.HasSlot {
		id := c.SlotID
		o.SlotID = &id
	}
	return o
}
