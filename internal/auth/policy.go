package auth

import "github.com/spec-kit/support-desk/internal/domain"

// Operation names an action gated by Authorize.
type Operation string

const (
	OpCreateTicket   Operation = "ticket.create"
	OpViewTicket     Operation = "ticket.view"
	OpToggleTicket   Operation = "ticket.toggle"
	OpDeleteTicket   Operation = "ticket.delete"
	OpListAllTickets Operation = "ticket.list_all"
	OpAppendMessage  Operation = "message.append"
	OpStageUpload    Operation = "attachment.stage"
	OpManageRoster   Operation = "staff.manage"
)

// Resource describes the object an operation targets. OwnerID is empty for collections.
type Resource struct {
	OwnerID string
}

type rule func(actor domain.Actor, res Resource) bool

func anyActor(actor domain.Actor, _ Resource) bool { return actor.ID != "" }

func staffOnly(actor domain.Actor, _ Resource) bool { return actor.ID != "" && actor.IsStaff }

func ownerOrStaff(actor domain.Actor, res Resource) bool {
	if actor.ID == "" {
		return false
	}
	return actor.IsStaff || (res.OwnerID != "" && res.OwnerID == actor.ID)
}

var policy = map[Operation]rule{
	OpCreateTicket:   anyActor,
	OpStageUpload:    anyActor,
	OpViewTicket:     ownerOrStaff,
	OpToggleTicket:   ownerOrStaff,
	OpAppendMessage:  ownerOrStaff,
	OpDeleteTicket:   staffOnly,
	OpListAllTickets: staffOnly,
	OpManageRoster:   staffOnly,
}

// Authorize reports whether actor may perform op on res. Unknown operations are denied.
func Authorize(actor domain.Actor, op Operation, res Resource) bool {
	allow, ok := policy[op]
	if !ok {
		return false
	}
	return allow(actor, res)
}
