package ledger

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Op describes supported write intents.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Intent is a request from the presentation layer to mutate one entity.
// For deletes only the entity's key fields need to be set.
type Intent struct {
	ID     string
	Op     Op
	Entity Entity
	At     time.Time
}

// NewIntent builds an intent with a ULID for log correlation.
func NewIntent(op Op, e Entity) Intent {
	return Intent{
		ID:     ulid.Make().String(),
		Op:     op,
		Entity: e,
		At:     time.Now().UTC(),
	}
}

// Create, Update and Delete are shorthands for NewIntent.
func Create(e Entity) Intent { return NewIntent(OpCreate, e) }
func Update(e Entity) Intent { return NewIntent(OpUpdate, e) }
func Delete(e Entity) Intent { return NewIntent(OpDelete, e) }

// Validate rejects malformed intents before any I/O happens.
func (in Intent) Validate() error {
	if in.Entity == nil {
		return &ValidationError{Problems: []string{"intent has no entity"}}
	}
	c := in.Entity.Collection()
	switch in.Op {
	case OpCreate:
		return in.Entity.Validate()
	case OpUpdate:
		if err := requireKey(in.Entity); err != nil {
			return err
		}
		return in.Entity.Validate()
	case OpDelete:
		return requireKey(in.Entity)
	default:
		return &ValidationError{Collection: c, Problems: []string{"unknown op " + string(in.Op)}}
	}
}

func requireKey(e Entity) error {
	if k := e.Key(); k == "" || k == "0" {
		return &ValidationError{Collection: e.Collection(), Problems: []string{"key is required"}}
	}
	return nil
}
