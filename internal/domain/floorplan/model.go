package floorplan

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Placement positions one resource on the clinic floor. Rotation is in
// degrees around the placement's center.
type Placement struct {
	ResourceID uuid.UUID `json:"resource_id"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	W          float64   `json:"w"`
	H          float64   `json:"h"`
	Rotation   float64   `json:"rotation"`
}

// Layout is a clinic's floor plan. Version increments on every accepted
// edit; edits carry the version they were based on and lose to whoever
// saved first.
type Layout struct {
	ClinicID  uuid.UUID   `json:"clinic_id"`
	Items     []Placement `json:"items"`
	Version   int64       `json:"version"`
	UpdatedAt time.Time   `json:"updated_at"`
	UpdatedBy string      `json:"updated_by,omitempty"`
}

func (l *Layout) find(resourceID uuid.UUID) (int, bool) {
	for i, p := range l.Items {
		if p.ResourceID == resourceID {
			return i, true
		}
	}
	return -1, false
}

// clone returns a deep copy so apply never mutates the stored layout.
func (l *Layout) clone() *Layout {
	cp := *l
	cp.Items = make([]Placement, len(l.Items))
	copy(cp.Items, l.Items)
	return &cp
}

// OpKind discriminates the edit operation union.
type OpKind string

const (
	OpMove   OpKind = "MOVE"
	OpRotate OpKind = "ROTATE"
	OpPlace  OpKind = "PLACE"
	OpRemove OpKind = "REMOVE"
)

// Operation is one floor plan edit. Which fields are meaningful depends on
// Kind: MOVE uses X/Y, ROTATE uses Rotation, PLACE uses the full placement,
// REMOVE only the resource id.
type Operation struct {
	Kind       OpKind    `json:"kind"`
	ResourceID uuid.UUID `json:"resource_id"`
	X          float64   `json:"x,omitempty"`
	Y          float64   `json:"y,omitempty"`
	W          float64   `json:"w,omitempty"`
	H          float64   `json:"h,omitempty"`
	Rotation   float64   `json:"rotation,omitempty"`
}

// Inverse derives the operation that undoes op against the layout it was
// applied to. Called before the edit is persisted, while prev still holds
// the pre-edit placements.
func (op Operation) Inverse(prev *Layout) (Operation, error) {
	switch op.Kind {
	case OpMove:
		i, ok := prev.find(op.ResourceID)
		if !ok {
			return Operation{}, fmt.Errorf("%w: %s", ErrPlacementNotFound, op.ResourceID)
		}
		return Operation{Kind: OpMove, ResourceID: op.ResourceID, X: prev.Items[i].X, Y: prev.Items[i].Y}, nil
	case OpRotate:
		i, ok := prev.find(op.ResourceID)
		if !ok {
			return Operation{}, fmt.Errorf("%w: %s", ErrPlacementNotFound, op.ResourceID)
		}
		return Operation{Kind: OpRotate, ResourceID: op.ResourceID, Rotation: prev.Items[i].Rotation}, nil
	case OpPlace:
		return Operation{Kind: OpRemove, ResourceID: op.ResourceID}, nil
	case OpRemove:
		i, ok := prev.find(op.ResourceID)
		if !ok {
			return Operation{}, fmt.Errorf("%w: %s", ErrPlacementNotFound, op.ResourceID)
		}
		p := prev.Items[i]
		return Operation{Kind: OpPlace, ResourceID: p.ResourceID, X: p.X, Y: p.Y, W: p.W, H: p.H, Rotation: p.Rotation}, nil
	default:
		return Operation{}, fmt.Errorf("%w: %q", ErrInvalidOperation, op.Kind)
	}
}

// apply returns a new layout with op applied, without collision checks.
func (op Operation) apply(prev *Layout) (*Layout, error) {
	next := prev.clone()
	switch op.Kind {
	case OpMove:
		i, ok := next.find(op.ResourceID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrPlacementNotFound, op.ResourceID)
		}
		next.Items[i].X = op.X
		next.Items[i].Y = op.Y
	case OpRotate:
		i, ok := next.find(op.ResourceID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrPlacementNotFound, op.ResourceID)
		}
		next.Items[i].Rotation = op.Rotation
	case OpPlace:
		if _, ok := next.find(op.ResourceID); ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePlacement, op.ResourceID)
		}
		if op.W <= 0 || op.H <= 0 {
			return nil, fmt.Errorf("%w: placement needs positive dimensions", ErrInvalidOperation)
		}
		next.Items = append(next.Items, Placement{
			ResourceID: op.ResourceID, X: op.X, Y: op.Y, W: op.W, H: op.H, Rotation: op.Rotation,
		})
	case OpRemove:
		i, ok := next.find(op.ResourceID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrPlacementNotFound, op.ResourceID)
		}
		next.Items = append(next.Items[:i], next.Items[i+1:]...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidOperation, op.Kind)
	}
	return next, nil
}
