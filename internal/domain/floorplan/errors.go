package floorplan

import "errors"

var (
	ErrLayoutNotFound     = errors.New("floor plan not found")
	ErrLayoutConflict     = errors.New("floor plan was modified by another editor")
	ErrCollisionDetected  = errors.New("placement overlaps another item")
	ErrPlacementNotFound  = errors.New("resource is not on the floor plan")
	ErrDuplicatePlacement = errors.New("resource is already on the floor plan")
	ErrInvalidOperation   = errors.New("invalid floor plan operation")
	ErrNothingToUndo      = errors.New("nothing to undo")
	ErrNothingToRedo      = errors.New("nothing to redo")
)
