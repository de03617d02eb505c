package flow

import "errors"

var (
	ErrFlowNotFound              = errors.New("flow not found")
	ErrDuplicateActiveVisit      = errors.New("patient already has an active visit")
	ErrInvalidTransition         = errors.New("invalid stage transition")
	ErrInvalidSubStage           = errors.New("sub-stage not valid for current stage")
	ErrStaleVersion              = errors.New("flow was modified by another request")
	ErrNoPriorStage              = errors.New("no prior stage to revert to")
	ErrCancelNotAllowed          = errors.New("visit can only be cancelled before seating")
	ErrResourceNoLongerAvailable = errors.New("previously held resource is no longer available")
)
