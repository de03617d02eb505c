package floorplan

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/chairflow/chairflow/internal/domain/audit"
	"github.com/chairflow/chairflow/internal/platform/db"
	"github.com/chairflow/chairflow/internal/platform/metrics"
)

// EventSink receives committed layout changes. May be nil.
type EventSink interface {
	Publish(clinicID uuid.UUID, subject string, subjectID uuid.UUID, fromValue, toValue string)
}

// editSession holds a clinic's undo/redo history. Stacks are bounded: the
// oldest inverse falls off when the limit is hit. History is per process;
// a restart starts clean, the persisted layout is never at risk.
type editSession struct {
	undo  []Operation
	redo  []Operation
	limit int
}

func (s *editSession) push(stack []Operation, op Operation) []Operation {
	stack = append(stack, op)
	if len(stack) > s.limit {
		stack = stack[1:]
	}
	return stack
}

// Service is the floor plan store. Every edit validates collisions against
// the rotated bounding boxes of the resulting layout and is serialized by
// the layout version.
type Service struct {
	repo   Repository
	runner db.Runner
	audit  audit.Recorder
	events EventSink

	historyLimit int

	mu       sync.Mutex
	sessions map[uuid.UUID]*editSession
}

func NewService(repo Repository, runner db.Runner, recorder audit.Recorder, events EventSink, historyLimit int) *Service {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Service{
		repo:         repo,
		runner:       runner,
		audit:        recorder,
		events:       events,
		historyLimit: historyLimit,
		sessions:     make(map[uuid.UUID]*editSession),
	}
}

// Get returns the clinic's layout, or an empty version-0 layout if none
// has been saved yet.
func (s *Service) Get(ctx context.Context, clinicID uuid.UUID) (*Layout, error) {
	layout, err := s.repo.Get(ctx, clinicID)
	if errors.Is(err, ErrLayoutNotFound) {
		return &Layout{ClinicID: clinicID, Items: []Placement{}}, nil
	}
	return layout, err
}

// ApplyEdit applies one operation against the version the editor saw.
// A successful edit pushes its inverse onto the undo stack and clears the
// redo stack.
func (s *Service) ApplyEdit(ctx context.Context, clinicID uuid.UUID, op Operation, expectedVersion int64, actor string) (*Layout, error) {
	next, inverse, err := s.apply(ctx, clinicID, op, expectedVersion, actor)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	sess := s.session(clinicID)
	sess.undo = sess.push(sess.undo, inverse)
	sess.redo = nil
	s.mu.Unlock()

	return next, nil
}

// Undo reverses the most recent edit. The inverse runs through the same
// validation as a fresh edit, so undoing into a collision or a concurrent
// editor's change fails cleanly and keeps the history intact.
func (s *Service) Undo(ctx context.Context, clinicID uuid.UUID, actor string) (*Layout, error) {
	s.mu.Lock()
	sess := s.session(clinicID)
	if len(sess.undo) == 0 {
		s.mu.Unlock()
		return nil, ErrNothingToUndo
	}
	// Pop before releasing the lock so two concurrent undos never run the
	// same inverse; a failed apply puts the operation back.
	op := sess.undo[len(sess.undo)-1]
	sess.undo = sess.undo[:len(sess.undo)-1]
	s.mu.Unlock()

	next, inverse, err := s.replay(ctx, clinicID, op, actor)
	if err != nil {
		s.mu.Lock()
		sess.undo = append(sess.undo, op)
		s.mu.Unlock()
		return nil, err
	}

	s.mu.Lock()
	sess.redo = sess.push(sess.redo, inverse)
	s.mu.Unlock()

	return next, nil
}

// Redo re-applies the most recently undone edit.
func (s *Service) Redo(ctx context.Context, clinicID uuid.UUID, actor string) (*Layout, error) {
	s.mu.Lock()
	sess := s.session(clinicID)
	if len(sess.redo) == 0 {
		s.mu.Unlock()
		return nil, ErrNothingToRedo
	}
	op := sess.redo[len(sess.redo)-1]
	sess.redo = sess.redo[:len(sess.redo)-1]
	s.mu.Unlock()

	next, inverse, err := s.replay(ctx, clinicID, op, actor)
	if err != nil {
		s.mu.Lock()
		sess.redo = append(sess.redo, op)
		s.mu.Unlock()
		return nil, err
	}

	s.mu.Lock()
	sess.undo = sess.push(sess.undo, inverse)
	s.mu.Unlock()

	return next, nil
}

// replay runs a history operation against the current layout version.
func (s *Service) replay(ctx context.Context, clinicID uuid.UUID, op Operation, actor string) (*Layout, Operation, error) {
	cur, err := s.repo.Get(ctx, clinicID)
	if err != nil {
		return nil, Operation{}, err
	}
	return s.apply(ctx, clinicID, op, cur.Version, actor)
}

// apply runs one operation end to end: version check, collision check,
// persist, audit. Returns the saved layout and the operation's inverse.
func (s *Service) apply(ctx context.Context, clinicID uuid.UUID, op Operation, expectedVersion int64, actor string) (*Layout, Operation, error) {
	var (
		next    *Layout
		inverse Operation
	)
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		prev, err := s.repo.Get(ctx, clinicID)
		if errors.Is(err, ErrLayoutNotFound) {
			prev = &Layout{ClinicID: clinicID, Items: []Placement{}}
		} else if err != nil {
			return err
		}
		if prev.Version != expectedVersion {
			return fmt.Errorf("%w: have v%d, edit based on v%d", ErrLayoutConflict, prev.Version, expectedVersion)
		}

		inverse, err = op.Inverse(prev)
		if err != nil {
			return err
		}

		next, err = op.apply(prev)
		if err != nil {
			return err
		}
		if a, b, found := firstCollision(next.Items); found {
			return fmt.Errorf("%w: %s and %s", ErrCollisionDetected, a.ResourceID, b.ResourceID)
		}

		next.UpdatedBy = actor
		if err := s.repo.Save(ctx, next, expectedVersion); err != nil {
			return err
		}
		return s.audit.Record(ctx, &audit.Entry{
			ClinicID:    clinicID,
			SubjectType: audit.SubjectLayout,
			SubjectID:   clinicID,
			FromValue:   fmt.Sprintf("v%d", expectedVersion),
			ToValue:     fmt.Sprintf("v%d", next.Version),
			ActorID:     actor,
		})
	})
	if err != nil {
		if errors.Is(err, ErrLayoutConflict) {
			metrics.LayoutConflicts.Inc()
		}
		return nil, Operation{}, err
	}

	if s.events != nil {
		s.events.Publish(clinicID, "LAYOUT", clinicID,
			fmt.Sprintf("v%d", expectedVersion), fmt.Sprintf("v%d", next.Version))
	}
	return next, inverse, nil
}

// session returns the clinic's edit session; callers hold s.mu.
func (s *Service) session(clinicID uuid.UUID) *editSession {
	sess, ok := s.sessions[clinicID]
	if !ok {
		sess = &editSession{limit: s.historyLimit}
		s.sessions[clinicID] = sess
	}
	return sess
}
