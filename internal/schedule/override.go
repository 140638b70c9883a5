package schedule

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rank-tracker/internal/model"
)

// State is the override state of a concept's scheduling.
type State string

const (
	// StateIndependent is the default: each check type runs on its own
	// schedule, if any.
	StateIndependent State = "independent"
	// StateUnifiedActive means a unified schedule covers the concept and
	// owns the paused individual schedules.
	StateUnifiedActive State = "unified_active"
)

// ErrUnifiedExists is returned when enabling a unified schedule for a
// concept that already has one.
var ErrUnifiedExists = eris.New("schedule: concept already has a unified schedule")

// Store is the persistence surface the override manager needs.
type Store interface {
	ListActiveSchedules(ctx context.Context, conceptID string) ([]model.IndividualSchedule, error)
	SetScheduleActive(ctx context.Context, scheduleID string, active bool) error
	RestoreSchedule(ctx context.Context, rec model.PausedScheduleRecord) error

	CreateUnifiedSchedule(ctx context.Context, us model.UnifiedSchedule) error
	GetUnifiedSchedule(ctx context.Context, id string) (*model.UnifiedSchedule, error)
	GetUnifiedScheduleByConcept(ctx context.Context, conceptID string) (*model.UnifiedSchedule, error)
	DeleteUnifiedSchedule(ctx context.Context, id string) error

	CreatePausedRecord(ctx context.Context, rec model.PausedScheduleRecord) error
	ListPausedRecords(ctx context.Context, unifiedID string) ([]model.PausedScheduleRecord, error)
	GetPausedRecordBySchedule(ctx context.Context, scheduleID string) (*model.PausedScheduleRecord, error)
	DeletePausedRecord(ctx context.Context, id string) error
}

// Manager pauses and restores individual schedules around a concept-level
// unified schedule so costs and executions never double up.
type Manager struct {
	store Store
	now   func() time.Time
}

// NewManager creates an override Manager.
func NewManager(s Store) *Manager {
	return &Manager{store: s, now: time.Now}
}

// State reports the concept's current override state.
func (m *Manager) State(ctx context.Context, conceptID string) (State, error) {
	us, err := m.store.GetUnifiedScheduleByConcept(ctx, conceptID)
	if err != nil {
		return "", eris.Wrapf(err, "schedule: state for concept %s", conceptID)
	}
	if us != nil {
		return StateUnifiedActive, nil
	}
	return StateIndependent, nil
}

// Preview enumerates the currently-active individual schedules the given
// unified schedule would duplicate. The result is advisory: Enable
// re-derives the set at confirmation time rather than trusting a stale
// client-supplied list.
func (m *Manager) Preview(ctx context.Context, conceptID string, types []model.CheckType) ([]model.IndividualSchedule, error) {
	return m.duplicates(ctx, conceptID, types)
}

// Enable activates a concept-level unified schedule: it re-derives the
// duplicate set, snapshots each duplicate into a PausedScheduleRecord,
// pauses it, and persists the unified schedule. The unified schedule ID
// is assigned here if empty.
func (m *Manager) Enable(ctx context.Context, us model.UnifiedSchedule) (*model.UnifiedSchedule, error) {
	if us.ConceptID == "" {
		return nil, eris.New("schedule: enable: missing concept id")
	}
	if len(us.CheckTypes) == 0 {
		return nil, eris.New("schedule: enable: no check types")
	}
	if _, err := NextRun(us.Frequency, us.DayOfWeek, us.DayOfMonth, us.HourUTC, m.now()); err != nil {
		return nil, eris.Wrap(err, "schedule: enable: invalid recurrence")
	}

	existing, err := m.store.GetUnifiedScheduleByConcept(ctx, us.ConceptID)
	if err != nil {
		return nil, eris.Wrapf(err, "schedule: enable: lookup concept %s", us.ConceptID)
	}
	if existing != nil {
		return nil, ErrUnifiedExists
	}

	if us.ID == "" {
		us.ID = uuid.New().String()
	}
	us.CreatedAt = m.now().UTC()

	if err := m.store.CreateUnifiedSchedule(ctx, us); err != nil {
		return nil, eris.Wrapf(err, "schedule: enable: create unified for concept %s", us.ConceptID)
	}

	// Derive the set now, not from the preview the user was shown.
	dups, err := m.duplicates(ctx, us.ConceptID, us.CheckTypes)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(
		zap.String("component", "schedule.override"),
		zap.String("concept_id", us.ConceptID),
		zap.String("unified_id", us.ID),
	)

	for _, dup := range dups {
		// Invariant: a schedule is never paused by more than one unified
		// schedule. An existing snapshot means another owner holds it.
		if prior, err := m.store.GetPausedRecordBySchedule(ctx, dup.ID); err != nil {
			return nil, eris.Wrapf(err, "schedule: enable: snapshot lookup for %s", dup.ID)
		} else if prior != nil {
			log.Warn("schedule already paused by another unified schedule",
				zap.String("schedule_id", dup.ID),
				zap.String("owner_unified_id", prior.UnifiedID),
			)
			continue
		}

		rec := model.PausedScheduleRecord{
			ID:         uuid.New().String(),
			UnifiedID:  us.ID,
			ScheduleID: dup.ID,
			CheckType:  dup.CheckType,
			Frequency:  dup.Frequency,
			DayOfWeek:  dup.DayOfWeek,
			DayOfMonth: dup.DayOfMonth,
			HourUTC:    dup.HourUTC,
			PausedAt:   m.now().UTC(),
		}
		if err := m.store.CreatePausedRecord(ctx, rec); err != nil {
			return nil, eris.Wrapf(err, "schedule: enable: snapshot schedule %s", dup.ID)
		}
		if err := m.store.SetScheduleActive(ctx, dup.ID, false); err != nil {
			return nil, eris.Wrapf(err, "schedule: enable: pause schedule %s", dup.ID)
		}
		log.Info("paused individual schedule",
			zap.String("schedule_id", dup.ID),
			zap.String("check_type", string(dup.CheckType)),
		)
	}

	return &us, nil
}

// Disable tears down a unified schedule: every snapshot it owns is
// restored with its original settings, then deleted, then the unified
// schedule itself is removed.
func (m *Manager) Disable(ctx context.Context, unifiedID string) error {
	us, err := m.store.GetUnifiedSchedule(ctx, unifiedID)
	if err != nil {
		return eris.Wrapf(err, "schedule: disable: lookup %s", unifiedID)
	}
	if us == nil {
		return eris.Errorf("schedule: disable: unified schedule %s not found", unifiedID)
	}

	recs, err := m.store.ListPausedRecords(ctx, unifiedID)
	if err != nil {
		return eris.Wrapf(err, "schedule: disable: list snapshots for %s", unifiedID)
	}

	log := zap.L().With(
		zap.String("component", "schedule.override"),
		zap.String("concept_id", us.ConceptID),
		zap.String("unified_id", unifiedID),
	)

	for _, rec := range recs {
		// Restoration is exact: settings come from the snapshot, not from
		// whatever the schedule row holds now.
		if err := m.store.RestoreSchedule(ctx, rec); err != nil {
			return eris.Wrapf(err, "schedule: disable: restore schedule %s", rec.ScheduleID)
		}
		if err := m.store.DeletePausedRecord(ctx, rec.ID); err != nil {
			return eris.Wrapf(err, "schedule: disable: delete snapshot %s", rec.ID)
		}
		log.Info("restored individual schedule",
			zap.String("schedule_id", rec.ScheduleID),
			zap.String("check_type", string(rec.CheckType)),
		)
	}

	if err := m.store.DeleteUnifiedSchedule(ctx, unifiedID); err != nil {
		return eris.Wrapf(err, "schedule: disable: delete unified %s", unifiedID)
	}
	return nil
}

func (m *Manager) duplicates(ctx context.Context, conceptID string, types []model.CheckType) ([]model.IndividualSchedule, error) {
	active, err := m.store.ListActiveSchedules(ctx, conceptID)
	if err != nil {
		return nil, eris.Wrapf(err, "schedule: list active for concept %s", conceptID)
	}

	covered := make(map[model.CheckType]bool, len(types))
	for _, t := range types {
		covered[t] = true
	}

	var dups []model.IndividualSchedule
	for _, s := range active {
		if covered[s.CheckType] {
			dups = append(dups, s)
		}
	}
	return dups, nil
}
