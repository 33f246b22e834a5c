package appointment

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/appointment-ledger/internal/calendar"
	"github.com/hackgods/appointment-ledger/internal/metrics"
	redisclient "github.com/hackgods/appointment-ledger/internal/redis"
)

// storeLockName is the cross-process lock key shared by every ledger
// writing to the same store.
const storeLockName = "appointments"

type Options struct {
	// Locker, when set, extends the in-process lock across processes.
	Locker redisclient.Locker
	Hours  calendar.Hours
	// MinDate is the earliest bookable date. With NotBeforeToday the
	// current date also bounds it, whichever is later.
	MinDate        calendar.Date
	NotBeforeToday bool

	Logger  *zap.Logger
	Metrics *metrics.Collector
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Ledger is the single authority over the appointment store. Every mutation
// runs one locked cycle: load the whole store, validate and transform it in
// memory, save the new generation atomically, then serve that generation.
type Ledger struct {
	repo    Repository
	locker  redisclient.Locker
	hours   calendar.Hours
	minDate calendar.Date
	floor   bool
	log     *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
	newID   func() string

	mu sync.Mutex

	viewMu sync.RWMutex
	view   *generation
	epoch  uint64
}

func NewLedger(repo Repository, opts Options) (*Ledger, error) {
	if opts.Hours == (calendar.Hours{}) {
		opts.Hours = calendar.DefaultHours()
	}
	if err := opts.Hours.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	l := &Ledger{
		repo:    repo,
		locker:  opts.Locker,
		hours:   opts.Hours,
		minDate: opts.MinDate,
		floor:   opts.NotBeforeToday,
		log:     opts.Logger.Named("ledger"),
		metrics: opts.Metrics,
		now:     opts.Clock,
		newID:   newRecordID,
	}
	l.view = newGeneration(nil, nil, l.log)
	return l, nil
}

func newRecordID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (l *Ledger) Hours() calendar.Hours {
	return l.hours
}

// MinBookableDate is the earliest date Schedule and Reschedule accept today.
func (l *Ledger) MinBookableDate() calendar.Date {
	earliest := l.minDate
	if l.floor {
		if today := l.today(); today.After(earliest) {
			earliest = today
		}
	}
	return earliest
}

func (l *Ledger) today() calendar.Date {
	return calendar.DateOf(l.now())
}

// checkPolicy rejects dates and times no booking may use. It never touches the store.
func (l *Ledger) checkPolicy(date calendar.Date, at calendar.Clock) error {
	if date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrOutOfPolicy)
	}
	if earliest := l.MinBookableDate(); date.Before(earliest) {
		return fmt.Errorf("%w: date %s is before the earliest bookable date %s", ErrOutOfPolicy, date, earliest)
	}
	if !l.hours.IsWithinOperatingHours(at) {
		return fmt.Errorf("%w: %s is outside operating hours %s-%s", ErrOutOfPolicy, at, l.hours.Open, l.hours.Close)
	}
	if !l.hours.IsOnGrid(at) {
		return fmt.Errorf("%w: %s does not start a %s slot", ErrOutOfPolicy, at, l.hours.SlotWidth)
	}
	if l.hours.IsBreakTime(at) {
		return fmt.Errorf("%w: %s falls in the break %s-%s", ErrOutOfPolicy, at, l.hours.BreakStart, l.hours.BreakEnd)
	}
	return nil
}

// bookable reports why k cannot take a new active record, if it cannot.
func bookable(g *generation, k SlotKey, self string) error {
	if id, taken := g.occupant(k); taken && id != self {
		return fmt.Errorf("%w: %s is taken by %s", ErrSlotConflict, k, id)
	}
	if g.isHeld(k) {
		if id, taken := g.occupant(k); !taken || id != self {
			return fmt.Errorf("%w: %s", ErrSlotBlocked, k)
		}
	}
	return nil
}

func (l *Ledger) load(ctx context.Context) (*generation, error) {
	start := l.now()
	records, err := l.repo.Load(ctx)
	if err != nil {
		l.metrics.StoreFailure("load")
		return nil, storeError("load records", err)
	}
	holds, err := l.repo.LoadHolds(ctx)
	if err != nil {
		l.metrics.StoreFailure("load")
		return nil, storeError("load slot holds", err)
	}
	l.metrics.ObserveReload(l.now().Sub(start))
	return newGeneration(records, holds, l.log), nil
}

func (l *Ledger) save(ctx context.Context, g *generation) error {
	if g.recordsDirty {
		if err := l.repo.Save(ctx, g.records); err != nil {
			l.metrics.StoreFailure("save")
			return storeError("save records", err)
		}
	}
	if g.holdsDirty {
		if err := l.repo.SaveHolds(ctx, g.holds); err != nil {
			l.metrics.StoreFailure("save")
			if g.recordsDirty {
				// the record generation is already committed
				l.log.Error("slot holds not saved after records were", zap.Error(err))
				l.reloadLocked(ctx)
			}
			return storeError("save slot holds", err)
		}
	}
	return nil
}

func (l *Ledger) install(g *generation) {
	g.recordsDirty, g.holdsDirty = false, false
	l.viewMu.Lock()
	l.view = g
	l.epoch++
	l.viewMu.Unlock()
	l.metrics.SetGeneration(g.countByStatus(), len(g.holds))
}

func (l *Ledger) current() *generation {
	l.viewMu.RLock()
	defer l.viewMu.RUnlock()
	return l.view
}

// mutate runs fn inside one locked load-transform-save cycle. Nothing is
// saved or installed when fn fails.
func (l *Ledger) mutate(ctx context.Context, op string, fn func(g *generation) error) (err error) {
	defer func() {
		l.metrics.ObserveOperation(op, err)
		if err != nil {
			l.log.Debug("mutation rejected", zap.String("op", op), zap.Error(err))
		}
	}()

	l.mu.Lock()
	defer l.mu.Unlock()

	cycle := func(ctx context.Context) error {
		g, err := l.load(ctx)
		if err != nil {
			return err
		}
		if err := fn(g); err != nil {
			return err
		}
		if err := l.save(ctx, g); err != nil {
			return err
		}
		l.install(g)
		return nil
	}

	if l.locker == nil {
		return cycle(ctx)
	}
	err = l.locker.WithStoreLock(ctx, storeLockName, cycle)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		l.metrics.StoreFailure("lock")
		return storeError("lock store", err)
	}
	return err
}

func (l *Ledger) attach(r Record) Record {
	r = r.clone()
	r.ledger = l
	return r
}

// Reload replaces the in-memory view with the current store contents. On
// failure the last known good view stays in place.
func (l *Ledger) Reload(ctx context.Context) error {
	l.viewMu.RLock()
	epoch := l.epoch
	l.viewMu.RUnlock()

	g, err := l.load(ctx)
	if err != nil {
		l.log.Error("reload failed, keeping last known good view", zap.Error(err))
		return err
	}

	l.viewMu.Lock()
	// A mutation that installed meanwhile already holds a newer generation.
	installed := l.epoch == epoch
	if installed {
		l.view = g
		l.epoch++
	}
	l.viewMu.Unlock()
	if installed {
		l.metrics.SetGeneration(g.countByStatus(), len(g.holds))
	}
	return nil
}

// reloadLocked refreshes the view from inside a cycle that already holds mu.
func (l *Ledger) reloadLocked(ctx context.Context) {
	g, err := l.load(ctx)
	if err != nil {
		return
	}
	l.install(g)
}

// freshView reloads before a read. A failed reload is logged and the read is
// answered from the last known good view.
func (l *Ledger) freshView(ctx context.Context, op string) *generation {
	if err := l.Reload(ctx); err != nil {
		l.log.Warn("serving stale view", zap.String("op", op), zap.Error(err))
		l.metrics.StaleRead(op)
	}
	return l.current()
}

// Schedule books a new Scheduled appointment. The availability check and the
// write happen in one critical section, so two callers can never both win
// the same slot.
func (l *Ledger) Schedule(ctx context.Context, patientID int, providerID string, date calendar.Date, at calendar.Clock) (Record, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return Record{}, fmt.Errorf("%w: provider is required", ErrOutOfPolicy)
	}
	if err := l.checkPolicy(date, at); err != nil {
		l.metrics.ObserveOperation("schedule", err)
		return Record{}, err
	}

	var created Record
	err := l.mutate(ctx, "schedule", func(g *generation) error {
		r := Record{
			ID:         l.newID(),
			PatientID:  patientID,
			ProviderID: providerID,
			Date:       date,
			Time:       at,
			Status:     StatusScheduled,
		}
		if err := bookable(g, r.Slot(), ""); err != nil {
			return err
		}
		g.put(r)
		created = r
		return nil
	})
	if err != nil {
		return Record{}, err
	}

	l.log.Info("appointment scheduled",
		zap.String("id", created.ID),
		zap.Int("patient_id", patientID),
		zap.String("slot", created.Slot().String()))
	return l.attach(created), nil
}

// IsSlotAvailable reports whether the slot has no active appointment and is
// not held, evaluated against a fresh load of the store.
func (l *Ledger) IsSlotAvailable(ctx context.Context, providerID string, date calendar.Date, at calendar.Clock) (bool, error) {
	providerID = strings.TrimSpace(providerID)
	if err := l.Reload(ctx); err != nil {
		return false, err
	}
	g := l.current()
	return bookable(g, SlotKey{ProviderID: providerID, Date: date, Time: at}, "") == nil, nil
}

// Reschedule moves an active appointment to another slot and resets it to
// Scheduled. On any failure the stored record is left as it was.
func (l *Ledger) Reschedule(ctx context.Context, id string, date calendar.Date, at calendar.Clock) (Record, error) {
	if err := l.checkPolicy(date, at); err != nil {
		l.metrics.ObserveOperation("reschedule", err)
		return Record{}, err
	}

	var updated Record
	err := l.mutate(ctx, "reschedule", func(g *generation) error {
		r, ok := g.get(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrAppointmentNotFound, id)
		}
		if !r.Status.IsActive() {
			return &TransitionError{ID: id, From: r.Status, Action: "reschedule"}
		}

		target := SlotKey{ProviderID: r.ProviderID, Date: date, Time: at}
		if target == r.Slot() {
			return fmt.Errorf("%w: %s is already booked by this appointment", ErrSlotConflict, target)
		}
		if err := bookable(g, target, id); err != nil {
			return err
		}

		r = r.clone()
		r.Date, r.Time = date, at
		r.Status = StatusScheduled
		g.put(r)
		updated = r
		return nil
	})
	if err != nil {
		return Record{}, err
	}

	l.log.Info("appointment rescheduled", zap.String("id", id), zap.String("slot", updated.Slot().String()))
	return l.attach(updated), nil
}

// Cancel is allowed from Scheduled and Confirmed and frees the slot.
func (l *Ledger) Cancel(ctx context.Context, id string) (Record, error) {
	return l.transition(ctx, "cancel", id, StatusCancelled)
}

// Respond is the provider's answer to a Scheduled appointment: accepting
// confirms it, declining cancels it.
func (l *Ledger) Respond(ctx context.Context, id string, accept bool) (Record, error) {
	if accept {
		return l.transition(ctx, "confirm", id, StatusConfirmed)
	}
	return l.respondDecline(ctx, id)
}

func (l *Ledger) respondDecline(ctx context.Context, id string) (Record, error) {
	var updated Record
	err := l.mutate(ctx, "reject", func(g *generation) error {
		r, ok := g.get(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrAppointmentNotFound, id)
		}
		if r.Status != StatusScheduled {
			return &TransitionError{ID: id, From: r.Status, Action: "reject"}
		}
		r = r.clone()
		if err := r.transition(StatusCancelled, "reject"); err != nil {
			return err
		}
		g.put(r)
		updated = r
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	l.log.Info("appointment rejected", zap.String("id", id))
	return l.attach(updated), nil
}

// UpdateStatus applies one legal transition. Completing through UpdateStatus
// leaves any outcome untouched; use RecordOutcome to attach one.
func (l *Ledger) UpdateStatus(ctx context.Context, id string, status Status) (Record, error) {
	return l.transition(ctx, "update_status", id, status)
}

func (l *Ledger) transition(ctx context.Context, op, id string, to Status) (Record, error) {
	var updated Record
	err := l.mutate(ctx, op, func(g *generation) error {
		r, ok := g.get(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrAppointmentNotFound, id)
		}
		r = r.clone()
		if err := r.transition(to, actionFor(op, to)); err != nil {
			return err
		}
		g.put(r)
		updated = r
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	l.log.Info("appointment status changed", zap.String("id", id), zap.Stringer("status", to))
	return l.attach(updated), nil
}

func actionFor(op string, to Status) string {
	if op != "update_status" {
		return op
	}
	return "move to " + to.String()
}

// RecordOutcome completes a Confirmed appointment with its outcome, or
// replaces the outcome of one already Completed. The newest payload is
// always the one persisted.
func (l *Ledger) RecordOutcome(ctx context.Context, id string, o Outcome) (Record, error) {
	if err := o.validate(); err != nil {
		l.metrics.ObserveOperation("record_outcome", err)
		return Record{}, err
	}
	o.ServiceType = strings.TrimSpace(o.ServiceType)
	if len(o.Medicines) == 0 {
		o.Medicines = nil
	}

	var updated Record
	err := l.mutate(ctx, "record_outcome", func(g *generation) error {
		r, ok := g.get(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrAppointmentNotFound, id)
		}
		r = r.clone()
		if r.Status != StatusCompleted {
			if err := r.transition(StatusCompleted, "record an outcome for"); err != nil {
				return err
			}
		}
		r.Outcome = o.clone()
		g.put(r)
		updated = r
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	l.log.Info("appointment outcome recorded", zap.String("id", id), zap.String("service_type", o.ServiceType))
	return l.attach(updated), nil
}

// UpdatePrescriptionStatus changes the prescription status of a Completed
// appointment, the one field that may change after completion.
func (l *Ledger) UpdatePrescriptionStatus(ctx context.Context, id, status string) (Record, error) {
	if strings.ContainsAny(status, "\r\n") {
		err := fmt.Errorf("%w: prescription status must be a single line", ErrInvalidOutcome)
		l.metrics.ObserveOperation("prescription_status", err)
		return Record{}, err
	}

	var updated Record
	err := l.mutate(ctx, "prescription_status", func(g *generation) error {
		r, ok := g.get(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrAppointmentNotFound, id)
		}
		if r.Status != StatusCompleted {
			return &TransitionError{ID: id, From: r.Status, Action: "update the prescription of"}
		}
		r = r.clone()
		if r.Outcome == nil {
			r.Outcome = &Outcome{}
		}
		r.Outcome.PrescriptionStatus = status
		g.put(r)
		updated = r
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return l.attach(updated), nil
}

// UpdateRecord writes r over the stored record with the same ID, or appends
// it when there is none. A status change must be a legal transition and an
// active record may not take a slot that is already taken or held. Cancelled
// records are frozen and Completed ones accept only a new prescription status.
func (l *Ledger) UpdateRecord(ctx context.Context, r Record) (Record, error) {
	r = r.clone()
	r.ID = strings.TrimSpace(r.ID)
	if r.ID == "" {
		r.ID = l.newID()
	}
	if _, known := statusNames[r.Status]; !known {
		err := fmt.Errorf("%w: unknown status %d", ErrInvalidTransition, r.Status)
		l.metrics.ObserveOperation("update_record", err)
		return Record{}, err
	}
	if r.Outcome != nil {
		if r.Status != StatusCompleted {
			err := fmt.Errorf("%w: only completed appointments carry an outcome", ErrInvalidOutcome)
			l.metrics.ObserveOperation("update_record", err)
			return Record{}, err
		}
		if err := r.Outcome.validate(); err != nil {
			l.metrics.ObserveOperation("update_record", err)
			return Record{}, err
		}
	}

	err := l.mutate(ctx, "update_record", func(g *generation) error {
		before, existed := g.get(r.ID)
		if existed && before.Status.IsTerminal() && !before.onlyPrescriptionDiffers(r) {
			return &TransitionError{ID: r.ID, From: before.Status, Action: "edit"}
		}
		if existed && before.Status != r.Status && !before.Status.CanTransitionTo(r.Status) {
			return &TransitionError{ID: r.ID, From: before.Status, Action: "move to " + r.Status.String()}
		}
		if r.Status.IsActive() && (!existed || !before.Status.IsActive() || before.Slot() != r.Slot()) {
			if err := bookable(g, r.Slot(), r.ID); err != nil {
				return err
			}
		}
		g.put(r)
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return l.attach(r), nil
}

// RemoveRecord deletes the record from the store entirely.
func (l *Ledger) RemoveRecord(ctx context.Context, id string) error {
	err := l.mutate(ctx, "remove", func(g *generation) error {
		if _, ok := g.remove(id); !ok {
			return fmt.Errorf("%w: %s", ErrAppointmentNotFound, id)
		}
		return nil
	})
	if err != nil {
		return err
	}
	l.log.Info("appointment removed", zap.String("id", id))
	return nil
}

func (l *Ledger) Get(ctx context.Context, id string) (Record, error) {
	g := l.freshView(ctx, "get")
	r, ok := g.get(id)
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrAppointmentNotFound, id)
	}
	return l.attach(r), nil
}

func (l *Ledger) ListByPatient(ctx context.Context, patientID int) []Record {
	return l.list(ctx, "list_by_patient", func(r Record) bool {
		return r.PatientID == patientID
	})
}

func (l *Ledger) ListByProvider(ctx context.Context, providerID string) []Record {
	return l.list(ctx, "list_by_provider", func(r Record) bool {
		return r.ProviderID == providerID
	})
}

// ListUpcomingByProvider returns the provider's active appointments from
// today on.
func (l *Ledger) ListUpcomingByProvider(ctx context.Context, providerID string) []Record {
	today := l.today()
	return l.list(ctx, "list_upcoming", func(r Record) bool {
		return r.ProviderID == providerID && r.Status.IsActive() && !r.Date.Before(today)
	})
}

// All returns every record in date order.
func (l *Ledger) All(ctx context.Context) []Record {
	return l.list(ctx, "list_all", func(Record) bool { return true })
}

func (l *Ledger) list(ctx context.Context, op string, keep func(Record) bool) []Record {
	g := l.freshView(ctx, op)
	out := make([]Record, 0)
	for _, r := range g.records {
		if keep(r) {
			out = append(out, l.attach(r))
		}
	}
	slices.SortFunc(out, compareRecords)
	return out
}

func compareRecords(a, b Record) int {
	switch {
	case a.Date.Before(b.Date):
		return -1
	case a.Date.After(b.Date):
		return 1
	case a.Time.Before(b.Time):
		return -1
	case a.Time.After(b.Time):
		return 1
	}
	return strings.Compare(a.ID, b.ID)
}

// AvailableSlots is the provider's grid for date: break slots and held slots
// are UNAVAILABLE, slots with an active appointment are BOOKED.
func (l *Ledger) AvailableSlots(ctx context.Context, providerID string, date calendar.Date) []calendar.TimeSlot {
	providerID = strings.TrimSpace(providerID)
	g := l.freshView(ctx, "available_slots")
	slots := l.hours.GenerateDailySlots(date)
	for i := range slots {
		k := SlotKey{ProviderID: providerID, Date: date, Time: slots[i].Start}
		if _, taken := g.occupant(k); taken {
			slots[i].Status = calendar.SlotBooked
		} else if g.isHeld(k) {
			slots[i].Status = calendar.SlotUnavailable
		}
	}
	return slots
}

// BlockSlot marks a slot unavailable without booking it.
func (l *Ledger) BlockSlot(ctx context.Context, providerID string, date calendar.Date, at calendar.Clock) error {
	if !l.hours.IsWithinOperatingHours(at) || !l.hours.IsOnGrid(at) {
		err := fmt.Errorf("%w: %s is not a slot of the daily grid", ErrOutOfPolicy, at)
		l.metrics.ObserveOperation("block", err)
		return err
	}
	k := SlotKey{ProviderID: strings.TrimSpace(providerID), Date: date, Time: at}
	return l.mutate(ctx, "block", func(g *generation) error {
		if id, taken := g.occupant(k); taken {
			return fmt.Errorf("%w: %s is taken by %s", ErrSlotConflict, k, id)
		}
		g.hold(k)
		return nil
	})
}

// UnblockSlot lifts a block placed by BlockSlot. Holds backing a confirmed
// appointment can only be released through that appointment.
func (l *Ledger) UnblockSlot(ctx context.Context, providerID string, date calendar.Date, at calendar.Clock) error {
	k := SlotKey{ProviderID: strings.TrimSpace(providerID), Date: date, Time: at}
	return l.mutate(ctx, "unblock", func(g *generation) error {
		if id, taken := g.occupant(k); taken && g.isHeld(k) {
			if r, _ := g.get(id); r.Status == StatusConfirmed {
				return fmt.Errorf("%w: %s is held by confirmed appointment %s", ErrSlotConflict, k, id)
			}
		}
		g.release(k)
		return nil
	})
}

// PruneHolds drops holds dated before the given day and reports how many
// were removed.
func (l *Ledger) PruneHolds(ctx context.Context, before calendar.Date) (int, error) {
	pruned := 0
	err := l.mutate(ctx, "prune_holds", func(g *generation) error {
		for _, k := range slices.Clone(g.holds) {
			if k.Date.Before(before) {
				g.release(k)
				pruned++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		l.log.Info("pruned past slot holds", zap.Int("count", pruned), zap.Stringer("before", before))
	}
	return pruned, nil
}
