package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"slices"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hackgods/appointment-ledger/internal/api"
	"github.com/hackgods/appointment-ledger/internal/calendar"
	"github.com/hackgods/appointment-ledger/internal/config"
	"github.com/hackgods/appointment-ledger/internal/directory"
	"github.com/hackgods/appointment-ledger/internal/logger"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	BookingRatio    float64
	RespondRatio    float64
	RescheduleRatio float64
	CancelRatio     float64
	ReadRatio       float64
	PatientLimit    int
	ProviderLimit   int
	Days            int
}

// DataPool is the key space workers draw from. It is kept small on purpose
// so that workers keep colliding on the same slots.
type DataPool struct {
	Providers []string
	Dates     []calendar.Date
	Times     []calendar.Clock
	Patients  int

	mu           sync.RWMutex
	appointments []string
}

func (dp *DataPool) AddAppointment(id string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (string, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return "", false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type outcome int

const (
	outcomeOK outcome = iota
	outcomeConflict
	outcomeError
)

// opStats collects the outcomes and latencies of one kind of request.
type opStats struct {
	mu        sync.Mutex
	counts    [3]int
	latencies []time.Duration
}

func (o *opStats) Record(latency time.Duration, success, conflict bool) {
	result := outcomeError
	switch {
	case success:
		result = outcomeOK
	case conflict:
		result = outcomeConflict
	}
	o.mu.Lock()
	o.counts[result]++
	o.latencies = append(o.latencies, latency)
	o.mu.Unlock()
}

type summary struct {
	total, ok, conflicts, errors int
	mean, p50, p95, max           time.Duration
}

func (o *opStats) summarize() summary {
	o.mu.Lock()
	sorted := slices.Clone(o.latencies)
	sm := summary{ok: o.counts[outcomeOK], conflicts: o.counts[outcomeConflict], errors: o.counts[outcomeError]}
	o.mu.Unlock()

	sm.total = len(sorted)
	if sm.total == 0 {
		return sm
	}
	slices.Sort(sorted)
	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	sm.mean = sum / time.Duration(sm.total)
	sm.p50 = sorted[rank(sm.total, 50)]
	sm.p95 = sorted[rank(sm.total, 95)]
	sm.max = sorted[sm.total-1]
	return sm
}

func rank(n, pct int) int {
	return min(n*pct/100, n-1)
}

type Metrics struct {
	Booking    opStats
	Respond    opStats
	Reschedule opStats
	Cancel     opStats
	ReadByID   opStats
	ListByPat  opStats
	Slots      opStats
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     *zap.Logger
}

func main() {
	var cfg SimConfig
	cmd := &cobra.Command{
		Use:           "simulate",
		Short:         "Drive concurrent load against the ledger API and check for double bookings",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg.normalized())
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.APIBaseURL, "api", "http://localhost:8080", "API base URL")
	f.DurationVar(&cfg.Duration, "duration", 30*time.Second, "how long to run")
	f.IntVar(&cfg.Workers, "workers", 10, "concurrent workers")
	f.Float64Var(&cfg.BookingRatio, "booking", 0.4, "weight of booking requests")
	f.Float64Var(&cfg.RespondRatio, "respond", 0.15, "weight of accept/decline requests")
	f.Float64Var(&cfg.RescheduleRatio, "reschedule", 0.1, "weight of reschedule requests")
	f.Float64Var(&cfg.CancelRatio, "cancel", 0.1, "weight of cancel requests")
	f.Float64Var(&cfg.ReadRatio, "read", 0.25, "weight of read requests")
	f.IntVar(&cfg.PatientLimit, "patients", 200, "patient ids to draw from")
	f.IntVar(&cfg.ProviderLimit, "providers", 3, "providers to draw from")
	f.IntVar(&cfg.Days, "days", 2, "days ahead to book into")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "simulate:", err)
		if errors.Is(err, errDoubleBooking) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var errDoubleBooking = errors.New("double booking detected")

func run(ctx context.Context, cfg SimConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	baseCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(baseCfg.LogLevel, baseCfg.LogFormat)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	dataPool, err := loadDataPool(loadCtx, baseCfg, cfg)
	cancel()
	if err != nil {
		return fmt.Errorf("load data pool: %w", err)
	}
	log.Info("data pool loaded",
		zap.Int("providers", len(dataPool.Providers)),
		zap.Int("dates", len(dataPool.Dates)),
		zap.Int("times", len(dataPool.Times)))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
	sim.Run()
	sim.PrintReport(os.Stdout)

	violations, err := sim.VerifyNoDoubleBooking(ctx)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if violations > 0 {
		return fmt.Errorf("%w in %d slots", errDoubleBooking, violations)
	}
	log.Info("verified: every slot has at most one active appointment")
	return nil
}

// normalized scales the request weights so they sum to one.
func (c SimConfig) normalized() SimConfig {
	total := c.BookingRatio + c.RespondRatio + c.RescheduleRatio + c.CancelRatio + c.ReadRatio
	if total > 0 {
		c.BookingRatio /= total
		c.RespondRatio /= total
		c.RescheduleRatio /= total
		c.CancelRatio /= total
		c.ReadRatio /= total
	}
	return c
}

func (c SimConfig) validate() error {
	switch {
	case c.Workers <= 0:
		return errors.New("--workers must be > 0")
	case c.Duration <= 0:
		return errors.New("--duration must be > 0")
	case c.Days <= 0 || c.ProviderLimit <= 0 || c.PatientLimit <= 0:
		return errors.New("--days, --providers and --patients must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, base config.Config, cfg SimConfig) (*DataPool, error) {
	providers, err := directory.NewFileDirectory(base.ProvidersFile).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load providers: %w", err)
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no providers in %s, run seed first", base.ProvidersFile)
	}

	dp := &DataPool{Patients: cfg.PatientLimit}
	for i, p := range providers {
		if i == cfg.ProviderLimit {
			break
		}
		dp.Providers = append(dp.Providers, p.ID)
	}

	first := calendar.DateOf(time.Now()).AddDays(1)
	if base.MinBookableDate.After(first) {
		first = base.MinBookableDate
	}
	for d := 0; d < cfg.Days; d++ {
		dp.Dates = append(dp.Dates, first.AddDays(d))
	}
	for _, c := range base.Hours.Starts() {
		if !base.Hours.IsBreakTime(c) {
			dp.Times = append(dp.Times, c)
		}
	}
	return dp, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info("starting simulation", zap.Duration("duration", s.config.Duration), zap.Int("workers", s.config.Workers))

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	c := s.config

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < c.BookingRatio:
				s.doBooking(ctx, rng)
			case r < c.BookingRatio+c.RespondRatio:
				s.doRespond(ctx, rng)
			case r < c.BookingRatio+c.RespondRatio+c.RescheduleRatio:
				s.doReschedule(ctx, rng)
			case r < c.BookingRatio+c.RespondRatio+c.RescheduleRatio+c.CancelRatio:
				s.doCancel(ctx, rng)
			default:
				switch rng.Intn(3) {
				case 0:
					s.doReadByID(ctx, rng)
				case 1:
					s.doListByPatient(ctx, rng)
				case 2:
					s.doSlots(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) randomSlot(rng *rand.Rand) (string, calendar.Date, calendar.Clock) {
	return s.pool.Providers[rng.Intn(len(s.pool.Providers))],
		s.pool.Dates[rng.Intn(len(s.pool.Dates))],
		s.pool.Times[rng.Intn(len(s.pool.Times))]
}

// call sends one request and classifies the result: 2xx is a success,
// 409 a conflict, anything else an error.
func (s *Simulator) call(ctx context.Context, method, path string, body any, out any) (time.Duration, bool, bool) {
	var payload *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		payload = bytes.NewReader(raw)
	} else {
		payload = bytes.NewReader(nil)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, payload)
	if err != nil {
		return 0, false, false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return latency, false, false
	}
	defer resp.Body.Close()

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	if success && out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return latency, success, resp.StatusCode == http.StatusConflict
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	provider, date, at := s.randomSlot(rng)
	var created api.AppointmentResponse
	latency, ok, conflict := s.call(ctx, http.MethodPost, "/appointments", api.CreateAppointmentRequest{
		PatientID:  rng.Intn(s.pool.Patients) + 1,
		ProviderID: provider,
		Date:       date.String(),
		Time:       at.String(),
	}, &created)
	if ok && created.ID != "" {
		s.pool.AddAppointment(created.ID)
	}
	s.metrics.Booking.Record(latency, ok, conflict)
}

func (s *Simulator) doRespond(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	accept := rng.Intn(4) != 0
	latency, success, conflict := s.call(ctx, http.MethodPost, "/appointments/"+id+"/respond", api.RespondRequest{Accept: &accept}, nil)
	s.metrics.Respond.Record(latency, success, conflict)
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	_, date, at := s.randomSlot(rng)
	latency, success, conflict := s.call(ctx, http.MethodPost, "/appointments/"+id+"/reschedule", api.RescheduleRequest{
		Date: date.String(),
		Time: at.String(),
	}, nil)
	s.metrics.Reschedule.Record(latency, success, conflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	latency, success, conflict := s.call(ctx, http.MethodPost, "/appointments/"+id+"/cancel", nil, nil)
	s.metrics.Cancel.Record(latency, success, conflict)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	latency, success, _ := s.call(ctx, http.MethodGet, "/appointments/"+id, nil, nil)
	s.metrics.ReadByID.Record(latency, success, false)
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	path := fmt.Sprintf("/appointments?patient_id=%d", rng.Intn(s.pool.Patients)+1)
	latency, success, _ := s.call(ctx, http.MethodGet, path, nil, nil)
	s.metrics.ListByPat.Record(latency, success, false)
}

func (s *Simulator) doSlots(ctx context.Context, rng *rand.Rand) {
	provider, date, _ := s.randomSlot(rng)
	path := fmt.Sprintf("/providers/%s/slots?date=%s", provider, date)
	latency, success, _ := s.call(ctx, http.MethodGet, path, nil, nil)
	s.metrics.Slots.Record(latency, success, false)
}

// VerifyNoDoubleBooking lists every provider's appointments and counts the
// slots that hold more than one active appointment.
func (s *Simulator) VerifyNoDoubleBooking(ctx context.Context) (int, error) {
	violations := 0
	for _, provider := range s.pool.Providers {
		var records []api.AppointmentResponse
		_, ok, _ := s.call(ctx, http.MethodGet, "/appointments?provider_id="+provider, nil, &records)
		if !ok {
			return 0, fmt.Errorf("list appointments for %s failed", provider)
		}

		active := make(map[string][]string)
		for _, r := range records {
			if r.Status == "Scheduled" || r.Status == "Confirmed" {
				key := r.Date + " " + r.Time
				active[key] = append(active[key], r.ID)
			}
		}
		for slot, ids := range active {
			if len(ids) > 1 {
				violations++
				s.log.Error("slot double booked",
					zap.String("provider", provider),
					zap.String("slot", slot),
					zap.Strings("ids", ids))
			}
		}
	}
	return violations, nil
}
func (s *Simulator) PrintReport(out io.Writer) {
	fmt.Fprintf(out, "\nsimulation: %s, %d workers, %d providers x %d days x %d slots\n\n",
		s.config.Duration, s.config.Workers, len(s.pool.Providers), len(s.pool.Dates), len(s.pool.Times))

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "operation\ttotal\tok\tconflict\terror\tmean\tp50\tp95\tmax\t")
	for _, row := range []struct {
		name  string
		stats *opStats
	}{
		{"book", &s.metrics.Booking},
		{"respond", &s.metrics.Respond},
		{"reschedule", &s.metrics.Reschedule},
		{"cancel", &s.metrics.Cancel},
		{"get", &s.metrics.ReadByID},
		{"list-patient", &s.metrics.ListByPat},
		{"slots", &s.metrics.Slots},
	} {
		sm := row.stats.summarize()
		if sm.total == 0 {
			continue
		}
		ms := func(d time.Duration) time.Duration { return d.Round(time.Millisecond) }
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\t%s\t%s\t%s\t\n",
			row.name, sm.total, sm.ok, sm.conflicts, sm.errors, ms(sm.mean), ms(sm.p50), ms(sm.p95), ms(sm.max))
	}
	_ = tw.Flush()
}
