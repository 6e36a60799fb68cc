package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/hospital-scheduling/internal/config"
	"github.com/hackgods/hospital-scheduling/internal/db"
	"github.com/hackgods/hospital-scheduling/internal/logging"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	BookingRatio    float64
	CancelRatio     float64
	RescheduleRatio float64
	WalkInRatio     float64
	ReadRatio       float64
	PatientLimit    int
	SlotLimit       int
}

type op int

const (
	opBook op = iota
	opCancel
	opReschedule
	opWalkIn
	opReadBooking
	opListPatient
	opListAvailable
	opListWalkIns
	opCount
)

var opNames = [opCount]string{
	"Book", "Cancel", "Reschedule", "Walk-in",
	"Read booking", "List by patient", "List available", "List walk-ins",
}

// DataPool holds the ids workers pick from. Bookings created during the run
// are appended so cancel and reschedule have targets.
type DataPool struct {
	Patients   []uuid.UUID
	Clinicians []uuid.UUID
	Slots      []uuid.UUID

	mu       sync.RWMutex
	bookings []uuid.UUID
}

func (dp *DataPool) AddBooking(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, id)
}

func (dp *DataPool) RandomBooking(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.bookings) == 0 {
		return uuid.Nil, false
	}
	return dp.bookings[rng.Intn(len(dp.bookings))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Busy      int64
	Error     int64
	mu        sync.Mutex
	Latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err != nil:
		atomic.AddInt64(&om.Error, 1)
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case status == http.StatusServiceUnavailable || status == http.StatusTooManyRequests:
		atomic.AddInt64(&om.Busy, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Percentiles() (p50, p95, p99, worst time.Duration) {
	om.mu.Lock()
	latencies := slices.Clone(om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	slices.Sort(latencies)

	at := func(pct int) time.Duration {
		return latencies[min(len(latencies)*pct/100, len(latencies)-1)]
	}
	return at(50), at(95), at(99), latencies[len(latencies)-1]
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	logger  *zap.Logger
	metrics [opCount]OperationMetrics
	weights [opCount]float64
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(baseCfg.LogLevel, "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg := loadSimConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal("invalid simulation config", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN, baseCfg.DBMaxConns, baseCfg.DBMinConns)
	if err != nil {
		cancel()
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	cancel()
	if err != nil {
		logger.Fatal("load data pool", zap.Error(err))
	}
	logger.Info("data pool loaded",
		zap.Int("patients", len(dataPool.Patients)),
		zap.Int("clinicians", len(dataPool.Clinicians)),
		zap.Int("slots", len(dataPool.Slots)),
	)

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
	sim.weights = [opCount]float64{
		opBook:       cfg.BookingRatio,
		opCancel:     cfg.CancelRatio,
		opReschedule: cfg.RescheduleRatio,
		opWalkIn:     cfg.WalkInRatio,
	}
	for o := opReadBooking; o < opCount; o++ {
		sim.weights[o] = cfg.ReadRatio / float64(opCount-opReadBooking)
	}

	if err := sim.Run(context.Background()); err != nil {
		logger.Error("simulation aborted", zap.Error(err))
	}
	sim.PrintReport(os.Stdout)

	checkCtx, cancelCheck := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelCheck()
	if err := checkInvariants(checkCtx, pgPool, os.Stdout); err != nil {
		logger.Error("invariant check failed", zap.Error(err))
		os.Exit(2)
	}
}

func loadSimConfig() SimConfig {
	v := viper.New()
	v.SetEnvPrefix("SIM")
	v.AutomaticEnv()

	v.SetDefault("API_BASE_URL", "http://localhost:8080")
	v.SetDefault("DURATION", "30s")
	v.SetDefault("WORKERS", 10)
	v.SetDefault("BOOKING_RATIO", 0.4)
	v.SetDefault("CANCEL_RATIO", 0.1)
	v.SetDefault("RESCHEDULE_RATIO", 0.1)
	v.SetDefault("WALK_IN_RATIO", 0.05)
	v.SetDefault("READ_RATIO", 0.35)
	v.SetDefault("PATIENT_LIMIT", 4000)
	v.SetDefault("SLOT_LIMIT", 2400)

	cfg := SimConfig{
		APIBaseURL:      strings.TrimRight(v.GetString("API_BASE_URL"), "/"),
		Duration:        v.GetDuration("DURATION"),
		Workers:         v.GetInt("WORKERS"),
		BookingRatio:    v.GetFloat64("BOOKING_RATIO"),
		CancelRatio:     v.GetFloat64("CANCEL_RATIO"),
		RescheduleRatio: v.GetFloat64("RESCHEDULE_RATIO"),
		WalkInRatio:     v.GetFloat64("WALK_IN_RATIO"),
		ReadRatio:       v.GetFloat64("READ_RATIO"),
		PatientLimit:    v.GetInt("PATIENT_LIMIT"),
		SlotLimit:       v.GetInt("SLOT_LIMIT"),
	}

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.RescheduleRatio + cfg.WalkInRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.RescheduleRatio /= total
		cfg.WalkInRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	patients, err := loadIDs(ctx, pool, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	clinicians, err := loadIDs(ctx, pool, `SELECT id FROM clinicians`)
	if err != nil {
		return nil, fmt.Errorf("load clinicians: %w", err)
	}
	slots, err := loadIDs(ctx, pool, `
		SELECT id FROM slots
		WHERE status = 'available' AND start_time > now()
		ORDER BY random()
		LIMIT $1
	`, cfg.SlotLimit)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}

	if len(patients) == 0 || len(clinicians) == 0 || len(slots) == 0 {
		return nil, fmt.Errorf("nothing to simulate against (patients=%d clinicians=%d slots=%d), run cmd/seed first",
			len(patients), len(clinicians), len(slots))
	}
	return &DataPool{Patients: patients, Clinicians: clinicians, Slots: slots}, nil
}

func (s *Simulator) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.Duration)
	defer cancel()

	s.logger.Info("starting simulation",
		zap.Duration("duration", s.config.Duration),
		zap.Int("workers", s.config.Workers),
	)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.config.Workers; i++ {
		g.Go(func() error {
			s.worker(ctx, i)
			return nil
		})
	}
	err := g.Wait()

	s.logger.Info("simulation complete")
	return err
}

func (s *Simulator) pick(rng *rand.Rand) op {
	r := rng.Float64()
	for o := op(0); o < opCount; o++ {
		if r < s.weights[o] {
			return o
		}
		r -= s.weights[o]
	}
	return opListAvailable
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	// each worker acts as one gateway-authenticated staff member
	actorID := uuid.New()

	for ctx.Err() == nil {
		o := s.pick(rng)
		method, path, body, ok := s.request(o, rng)
		if !ok {
			continue
		}

		start := time.Now()
		status, respBody, err := s.send(ctx, method, path, body, actorID)
		if ctx.Err() != nil {
			return
		}
		s.metrics[o].Record(time.Since(start), status, err)

		if err == nil && status == http.StatusCreated && (o == opBook || o == opReschedule || o == opWalkIn) {
			var created struct {
				ID uuid.UUID `json:"id"`
			}
			if json.Unmarshal(respBody, &created) == nil && created.ID != uuid.Nil {
				s.pool.AddBooking(created.ID)
			}
		}
	}
}

func (s *Simulator) request(o op, rng *rand.Rand) (method, path string, body any, ok bool) {
	pool := s.pool
	patient := pool.Patients[rng.Intn(len(pool.Patients))]
	clinician := pool.Clinicians[rng.Intn(len(pool.Clinicians))]
	slot := pool.Slots[rng.Intn(len(pool.Slots))]

	switch o {
	case opBook:
		return http.MethodPost, "/bookings", map[string]string{
			"slot_id":          slot.String(),
			"patient_id":       patient.String(),
			"reason_for_visit": "simulated visit",
		}, true
	case opWalkIn:
		return http.MethodPost, "/walk-ins", map[string]string{
			"patient_id":   patient.String(),
			"clinician_id": clinician.String(),
		}, true
	case opListAvailable:
		return http.MethodGet, "/clinicians/" + clinician.String() + "/slots/available", nil, true
	case opListPatient:
		return http.MethodGet, "/patients/" + patient.String() + "/bookings?limit=20", nil, true
	case opListWalkIns:
		return http.MethodGet, "/walk-ins?date=" + time.Now().Format("2006-01-02"), nil, true
	}

	booking, found := pool.RandomBooking(rng)
	if !found {
		return "", "", nil, false
	}
	switch o {
	case opCancel:
		return http.MethodPost, "/bookings/" + booking.String() + "/cancel", nil, true
	case opReschedule:
		return http.MethodPost, "/bookings/" + booking.String() + "/reschedule", map[string]string{
			"new_slot_id": slot.String(),
		}, true
	default:
		return http.MethodGet, "/bookings/" + booking.String(), nil, true
	}
}

func (s *Simulator) send(ctx context.Context, method, path string, body any, actorID uuid.UUID) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", actorID.String())
	req.Header.Set("X-Actor-Role", "staff")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	return resp.StatusCode, respBody, err
}

func (s *Simulator) PrintReport(w io.Writer) {
	rule := strings.Repeat("=", 80)
	fmt.Fprintf(w, "\n%s\nSIMULATION REPORT\n%s\n", rule, rule)
	fmt.Fprintf(w, "Duration: %s\nWorkers: %d\n\n", s.config.Duration, s.config.Workers)

	for o := op(0); o < opCount; o++ {
		om := &s.metrics[o]
		total := atomic.LoadInt64(&om.Total)
		if total == 0 {
			continue
		}
		pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }

		success := atomic.LoadInt64(&om.Success)
		conflict := atomic.LoadInt64(&om.Conflict)
		busy := atomic.LoadInt64(&om.Busy)
		failed := atomic.LoadInt64(&om.Error)
		p50, p95, p99, worst := om.Percentiles()

		fmt.Fprintf(w, "%s:\n", opNames[o])
		fmt.Fprintf(w, "  Total: %d  Success: %d (%.1f%%)", total, success, pct(success))
		if conflict > 0 {
			fmt.Fprintf(w, "  Conflict: %d (%.1f%%)", conflict, pct(conflict))
		}
		if busy > 0 {
			fmt.Fprintf(w, "  Busy: %d (%.1f%%)", busy, pct(busy))
		}
		if failed > 0 {
			fmt.Fprintf(w, "  Errors: %d (%.1f%%)", failed, pct(failed))
		}
		fmt.Fprintf(w, "\n  Latency: p50=%s p95=%s p99=%s max=%s\n\n",
			p50.Round(time.Millisecond), p95.Round(time.Millisecond),
			p99.Round(time.Millisecond), worst.Round(time.Millisecond))
	}
}

// invariantQueries each count rows that must not exist.
var invariantQueries = []struct {
	name  string
	query string
}{
	{"slots with more than one live booking", `
		SELECT count(*) FROM (
			SELECT slot_id FROM bookings
			WHERE status IN ('pending', 'confirmed')
			GROUP BY slot_id HAVING count(*) > 1
		) dup`},
	{"overlapping regular slots", `
		SELECT count(*) FROM slots a
		JOIN slots b ON a.clinician_id = b.clinician_id AND a.id < b.id
		WHERE NOT a.emergency AND NOT b.emergency
		  AND tstzrange(a.start_time, a.end_time, '[)') && tstzrange(b.start_time, b.end_time, '[)')`},
	{"booked slots without a booking", `
		SELECT count(*) FROM slots s
		WHERE s.status = 'booked'
		  AND NOT EXISTS (SELECT 1 FROM bookings b WHERE b.slot_id = s.id)`},
	{"live bookings on unbooked slots", `
		SELECT count(*) FROM bookings b
		JOIN slots s ON s.id = b.slot_id
		WHERE b.status IN ('pending', 'confirmed') AND s.status <> 'booked'`},
	{"patients with more than one active walk-in", `
		SELECT count(*) FROM (
			SELECT patient_id FROM bookings
			WHERE is_walk_in AND status IN ('pending', 'confirmed')
			GROUP BY patient_id HAVING count(*) > 1
		) dup`},
}

func checkInvariants(ctx context.Context, pool *pgxpool.Pool, w io.Writer) error {
	fmt.Fprintln(w, "INVARIANTS")
	violated := 0
	for _, inv := range invariantQueries {
		var n int64
		if err := pool.QueryRow(ctx, inv.query).Scan(&n); err != nil {
			return fmt.Errorf("%s: %w", inv.name, err)
		}
		mark := "ok"
		if n > 0 {
			mark = "VIOLATED"
			violated++
		}
		fmt.Fprintf(w, "  %-45s %d %s\n", inv.name+":", n, mark)
	}
	if violated > 0 {
		return fmt.Errorf("%d invariant(s) violated", violated)
	}
	return nil
}
