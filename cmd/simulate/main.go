package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medsched/clinic-scheduling/internal/config"
	"github.com/medsched/clinic-scheduling/internal/db"
)

// The simulator races many workers at the same providers' open slots and
// then checks the store: every slot must have at most one winner, and no
// provider may end up with overlapping non-cancelled appointments.

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	ProviderLimit int
	PatientLimit  int
	SlotDuration  int
	PostgresDSN   string
}

type DataPool struct {
	Providers []uuid.UUID
	Locations []uuid.UUID
	Patients  []uuid.UUID
	Slots     []slotTarget
}

type slotTarget struct {
	ProviderID uuid.UUID
	Start      time.Time
}

type OperationMetrics struct {
	Total    int64
	Success  int64
	Conflict int64
	Error    int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.latencies))
	copy(latencies, om.latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[len(latencies)*50/100]
	p95Idx := len(latencies) * 95 / 100
	if p95Idx >= len(latencies) {
		p95Idx = len(latencies) - 1
	}
	p95 = latencies[p95Idx]
	return avg, min, max, p50, p95
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	booking OperationMetrics
	slots   OperationMetrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadSimConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	pool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}
	log.Printf("loaded: %d providers, %d locations, %d patients, %d contested slots",
		len(pool.Providers), len(pool.Locations), len(pool.Patients), len(pool.Slots))

	sim := &Simulator{
		config: cfg,
		pool:   pool,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	sim.Run()
	sim.PrintReport()

	if err := verifyNoOverlaps(context.Background(), pgPool); err != nil {
		log.Fatalf("INVARIANT VIOLATION: %v", err)
	}
	log.Println("no-overlap invariant holds after the race")
}

func loadSimConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	return SimConfig{
		APIBaseURL:    getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 20),
		ProviderLimit: getInt("SIM_PROVIDER_LIMIT", 5),
		PatientLimit:  getInt("SIM_PATIENT_LIMIT", 2000),
		SlotDuration:  getInt("SIM_SLOT_DURATION", 30),
		PostgresDSN:   baseCfg.PostgresDSN,
	}
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dp := &DataPool{}

	if err := loadIDs(ctx, pool, `SELECT id FROM providers WHERE active LIMIT $1`, cfg.ProviderLimit, &dp.Providers); err != nil {
		return nil, fmt.Errorf("load providers: %w", err)
	}
	if err := loadIDs(ctx, pool, `SELECT id FROM locations WHERE active LIMIT $1`, 50, &dp.Locations); err != nil {
		return nil, fmt.Errorf("load locations: %w", err)
	}
	if err := loadIDs(ctx, pool, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit, &dp.Patients); err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}

	if len(dp.Providers) == 0 || len(dp.Locations) == 0 || len(dp.Patients) == 0 {
		return nil, fmt.Errorf("insufficient seed data, run cmd/seed first")
	}

	// A small contested pool of tomorrow-morning slots so workers collide.
	tomorrow := time.Now().UTC().AddDate(0, 0, 1).Truncate(24 * time.Hour)
	for _, providerID := range dp.Providers {
		for i := 0; i < 6; i++ {
			dp.Slots = append(dp.Slots, slotTarget{
				ProviderID: providerID,
				Start:      tomorrow.Add(9*time.Hour + time.Duration(i*cfg.SlotDuration)*time.Minute),
			})
		}
	}

	return dp, nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, query string, limit int, out *[]uuid.UUID) error {
	rows, err := pool.Query(ctx, query, limit)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return err
		}
		*out = append(*out, id)
	}
	return rows.Err()
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("racing %d workers for %s over %d contested slots",
		s.config.Workers, s.config.Duration, len(s.pool.Slots))

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if rng.Float64() < 0.8 {
				s.doBooking(ctx, rng)
			} else {
				s.doSlotQuery(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	target := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	locationID := s.pool.Locations[rng.Intn(len(s.pool.Locations))]

	reqBody := map[string]any{
		"provider_id":      target.ProviderID.String(),
		"location_id":      locationID.String(),
		"patient_id":       patientID.String(),
		"start":            target.Start.Format(time.RFC3339),
		"duration_minutes": s.config.SlotDuration,
		"type":             "in_person",
	}
	body, _ := json.Marshal(reqBody)

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		s.booking.Record(latency, false, false)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	s.booking.Record(latency, resp.StatusCode == http.StatusCreated, resp.StatusCode == http.StatusConflict)
}

func (s *Simulator) doSlotQuery(ctx context.Context, rng *rand.Rand) {
	target := s.pool.Slots[rng.Intn(len(s.pool.Slots))]

	url := fmt.Sprintf("%s/appointments/slots?provider_id=%s&date=%s&duration_minutes=%d",
		s.config.APIBaseURL, target.ProviderID, target.Start.Format("2006-01-02"), s.config.SlotDuration)

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		s.slots.Record(latency, false, false)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	s.slots.Record(latency, resp.StatusCode == http.StatusOK, false)
}

func (s *Simulator) PrintReport() {
	printMetrics("booking", &s.booking)
	printMetrics("slot query", &s.slots)

	total := atomic.LoadInt64(&s.booking.Total)
	success := atomic.LoadInt64(&s.booking.Success)
	conflict := atomic.LoadInt64(&s.booking.Conflict)
	if total > 0 {
		log.Printf("booking outcome: %d attempts, %d winners, %d conflicts (contested slots: %d)",
			total, success, conflict, len(s.pool.Slots))
	}
}

func printMetrics(name string, om *OperationMetrics) {
	avg, min, max, p50, p95 := om.Stats()
	log.Printf("%-12s total=%d success=%d conflict=%d error=%d avg=%s min=%s max=%s p50=%s p95=%s",
		name,
		atomic.LoadInt64(&om.Total),
		atomic.LoadInt64(&om.Success),
		atomic.LoadInt64(&om.Conflict),
		atomic.LoadInt64(&om.Error),
		avg, min, max, p50, p95)
}

// verifyNoOverlaps asserts in the store that no provider has two
// overlapping non-cancelled appointments.
func verifyNoOverlaps(ctx context.Context, pool *pgxpool.Pool) error {
	var count int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments a
		JOIN appointments b
		  ON a.provider_id = b.provider_id
		 AND a.id < b.id
		 AND a.status <> 'cancelled'
		 AND b.status <> 'cancelled'
		 AND a.start_at < b.start_at + make_interval(mins => b.duration_minutes)
		 AND b.start_at < a.start_at + make_interval(mins => a.duration_minutes)
	`).Scan(&count)
	if err != nil {
		return fmt.Errorf("overlap audit query: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%d overlapping appointment pairs found", count)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
