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
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/citycare/scheduling-core/internal/db"
)

// The simulator hammers the booking API with concurrent workers and then
// verifies the core invariants directly in Postgres: at most one active
// booking per slot, and no overlapping available/booked slots per clinician.

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	CancelRatio  float64
	PatientLimit int
	SlotLimit    int
	PostgresDSN  string
}

type DataPool struct {
	Patients []uuid.UUID
	Slots    []uuid.UUID

	mu       sync.RWMutex
	bookings []uuid.UUID
}

func (dp *DataPool) AddBooking(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, id)
}

func (dp *DataPool) RandomBooking() (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.bookings) == 0 {
		return uuid.Nil, false
	}
	return dp.bookings[rand.Intn(len(dp.bookings))], true
}

type Metrics struct {
	Booked    int64
	Cancelled int64
	Conflicts int64
	Errors    int64
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
	log.Printf("loaded: %d patients, %d available slots", len(pool.Patients), len(pool.Slots))

	var metrics Metrics
	client := &http.Client{Timeout: 10 * time.Second}

	deadline := time.Now().Add(cfg.Duration)
	var wg sync.WaitGroup
	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				if rand.Float64() < cfg.CancelRatio {
					cancelRandomBooking(client, cfg, pool, &metrics)
				} else {
					bookRandomSlot(client, cfg, pool, &metrics)
				}
			}
		}()
	}
	wg.Wait()

	log.Printf("simulation done: booked=%d cancelled=%d conflicts=%d errors=%d",
		atomic.LoadInt64(&metrics.Booked),
		atomic.LoadInt64(&metrics.Cancelled),
		atomic.LoadInt64(&metrics.Conflicts),
		atomic.LoadInt64(&metrics.Errors),
	)

	if err := verifyInvariants(context.Background(), pgPool); err != nil {
		log.Fatalf("INVARIANT VIOLATION: %v", err)
	}
	log.Println("invariants hold")
}

func bookRandomSlot(client *http.Client, cfg SimConfig, pool *DataPool, m *Metrics) {
	patientID := pool.Patients[rand.Intn(len(pool.Patients))]
	slotID := pool.Slots[rand.Intn(len(pool.Slots))]

	body, _ := json.Marshal(map[string]string{
		"patient_id": patientID.String(),
		"slot_id":    slotID.String(),
		"reason":     "simulated visit",
	})

	resp, err := client.Post(cfg.APIBaseURL+"/bookings", "application/json", bytes.NewReader(body))
	if err != nil {
		atomic.AddInt64(&m.Errors, 1)
		return
	}
	defer drainAndClose(resp)

	switch resp.StatusCode {
	case http.StatusCreated:
		var created struct {
			ID uuid.UUID `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&created); err == nil {
			pool.AddBooking(created.ID)
		}
		atomic.AddInt64(&m.Booked, 1)
	case http.StatusConflict:
		atomic.AddInt64(&m.Conflicts, 1)
	default:
		atomic.AddInt64(&m.Errors, 1)
	}
}

func cancelRandomBooking(client *http.Client, cfg SimConfig, pool *DataPool, m *Metrics) {
	bookingID, ok := pool.RandomBooking()
	if !ok {
		return
	}

	body, _ := json.Marshal(map[string]string{"reason": "simulated cancellation"})
	resp, err := client.Post(cfg.APIBaseURL+"/bookings/"+bookingID.String()+"/cancel", "application/json", bytes.NewReader(body))
	if err != nil {
		atomic.AddInt64(&m.Errors, 1)
		return
	}
	defer drainAndClose(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		atomic.AddInt64(&m.Cancelled, 1)
	case http.StatusConflict, http.StatusNotFound:
		atomic.AddInt64(&m.Conflicts, 1)
	default:
		atomic.AddInt64(&m.Errors, 1)
	}
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dp := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dp.Patients = append(dp.Patients, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slotRows, err := pool.Query(ctx, `SELECT id FROM slots WHERE status = 'available' LIMIT $1`, cfg.SlotLimit)
	if err != nil {
		return nil, err
	}
	defer slotRows.Close()
	for slotRows.Next() {
		var id uuid.UUID
		if err := slotRows.Scan(&id); err != nil {
			return nil, err
		}
		dp.Slots = append(dp.Slots, id)
	}
	if err := slotRows.Err(); err != nil {
		return nil, err
	}

	if len(dp.Patients) == 0 || len(dp.Slots) == 0 {
		return nil, fmt.Errorf("no patients or slots found, run the seed command first")
	}

	return dp, nil
}

func verifyInvariants(ctx context.Context, pool *pgxpool.Pool) error {
	var doubleBooked int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM (
			SELECT slot_id
			FROM bookings
			WHERE status <> 'cancelled'
			GROUP BY slot_id
			HAVING count(*) > 1
		) dup
	`).Scan(&doubleBooked)
	if err != nil {
		return err
	}
	if doubleBooked > 0 {
		return fmt.Errorf("%d slots carry more than one active booking", doubleBooked)
	}

	var overlapping int
	err = pool.QueryRow(ctx, `
		SELECT count(*)
		FROM slots a
		JOIN slots b
		  ON a.clinician_id = b.clinician_id
		 AND a.id < b.id
		 AND a.start_time < b.end_time
		 AND b.start_time < a.end_time
		WHERE a.status IN ('available', 'booked')
		  AND b.status IN ('available', 'booked')
	`).Scan(&overlapping)
	if err != nil {
		return err
	}
	if overlapping > 0 {
		return fmt.Errorf("%d overlapping slot pairs", overlapping)
	}

	return nil
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func loadSimConfig() SimConfig {
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	return SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.2),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 2000),
		SlotLimit:    getInt("SIM_SLOT_LIMIT", 2000),
		PostgresDSN:  dsn,
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
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
