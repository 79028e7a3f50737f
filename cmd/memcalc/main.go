// cmd/memcalc measures the in-memory footprint of a carestore holding a
// synthetic data set of the requested size.
//
// It fills a store with users, sessions, appointments, history records
// and queued emergencies shaped like the ones the web backend sends,
// then reports the estimated bytes per collection and per record.
//
// Usage: go run ./cmd/memcalc --users 100000 --appointments 500000
package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/spf13/pflag"

	"carestore/persist"
	"carestore/store"
)

var (
	users        = pflag.Int("users", 10_000, "registered users")
	sessions     = pflag.Int("sessions", 2_000, "active sessions")
	appointments = pflag.Int("appointments", 50_000, "appointments")
	history      = pflag.Int("history", 50_000, "medical history records")
	emergencies  = pflag.Int("emergencies", 500, "queued emergencies")
	buckets      = pflag.Int("session-buckets", 1024, "session hash buckets")
	seed         = pflag.Uint64("seed", 1, "random seed")
)

var diagnoses = []string{"influenza", "hypertension", "migraine", "fracture", "asthma", "dermatitis"}

func main() {
	pflag.Parse()
	rng := rand.New(rand.NewPCG(*seed, *seed))
	ctx := context.Background()

	start := time.Now()
	s := store.New(nil, *buckets, nil)
	for i := range *users {
		must(s.Register(ctx, fmt.Sprintf("user%07d@example.org", i), int64(i)))
	}
	for i := range *sessions {
		s.PutSession(fmt.Sprintf("%016x%016x", rng.Uint64(), rng.Uint64()), int64(i%max(*users, 1)))
	}
	// Appointment ids arrive shuffled, as from several booking clients;
	// sequential ids would turn the tree into a list.
	for _, i := range rng.Perm(*appointments) {
		when := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC).Add(time.Duration(i) * 15 * time.Minute)
		must(s.InsertAppointment(ctx, persist.Appointment{
			ID:       int64(i),
			UserID:   int64(rng.IntN(max(*users, 1))),
			DoctorID: int64(rng.IntN(200)),
			Time:     when.Format("2006-01-02T15:04"),
		}))
	}
	for _, i := range rng.Perm(*history) {
		payload := fmt.Sprintf("%d:%s:%s", rng.IntN(max(*users, 1)), diagnoses[rng.IntN(len(diagnoses))], "2024-06-01")
		must(s.InsertHistory(ctx, int64(i), payload))
	}
	for i := range *emergencies {
		s.PushEmergency(int64(rng.IntN(5)), fmt.Sprintf("patient-%d", i))
	}
	fillTime := time.Since(start)

	counts := map[string]int{
		"users":        *users,
		"sessions":     *sessions,
		"appointments": *appointments,
		"history":      *history,
		"emergency":    *emergencies,
	}

	fmt.Printf("carestore memory estimate (filled in %v)\n\n", fillTime.Round(time.Millisecond))
	fmt.Printf("%-14s %-6s %10s %12s %10s\n", "collection", "index", "records", "size", "per record")
	var total int64
	for _, m := range s.MemoryUsage() {
		total += m.Bytes
		per := "-"
		if n := counts[m.Collection]; n > 0 {
			per = fmt.Sprintf("%d B", m.Bytes/int64(n))
		}
		fmt.Printf("%-14s %-6s %10d %12s %10s\n", m.Collection, m.Structure, counts[m.Collection], humanBytes(m.Bytes), per)
	}
	fmt.Printf("%-14s %-6s %10s %12s\n", "total", "", "", humanBytes(total))
}

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "memcalc:", err)
		os.Exit(1)
	}
}

func humanBytes(b int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
