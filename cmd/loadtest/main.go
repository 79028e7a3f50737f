package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/pflag"

	"carestore/client"
	"carestore/config"
	"carestore/dispatch"
	"carestore/persist"
	"carestore/server"
	"carestore/store"
)

var (
	addr       = pflag.String("addr", "", "run against an existing server instead of an in-process one")
	gateway    = pflag.String("gateway", persist.BackendJournal, "gateway for the in-process server")
	goroutines = pflag.Int("goroutines", 10, "concurrent clients per scenario")
	perClient  = pflag.Int("ops", 50, "operations per client per scenario")
)

func main() {
	pflag.Parse()

	fmt.Println("carestore concurrency test")
	fmt.Println("==========================")

	target := *addr
	if target == "" {
		var shutdown func()
		target, shutdown = startServer()
		defer shutdown()
		fmt.Printf("Started in-process server on %s (gateway %s)\n\n", target, *gateway)
	}

	passed, failed := 0, 0
	for _, sc := range []struct {
		name string
		fn   func(string) bool
	}{
		{"Concurrent registers", scenarioRegisters},
		{"Sessions", scenarioSessions},
		{"Emergency queue", scenarioEmergency},
		{"Appointments", scenarioAppointments},
	} {
		if sc.fn(target) {
			passed++
		} else {
			failed++
		}
	}

	fmt.Printf("\n%d passed, %d failed\n", passed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func startServer() (addr string, shutdown func()) {
	tmpDir, err := os.MkdirTemp("", "loadtest-*")
	if err != nil {
		fatalf("create temp dir: %v", err)
	}

	gw, err := persist.Open(context.Background(), persist.Options{
		Backend: *gateway,
		DataDir: tmpDir,
		Fsync:   false,
	})
	if err != nil {
		os.RemoveAll(tmpDir)
		fatalf("open gateway: %v", err)
	}

	cfg := config.Default()
	cfg.Port = 0 // OS-assigned
	cfg.DataDir = tmpDir

	st := store.New(gw, cfg.SessionBuckets, nil)
	st.SetGatewayTimeout(cfg.GatewayTimeout)
	disp, err := dispatch.New(st, dispatch.Options{})
	if err != nil {
		fatalf("dispatcher: %v", err)
	}
	srv := server.New(cfg, disp, nil)

	go func() {
		if err := srv.ListenAndServe(); err != nil {
			fatalf("server: %v", err)
		}
	}()

	// Wait for the listener to be ready.
	for i := 0; i < 100; i++ {
		if a := srv.Addr(); a != nil {
			addr = a.String()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if addr == "" {
		gw.Close()
		os.RemoveAll(tmpDir)
		fatalf("server did not start within 1s")
	}

	shutdown = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		gw.Close()
		os.RemoveAll(tmpDir)
	}
	return addr, shutdown
}

func connect(addr string) *client.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, addr)
	if err != nil {
		fatalf("connect: %v", err)
	}
	return c
}

// forEachClient runs fn on *goroutines connections in parallel and
// returns how many calls to fn failed.
func forEachClient(addr string, fn func(g int, c *client.Client) error) int64 {
	var wg sync.WaitGroup
	var errCount atomic.Int64
	for g := 0; g < *goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := connect(addr)
			defer c.Close()
			if err := fn(g, c); err != nil {
				errCount.Add(1)
			}
		}()
	}
	wg.Wait()
	return errCount.Load()
}

func scenarioRegisters(addr string) bool {
	const name = "Concurrent registers"
	start := time.Now()
	ctx := context.Background()
	run := time.Now().UnixNano()

	errs := forEachClient(addr, func(g int, c *client.Client) error {
		for i := 0; i < *perClient; i++ {
			user := fmt.Sprintf("load-%d-%d-%d", run, g, i)
			id := strconv.Itoa(g*(*perClient) + i)
			if _, err := c.Do(ctx, dispatch.CmdRegister, user, id); err != nil {
				return err
			}
			got, err := c.Do(ctx, dispatch.CmdDoctorSearch, user)
			if err != nil {
				return err
			}
			if got[0] != id {
				return fmt.Errorf("DOCTOR_SEARCH %s = %s, want %s", user, got[0], id)
			}
		}
		return nil
	})
	if errs > 0 {
		return fail(name, "%d of %d clients failed", errs, *goroutines)
	}
	return pass(name,
		fmt.Sprintf("%d goroutines × %d register+search pairs", *goroutines, *perClient),
		time.Since(start))
}

func scenarioSessions(addr string) bool {
	const name = "Sessions"
	start := time.Now()
	ctx := context.Background()
	run := time.Now().UnixNano()

	errs := forEachClient(addr, func(g int, c *client.Client) error {
		for i := 0; i < *perClient; i++ {
			token := fmt.Sprintf("tok-%d-%d-%d", run, g, i)
			id := strconv.Itoa(i)
			if _, err := c.Do(ctx, dispatch.CmdSessionPut, token, id); err != nil {
				return err
			}
			got, err := c.Do(ctx, dispatch.CmdSessionGet, token)
			if err != nil {
				return err
			}
			if got[0] != id {
				return fmt.Errorf("SESSION_GET %s = %s, want %s", token, got[0], id)
			}
		}
		return nil
	})
	if errs > 0 {
		return fail(name, "%d of %d clients failed", errs, *goroutines)
	}
	return pass(name,
		fmt.Sprintf("%d goroutines × %d put+get pairs", *goroutines, *perClient),
		time.Since(start))
}

// scenarioEmergency pushes from every client at once, then pops from
// every client at once, and checks nothing was lost or popped twice.
func scenarioEmergency(addr string) bool {
	const name = "Emergency queue"
	start := time.Now()
	ctx := context.Background()

	c := connect(addr)
	defer c.Close()
	base, err := emergencySize(ctx, c)
	if err != nil {
		return fail(name, "EMG_SIZE: %v", err)
	}

	errs := forEachClient(addr, func(g int, c *client.Client) error {
		for i := 0; i < *perClient; i++ {
			if _, err := c.Do(ctx, dispatch.CmdEmgPush, strconv.Itoa(i%7), fmt.Sprintf("p-%d-%d", g, i)); err != nil {
				return err
			}
		}
		return nil
	})
	if errs > 0 {
		return fail(name, "%d push clients failed", errs)
	}
	total := *goroutines * *perClient
	if n, err := emergencySize(ctx, c); err != nil || n != base+total {
		return fail(name, "size after pushes = %d (%v), want %d", n, err, base+total)
	}

	var seen sync.Map
	var dup atomic.Int64
	errs = forEachClient(addr, func(g int, c *client.Client) error {
		for i := 0; i < *perClient; i++ {
			got, err := c.Do(ctx, dispatch.CmdEmgPop)
			if err != nil {
				return err
			}
			if len(got) == 2 && strings.HasPrefix(got[1], "p-") {
				if _, loaded := seen.LoadOrStore(got[1], true); loaded {
					dup.Add(1)
				}
			}
		}
		return nil
	})
	if errs > 0 {
		return fail(name, "%d pop clients failed", errs)
	}
	if d := dup.Load(); d > 0 {
		return fail(name, "%d entries popped twice", d)
	}
	if n, err := emergencySize(ctx, c); err != nil || n != base {
		return fail(name, "size after pops = %d (%v), want %d", n, err, base)
	}
	return pass(name, fmt.Sprintf("%d pushes and pops, no loss or duplicates", total), time.Since(start))
}

func emergencySize(ctx context.Context, c *client.Client) (int, error) {
	got, err := c.Do(ctx, dispatch.CmdEmgSize)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(got[0])
}

// scenarioAppointments gives each client its own user id and checks that
// listing returns exactly that client's appointments in id order.
func scenarioAppointments(addr string) bool {
	const name = "Appointments"
	start := time.Now()
	ctx := context.Background()
	base := time.Now().UnixNano() % 1_000_000 * 1_000_000

	errs := forEachClient(addr, func(g int, c *client.Client) error {
		uid := strconv.FormatInt(base+int64(g), 10)
		for i := 0; i < *perClient; i++ {
			aid := strconv.FormatInt(base+int64(g*(*perClient)+i), 10)
			if _, err := c.Do(ctx, dispatch.CmdApptInsert, aid, uid, "1", "slot-"+strconv.Itoa(i)); err != nil {
				return err
			}
		}
		got, err := c.Do(ctx, dispatch.CmdApptListByUser, uid)
		if err != nil {
			return err
		}
		items := strings.Split(got[0], ",")
		if len(items) != *perClient {
			return fmt.Errorf("user %s has %d appointments, want %d", uid, len(items), *perClient)
		}
		for i, item := range items {
			if !strings.HasSuffix(item, ":1:slot-"+strconv.Itoa(i)) {
				return fmt.Errorf("user %s item %d = %q", uid, i, item)
			}
		}
		return nil
	})
	if errs > 0 {
		return fail(name, "%d of %d clients failed", errs, *goroutines)
	}
	return pass(name,
		fmt.Sprintf("%d goroutines × %d inserts, lists ordered and complete", *goroutines, *perClient),
		time.Since(start))
}

func pass(name, detail string, d time.Duration) bool {
	fmt.Printf("[PASS] %s: %s (%dms)\n", name, detail, d.Milliseconds())
	return true
}

func fail(name, format string, args ...any) bool {
	fmt.Printf("[FAIL] %s: %s\n", name, fmt.Sprintf(format, args...))
	return false
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "fatal: "+format+"\n", args...)
	os.Exit(2)
}
