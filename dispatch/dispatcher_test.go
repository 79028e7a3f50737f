package dispatch

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"carestore/persist"
	"carestore/store"
	"carestore/version"
	"carestore/wire"
)

func newTestDispatcher(t *testing.T, gw persist.Gateway) *Dispatcher {
	t.Helper()
	d, err := New(store.New(gw, 0, nil), Options{Version: "carestore test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

// run sends each request in order and checks the response lines.
func run(t *testing.T, d *Dispatcher, steps [][2]string) {
	t.Helper()
	ctx := context.Background()
	for _, step := range steps {
		if got := d.Dispatch(ctx, step[0]); got != step[1] {
			t.Errorf("Dispatch(%q) = %q, want %q", step[0], got, step[1])
		}
	}
}

func TestDispatch_Users(t *testing.T) {
	run(t, newTestDispatcher(t, nil), [][2]string{
		{"REGISTER|alice|7", "OK|inserted"},
		{"DOCTOR_SEARCH|alice", "OK|7"},
		{"DOCTOR_SEARCH|bob", "OK|NOT_FOUND"},
		{"REGISTER|alice|9", "OK|inserted"},
		{"DOCTOR_SEARCH|alice", "OK|9"},
		{`REGISTER|dr\|who|3`, "OK|inserted"},
		{`DOCTOR_SEARCH|dr\|who`, "OK|3"},
	})
}

func TestDispatch_Sessions(t *testing.T) {
	run(t, newTestDispatcher(t, nil), [][2]string{
		{"SESSION_GET|tok", "OK|-1"},
		{"SESSION_PUT|tok|5", "OK|session_set"},
		{"SESSION_GET|tok", "OK|5"},
		{"SESSION_PUT|tok|6", "OK|session_set"},
		{"SESSION_GET|tok", "OK|6"},
	})
}

func TestDispatch_Appointments(t *testing.T) {
	run(t, newTestDispatcher(t, nil), [][2]string{
		{"APPT_LIST_BY_USER|5", "OK|"},
		{"APPT_INSERT|2|5|3|2024-01-02T11:00", "OK|inserted"},
		{"APPT_INSERT|1|5|9|2024-01-01T10:00", "OK|inserted"},
		{"APPT_INSERT|3|6|9|2024-01-03T10:00", "OK|inserted"},
		{"APPT_LIST_BY_USER|5", "OK|1:9:2024-01-01T10:00,2:3:2024-01-02T11:00"},
		{"APPT_LIST_BY_USER|6", "OK|3:9:2024-01-03T10:00"},
		{"APPT_INSERT|1|6|4|later", "OK|inserted"},
		{"APPT_LIST_BY_USER|5", "OK|2:3:2024-01-02T11:00"},
	})
}

func TestDispatch_Emergency(t *testing.T) {
	run(t, newTestDispatcher(t, nil), [][2]string{
		{"EMG_POP", "OK|EMPTY"},
		{"EMG_PUSH|3|c", "OK|pushed"},
		{"EMG_PUSH|1|b", "OK|pushed"},
		{"EMG_PUSH|1|a", "OK|pushed"},
		{"EMG_SIZE", "OK|3"},
		{"EMG_POP", "OK|1|a"},
		{"EMG_POP", "OK|1|b"},
		{"EMG_POP", "OK|3|c"},
		{"EMG_POP", "OK|EMPTY"},
		{"EMG_SIZE", "OK|0"},
		{"EMG_PUSH|-4|neg", "OK|pushed"},
		{"EMG_POP", "OK|-4|neg"},
	})
}

func TestDispatch_History(t *testing.T) {
	run(t, newTestDispatcher(t, nil), [][2]string{
		{"HISTORY_INSERT|2|5:flu:2024-01-01", "OK|inserted"},
		{"HISTORY_INSERT|1|5:cold:2023-12-01", "OK|inserted"},
		{"HISTORY_INSERT|3|6:sprain:2024-02-01", "OK|inserted"},
		{"HISTORY_LIST_BY_USER|5", "OK|1:cold:2023-12-01,2:flu:2024-01-01"},
		{"HISTORY_LIST_BY_USER|7", "OK|"},
	})
}

func TestDispatch_Misc(t *testing.T) {
	run(t, newTestDispatcher(t, nil), [][2]string{
		{"PING", "OK|PONG"},
		{"VERSION", "OK|carestore test"},
		{"REGISTER|a|1", "OK|inserted"},
		{"SESSION_PUT|t|1", "OK|session_set"},
		{"EMG_PUSH|1|x", "OK|pushed"},
		{"STATS", "OK|users|1|sessions|1|appointments|0|history|0|emergency|1"},
	})
}

func TestDispatch_Memory(t *testing.T) {
	d := newTestDispatcher(t, nil)
	fields := wire.Decode(d.Dispatch(context.Background(), "MEMORY"))

	wantKeys := []string{"users", "sessions", "appointments", "history", "emergency", "total"}
	if len(fields) != 1+2*len(wantKeys) || fields[0] != "OK" {
		t.Fatalf("MEMORY = %q", fields)
	}
	var sum, total int64
	for i, key := range wantKeys {
		if fields[1+2*i] != key {
			t.Errorf("field %d = %q, want %q", 1+2*i, fields[1+2*i], key)
		}
		n, err := strconv.ParseInt(fields[2+2*i], 10, 64)
		if err != nil || n <= 0 {
			t.Errorf("%s bytes = %q, want a positive integer", key, fields[2+2*i])
		}
		if key == "total" {
			total = n
		} else {
			sum += n
		}
	}
	if sum != total {
		t.Errorf("total = %d, want sum of collections %d", total, sum)
	}
}

func TestDispatch_Errors(t *testing.T) {
	run(t, newTestDispatcher(t, nil), [][2]string{
		{"", "ERR|empty"},
		{"NOPE|1", "ERR|unknown command"},
		{"register|a|1", "ERR|unknown command"},
		{"REGISTER|alice", `ERR|usage: REGISTER\|username\|user_id`},
		{"REGISTER||1", `ERR|usage: REGISTER\|username\|user_id`},
		{"REGISTER|alice|abc", "ERR|invalid integer"},
		{"REGISTER|alice| 7", "ERR|invalid integer"},
		{"REGISTER|alice|7x", "ERR|invalid integer"},
		{"REGISTER|alice|99999999999999999999", "ERR|invalid integer"},
		{"SESSION_PUT|tok", `ERR|usage: SESSION_PUT\|token\|user_id`},
		{"SESSION_GET", `ERR|usage: SESSION_GET\|token`},
		{"APPT_INSERT|1|2|3", `ERR|usage: APPT_INSERT\|aid\|uid\|did\|time`},
		{"APPT_INSERT|1|x|3|t", "ERR|invalid integer"},
		{"APPT_LIST_BY_USER", `ERR|usage: APPT_LIST_BY_USER\|user_id`},
		{"EMG_PUSH|1", `ERR|usage: EMG_PUSH\|priority\|name`},
		{"EMG_PUSH|high|x", "ERR|invalid integer"},
		{"HISTORY_INSERT|1", `ERR|usage: HISTORY_INSERT\|record_id\|payload`},
		{"DOCTOR_SEARCH|", `ERR|usage: DOCTOR_SEARCH\|name`},
		// Rejected requests leave no trace.
		{"STATS", "OK|users|0|sessions|0|appointments|0|history|0|emergency|0"},
	})
}

func TestDispatch_ExtraArgumentsIgnored(t *testing.T) {
	run(t, newTestDispatcher(t, nil), [][2]string{
		{"REGISTER|alice|7|extra", "OK|inserted"},
		{"DOCTOR_SEARCH|alice|extra", "OK|7"},
	})
}

type failingGateway struct{ persist.Nop }

func (failingGateway) OnMutation(context.Context, persist.Mutation) error {
	return errors.New("disk full")
}

func TestDispatch_PersistenceFailure(t *testing.T) {
	run(t, newTestDispatcher(t, failingGateway{}), [][2]string{
		{"REGISTER|alice|7", "ERR|persistence failed"},
		{"DOCTOR_SEARCH|alice", "OK|NOT_FOUND"},
		{"APPT_INSERT|1|2|3|t", "ERR|persistence failed"},
		{"HISTORY_INSERT|1|2:x", "ERR|persistence failed"},
		// Sessions and the queue are not persisted.
		{"SESSION_PUT|t|1", "OK|session_set"},
		{"EMG_PUSH|1|x", "OK|pushed"},
	})
}

// stalledGateway blocks every mutation until its context ends.
type stalledGateway struct{ persist.Nop }

func (stalledGateway) OnMutation(ctx context.Context, _ persist.Mutation) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestDispatch_GatewayTimeout(t *testing.T) {
	s := store.New(stalledGateway{}, 0, nil)
	s.SetGatewayTimeout(20 * time.Millisecond)
	d, err := New(s, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	run(t, d, [][2]string{
		{"REGISTER|alice|7", "ERR|persistence failed"},
		{"DOCTOR_SEARCH|alice", "OK|NOT_FOUND"},
		{"APPT_INSERT|1|2|3|t", "ERR|persistence failed"},
		{"PING", "OK|PONG"},
	})
}

func TestDispatch_RecoversPanic(t *testing.T) {
	d := newTestDispatcher(t, nil)
	d.handlers["BOOM"] = handler{0, "BOOM", func(context.Context, []string) ([]string, error) {
		panic("kaboom")
	}}
	run(t, d, [][2]string{
		{"BOOM", "ERR|internal error"},
		{"PING", "OK|PONG"},
	})
}

func TestExecute_TypedErrors(t *testing.T) {
	d := newTestDispatcher(t, nil)
	ctx := context.Background()

	_, err := d.Execute(ctx, []string{"REGISTER", "a", "x"})
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want *ParseError", err)
	}
	if pe.Field != "user_id" || pe.Value != "x" {
		t.Errorf("ParseError = %+v, want field user_id value x", pe)
	}

	_, err = d.Execute(ctx, []string{"REGISTER"})
	var ue *UsageError
	if !errors.As(err, &ue) || ue.Command != "REGISTER" {
		t.Errorf("error = %v, want *UsageError for REGISTER", err)
	}

	_, err = d.Execute(ctx, []string{"WHAT"})
	var ce *UnknownCommandError
	if !errors.As(err, &ce) || ce.Name != "WHAT" {
		t.Errorf("error = %v, want *UnknownCommandError for WHAT", err)
	}
}

func TestCommandsHaveHandlers(t *testing.T) {
	d := newTestDispatcher(t, nil)
	if len(d.handlers) != len(Commands) {
		t.Errorf("%d handlers, %d command names", len(d.handlers), len(Commands))
	}
	for _, name := range Commands {
		h, ok := d.handlers[name]
		if !ok {
			t.Errorf("no handler for %s", name)
			continue
		}
		if !strings.HasPrefix(h.usage, name) {
			t.Errorf("usage %q does not start with %s", h.usage, name)
		}
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	d, err := New(store.New(nil, 0, nil), Options{Registerer: reg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	d.Dispatch(ctx, "REGISTER|a|1")
	d.Dispatch(ctx, "REGISTER|a")
	d.Dispatch(ctx, "WHATEVER")
	d.Dispatch(ctx, "ANYTHING")
	d.Dispatch(ctx, "")
	build := version.Get()

	tests := []struct {
		metric string
		labels map[string]string
		want   float64
	}{
		{"carestore_dispatch_commands_total", map[string]string{"command": "REGISTER", "status": "ok"}, 1},
		{"carestore_dispatch_commands_total", map[string]string{"command": "REGISTER", "status": "error"}, 1},
		{"carestore_dispatch_commands_total", map[string]string{"command": "unknown", "status": "error"}, 2},
		{"carestore_dispatch_commands_total", map[string]string{"command": "empty", "status": "error"}, 1},
		{"carestore_store_records", map[string]string{"collection": "users"}, 1},
		{"carestore_store_records", map[string]string{"collection": "emergency"}, 0},
		{"carestore_build_info", map[string]string{"version": build.Tag, "commit": build.Commit, "go_version": build.GoVersion}, 1},
	}
	for _, tt := range tests {
		if got := gathered(t, reg, tt.metric, tt.labels); got != tt.want {
			t.Errorf("%s%v = %v, want %v", tt.metric, tt.labels, got, tt.want)
		}
	}

	if _, err := New(store.New(nil, 0, nil), Options{Registerer: reg}); err == nil {
		t.Error("registering metrics twice should fail")
	}
}

// gathered returns the value of the counter or gauge sample of metric
// whose labels match exactly.
func gathered(t *testing.T, reg prometheus.Gatherer, metric string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != metric {
			continue
		}
	samples:
		for _, m := range mf.GetMetric() {
			if len(m.GetLabel()) != len(labels) {
				continue
			}
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue samples
				}
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	t.Fatalf("no %s sample with labels %v", metric, labels)
	return 0
}
