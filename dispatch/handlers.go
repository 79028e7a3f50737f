package dispatch

import (
	"context"
	"strconv"
	"strings"

	"carestore/persist"
	"carestore/wire"
)

// Command names.
const (
	CmdRegister          = "REGISTER"
	CmdSessionPut        = "SESSION_PUT"
	CmdSessionGet        = "SESSION_GET"
	CmdApptInsert        = "APPT_INSERT"
	CmdApptListByUser    = "APPT_LIST_BY_USER"
	CmdEmgPush           = "EMG_PUSH"
	CmdEmgPop            = "EMG_POP"
	CmdEmgSize           = "EMG_SIZE"
	CmdHistoryInsert     = "HISTORY_INSERT"
	CmdHistoryListByUser = "HISTORY_LIST_BY_USER"
	CmdDoctorSearch      = "DOCTOR_SEARCH"
	CmdStats             = "STATS"
	CmdMemory            = "MEMORY"
	CmdVersion           = "VERSION"
	CmdPing              = "PING"
)

// Commands lists every command name the Dispatcher accepts.
var Commands = []string{
	CmdRegister, CmdSessionPut, CmdSessionGet,
	CmdApptInsert, CmdApptListByUser,
	CmdEmgPush, CmdEmgPop, CmdEmgSize,
	CmdHistoryInsert, CmdHistoryListByUser,
	CmdDoctorSearch, CmdStats, CmdMemory, CmdVersion, CmdPing,
}

func (d *Dispatcher) commands(version string) map[string]handler {
	s := d.store
	return map[string]handler{
		CmdRegister: {2, "REGISTER|username|user_id", func(ctx context.Context, args []string) ([]string, error) {
			if args[0] == "" {
				return nil, d.usage(CmdRegister)
			}
			id, err := parseInt("user_id", args[1])
			if err != nil {
				return nil, err
			}
			if err := s.Register(ctx, args[0], id); err != nil {
				return nil, err
			}
			return []string{"inserted"}, nil
		}},

		CmdSessionPut: {2, "SESSION_PUT|token|user_id", func(_ context.Context, args []string) ([]string, error) {
			if args[0] == "" {
				return nil, d.usage(CmdSessionPut)
			}
			id, err := parseInt("user_id", args[1])
			if err != nil {
				return nil, err
			}
			s.PutSession(args[0], id)
			return []string{"session_set"}, nil
		}},

		CmdSessionGet: {1, "SESSION_GET|token", func(_ context.Context, args []string) ([]string, error) {
			if args[0] == "" {
				return nil, d.usage(CmdSessionGet)
			}
			id, ok := s.Session(args[0])
			if !ok {
				return []string{wire.SentinelNoSession}, nil
			}
			return []string{strconv.FormatInt(id, 10)}, nil
		}},

		CmdApptInsert: {4, "APPT_INSERT|aid|uid|did|time", func(ctx context.Context, args []string) ([]string, error) {
			var a persist.Appointment
			var err error
			if a.ID, err = parseInt("aid", args[0]); err != nil {
				return nil, err
			}
			if a.UserID, err = parseInt("uid", args[1]); err != nil {
				return nil, err
			}
			if a.DoctorID, err = parseInt("did", args[2]); err != nil {
				return nil, err
			}
			a.Time = args[3]
			if err := s.InsertAppointment(ctx, a); err != nil {
				return nil, err
			}
			return []string{"inserted"}, nil
		}},

		CmdApptListByUser: {1, "APPT_LIST_BY_USER|user_id", func(_ context.Context, args []string) ([]string, error) {
			uid, err := parseInt("user_id", args[0])
			if err != nil {
				return nil, err
			}
			appts := s.AppointmentsByUser(uid)
			items := make([]string, len(appts))
			for i, a := range appts {
				items[i] = strconv.FormatInt(a.ID, 10) + ":" + strconv.FormatInt(a.DoctorID, 10) + ":" + a.Time
			}
			return []string{strings.Join(items, ",")}, nil
		}},

		CmdEmgPush: {2, "EMG_PUSH|priority|name", func(_ context.Context, args []string) ([]string, error) {
			pr, err := parseInt("priority", args[0])
			if err != nil {
				return nil, err
			}
			if args[1] == "" {
				return nil, d.usage(CmdEmgPush)
			}
			s.PushEmergency(pr, args[1])
			return []string{"pushed"}, nil
		}},

		CmdEmgPop: {0, "EMG_POP", func(context.Context, []string) ([]string, error) {
			e, ok := s.PopEmergency()
			if !ok {
				return []string{wire.SentinelEmpty}, nil
			}
			return []string{strconv.FormatInt(e.Priority, 10), e.Name}, nil
		}},

		CmdEmgSize: {0, "EMG_SIZE", func(context.Context, []string) ([]string, error) {
			return []string{strconv.Itoa(s.EmergencySize())}, nil
		}},

		CmdHistoryInsert: {2, "HISTORY_INSERT|record_id|payload", func(ctx context.Context, args []string) ([]string, error) {
			id, err := parseInt("record_id", args[0])
			if err != nil {
				return nil, err
			}
			if err := s.InsertHistory(ctx, id, args[1]); err != nil {
				return nil, err
			}
			return []string{"inserted"}, nil
		}},

		CmdHistoryListByUser: {1, "HISTORY_LIST_BY_USER|user_id", func(_ context.Context, args []string) ([]string, error) {
			uid, err := parseInt("user_id", args[0])
			if err != nil {
				return nil, err
			}
			records := s.HistoryByUser(uid)
			items := make([]string, len(records))
			for i, h := range records {
				_, rest, _ := strings.Cut(h.Payload, ":")
				items[i] = strconv.FormatInt(h.ID, 10) + ":" + rest
			}
			return []string{strings.Join(items, ",")}, nil
		}},

		CmdDoctorSearch: {1, "DOCTOR_SEARCH|name", func(_ context.Context, args []string) ([]string, error) {
			if args[0] == "" {
				return nil, d.usage(CmdDoctorSearch)
			}
			id, ok := s.FindUser(args[0])
			if !ok {
				return []string{wire.SentinelNotFound}, nil
			}
			return []string{strconv.FormatInt(id, 10)}, nil
		}},

		CmdStats: {0, "STATS", func(context.Context, []string) ([]string, error) {
			st := s.Stats()
			return []string{
				"users", strconv.Itoa(st.Users),
				"sessions", strconv.Itoa(st.Sessions),
				"appointments", strconv.Itoa(st.Appointments),
				"history", strconv.Itoa(st.History),
				"emergency", strconv.Itoa(st.Emergency),
			}, nil
		}},

		CmdMemory: {0, "MEMORY", func(context.Context, []string) ([]string, error) {
			var out []string
			var total int64
			for _, m := range s.MemoryUsage() {
				total += m.Bytes
				out = append(out, m.Collection, strconv.FormatInt(m.Bytes, 10))
			}
			return append(out, "total", strconv.FormatInt(total, 10)), nil
		}},

		CmdVersion: {0, "VERSION", func(context.Context, []string) ([]string, error) {
			return []string{version}, nil
		}},

		CmdPing: {0, "PING", func(context.Context, []string) ([]string, error) {
			return []string{"PONG"}, nil
		}},
	}
}

// usage builds the UsageError for command. Only called from inside a
// handler, after d.handlers is populated.
func (d *Dispatcher) usage(command string) error {
	return &UsageError{Command: command, Usage: d.handlers[command].usage}
}

// parseInt parses a base-10 int64. Surrounding whitespace and trailing
// characters are rejected.
func parseInt(field, s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &ParseError{Field: field, Value: s, Err: err}
	}
	return n, nil
}
