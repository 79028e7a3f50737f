// Package persist defines the contract between the in-memory store and
// durable storage, and ships several implementations of it: an
// append-only journal file, SQLite, bbolt and PostgreSQL.
//
// A Gateway is consulted twice: LoadAll seeds the indices once at
// startup, and OnMutation is called for every accepted REGISTER,
// APPT_INSERT and HISTORY_INSERT. Sessions and the emergency queue are
// memory-only.
package persist

import (
	"context"
	"fmt"
)

// User maps a username to its numeric id.
type User struct {
	Username string `cbor:"1,keyasint" msgpack:"u"`
	ID       int64  `cbor:"2,keyasint" msgpack:"i"`
}

// Appointment is a booked slot for a user with a doctor.
type Appointment struct {
	ID       int64  `cbor:"1,keyasint" msgpack:"i"`
	UserID   int64  `cbor:"2,keyasint" msgpack:"u"`
	DoctorID int64  `cbor:"3,keyasint" msgpack:"d"`
	Time     string `cbor:"4,keyasint" msgpack:"t"`
}

// History is a medical history record. Payload is opaque to the store;
// clients conventionally send "userId:diagnosis:date".
type History struct {
	ID      int64  `cbor:"1,keyasint" msgpack:"i"`
	Payload string `cbor:"2,keyasint" msgpack:"p"`
}

// Kind identifies which record a Mutation carries.
type Kind uint8

const (
	KindUser        Kind = 1
	KindAppointment Kind = 2
	KindHistory     Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindAppointment:
		return "appointment"
	case KindHistory:
		return "history"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Mutation is a single accepted write. Exactly one of the record
// pointers is set, matching Kind.
type Mutation struct {
	Kind        Kind
	User        *User
	Appointment *Appointment
	History     *History
}

// UserMutation wraps u in a Mutation.
func UserMutation(u User) Mutation {
	return Mutation{Kind: KindUser, User: &u}
}

// AppointmentMutation wraps a in a Mutation.
func AppointmentMutation(a Appointment) Mutation {
	return Mutation{Kind: KindAppointment, Appointment: &a}
}

// HistoryMutation wraps h in a Mutation.
func HistoryMutation(h History) Mutation {
	return Mutation{Kind: KindHistory, History: &h}
}

// validate checks that the record pointer matching Kind is set.
func (m Mutation) validate() error {
	ok := false
	switch m.Kind {
	case KindUser:
		ok = m.User != nil
	case KindAppointment:
		ok = m.Appointment != nil
	case KindHistory:
		ok = m.History != nil
	}
	if !ok {
		return &MutationError{Kind: m.Kind}
	}
	return nil
}

// Snapshot is the full durable state handed to the store at startup.
// Within each slice, later entries win over earlier ones with the same
// key.
type Snapshot struct {
	Users        []User
	Appointments []Appointment
	History      []History
}

// apply appends the record carried by m to the snapshot.
func (s *Snapshot) apply(m Mutation) {
	switch m.Kind {
	case KindUser:
		s.Users = append(s.Users, *m.User)
	case KindAppointment:
		s.Appointments = append(s.Appointments, *m.Appointment)
	case KindHistory:
		s.History = append(s.History, *m.History)
	}
}

// Gateway is durable storage for the record store.
type Gateway interface {
	// LoadAll returns everything previously recorded.
	LoadAll(ctx context.Context) (*Snapshot, error)
	// OnMutation durably records m.
	OnMutation(ctx context.Context, m Mutation) error
	// Close releases the underlying storage.
	Close() error
}

// MutationError is returned when a Mutation's Kind does not match the
// record it carries.
type MutationError struct{ Kind Kind }

func (e *MutationError) Error() string {
	return fmt.Sprintf("persist: malformed %s mutation", e.Kind)
}

// Nop is a Gateway that stores nothing.
type Nop struct{}

func (Nop) LoadAll(context.Context) (*Snapshot, error) { return &Snapshot{}, nil }

func (Nop) OnMutation(_ context.Context, m Mutation) error { return m.validate() }

func (Nop) Close() error { return nil }
