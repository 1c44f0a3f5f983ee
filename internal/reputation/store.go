package reputation

import (
	"context"
	"time"
)

// Store holds every known address. It is not safe for concurrent use;
// the decision engine serializes all access.
type Store struct {
	records map[string]*AddressRecord
	order   []string
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{records: make(map[string]*AddressRecord)}
}

// Restore builds a store from persisted records. Later duplicates of an
// address replace earlier ones.
func Restore(records []AddressRecord) *Store {
	s := NewStore()
	for i := range records {
		rec := records[i]
		if _, ok := s.records[rec.Address]; !ok {
			s.order = append(s.order, rec.Address)
		}
		s.records[rec.Address] = &rec
	}
	return s
}

// Get returns the live record for addr.
func (s *Store) Get(addr string) (*AddressRecord, bool) {
	rec, ok := s.records[addr]
	return rec, ok
}

// Touch returns the record for addr, creating it on first contact.
func (s *Store) Touch(addr string, now time.Time) (rec *AddressRecord, created bool) {
	if rec, ok := s.records[addr]; ok {
		rec.LastSeen = now
		return rec, false
	}
	rec = NewRecord(addr, now)
	s.records[addr] = rec
	s.order = append(s.order, addr)
	return rec, true
}

// Len returns the number of records.
func (s *Store) Len() int {
	return len(s.records)
}

// All returns copies of every record in first-contact order.
func (s *Store) All() []AddressRecord {
	out := make([]AddressRecord, 0, len(s.order))
	for _, addr := range s.order {
		out = append(out, *s.records[addr])
	}
	return out
}

// Counts returns the number of records per status.
func (s *Store) Counts() map[Status]int {
	counts := make(map[Status]int, len(Statuses))
	for _, st := range Statuses {
		counts[st] = 0
	}
	for _, rec := range s.records {
		counts[rec.Status]++
	}
	return counts
}

// Clone returns a deep copy.
func (s *Store) Clone() *Store {
	return Restore(s.All())
}

// DemoteOrphans demotes every trusted record whose owner is not accepted
// by keep. Records without an owner are left alone. It returns the
// demoted addresses.
func (s *Store) DemoteOrphans(ctx context.Context, keep func(owner string) bool, now time.Time) ([]string, error) {
	var demoted []string
	for _, addr := range s.order {
		rec := s.records[addr]
		if !rec.Trusted() || rec.Owner == "" || keep(rec.Owner) {
			continue
		}
		if err := rec.Apply(ctx, EventDemote, "owner removed", now); err != nil {
			return demoted, err
		}
		demoted = append(demoted, addr)
	}
	return demoted, nil
}
