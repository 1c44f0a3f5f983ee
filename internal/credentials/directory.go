// Package credentials is the user table: who holds which passcode, until
// when it is valid, and when and from where it was last used.
package credentials

import (
	"errors"
	"fmt"
	"time"

	"grimm.is/knockgate/internal/clock"
	"grimm.is/knockgate/internal/config"
)

var (
	ErrDuplicatePasscode = errors.New("passcode already assigned")
	ErrDuplicateUser     = errors.New("user defined more than once")
	ErrEmptyPasscode     = errors.New("empty passcode")
)

// UserRecord is one passcode holder.
type UserRecord struct {
	Name     string
	Passcode string
	// Expires is the last valid calendar day. Zero means permanent.
	Expires    time.Time
	LastAccess time.Time
	// Addresses holds every address granted through this user, oldest
	// first, without duplicates.
	Addresses []string
}

// Permanent reports whether the passcode never expires.
func (u *UserRecord) Permanent() bool {
	return u.Expires.IsZero()
}

// Valid reports whether the passcode is usable at now. A dated passcode
// stays valid through the whole expiry day.
func (u *UserRecord) Valid(now time.Time) bool {
	return u.Permanent() || !clock.Expired(now, u.Expires)
}

// RecordAccess stamps LastAccess and appends addr, moving it to the end
// if it was already known.
func (u *UserRecord) RecordAccess(addr string, now time.Time) {
	u.LastAccess = now
	for i, a := range u.Addresses {
		if a == addr {
			u.Addresses = append(u.Addresses[:i], u.Addresses[i+1:]...)
			break
		}
	}
	u.Addresses = append(u.Addresses, addr)
}

// LastAddress returns the most recently granted address, or "".
func (u *UserRecord) LastAddress() string {
	if len(u.Addresses) == 0 {
		return ""
	}
	return u.Addresses[len(u.Addresses)-1]
}

func (u *UserRecord) clone() UserRecord {
	c := *u
	c.Addresses = append([]string(nil), u.Addresses...)
	return c
}

// History is the part of a user record that survives reloads and
// restarts.
type History struct {
	Name       string    `json:"name"`
	LastAccess time.Time `json:"last_access"`
	Addresses  []string  `json:"addresses,omitempty"`
}

// Directory indexes users by name and by passcode. It is not safe for
// concurrent use; the decision engine serializes all access.
type Directory struct {
	users      []*UserRecord
	byName     map[string]*UserRecord
	byPasscode map[string]*UserRecord
}

// New builds a directory from configured users. Duplicate names or
// passcodes are rejected.
func New(users []config.User) (*Directory, error) {
	d := &Directory{
		byName:     make(map[string]*UserRecord, len(users)),
		byPasscode: make(map[string]*UserRecord, len(users)),
	}
	for _, cu := range users {
		if cu.Passcode == "" {
			return nil, fmt.Errorf("user %q: %w", cu.Name, ErrEmptyPasscode)
		}
		if _, dup := d.byName[cu.Name]; dup {
			return nil, fmt.Errorf("user %q: %w", cu.Name, ErrDuplicateUser)
		}
		if owner, dup := d.byPasscode[cu.Passcode]; dup {
			return nil, fmt.Errorf("user %q: %w to %q", cu.Name, ErrDuplicatePasscode, owner.Name)
		}

		date, dated, err := cu.ExpiryDate()
		if err != nil {
			return nil, fmt.Errorf("user %q: bad expiry date: %w", cu.Name, err)
		}
		u := &UserRecord{Name: cu.Name, Passcode: cu.Passcode}
		if dated {
			u.Expires = date
		}
		d.users = append(d.users, u)
		d.byName[u.Name] = u
		d.byPasscode[u.Passcode] = u
	}
	return d, nil
}

// Lookup finds the user holding passcode.
func (d *Directory) Lookup(passcode string) (*UserRecord, bool) {
	u, ok := d.byPasscode[passcode]
	return u, ok
}

// Get finds a user by name.
func (d *Directory) Get(name string) (*UserRecord, bool) {
	u, ok := d.byName[name]
	return u, ok
}

// Has reports whether a user with this name exists.
func (d *Directory) Has(name string) bool {
	_, ok := d.byName[name]
	return ok
}

// Len returns the number of users.
func (d *Directory) Len() int {
	return len(d.users)
}

// Users returns copies of all users in configuration order.
func (d *Directory) Users() []UserRecord {
	out := make([]UserRecord, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u.clone())
	}
	return out
}

// MostRecent returns the user with the latest LastAccess. Users that
// never connected are ignored.
func (d *Directory) MostRecent() (UserRecord, bool) {
	var best *UserRecord
	for _, u := range d.users {
		if u.LastAccess.IsZero() {
			continue
		}
		if best == nil || u.LastAccess.After(best.LastAccess) {
			best = u
		}
	}
	if best == nil {
		return UserRecord{}, false
	}
	return best.clone(), true
}

// History returns the carried-over state of every user.
func (d *Directory) History() []History {
	out := make([]History, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, History{
			Name:       u.Name,
			LastAccess: u.LastAccess,
			Addresses:  append([]string(nil), u.Addresses...),
		})
	}
	return out
}

// RestoreHistory copies LastAccess and Addresses onto users with the same
// name. Entries for unknown users are ignored.
func (d *Directory) RestoreHistory(hist []History) {
	for _, h := range hist {
		u, ok := d.byName[h.Name]
		if !ok {
			continue
		}
		u.LastAccess = h.LastAccess
		u.Addresses = append([]string(nil), h.Addresses...)
	}
}

// CarryForward copies usage history from the previous directory.
func (d *Directory) CarryForward(prev *Directory) {
	if prev == nil {
		return
	}
	d.RestoreHistory(prev.History())
}
