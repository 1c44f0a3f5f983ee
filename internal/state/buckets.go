package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"grimm.is/knockgate/internal/credentials"
	"grimm.is/knockgate/internal/reputation"
)

// Standard bucket names
const (
	BucketAddresses   = "addresses"
	BucketUserHistory = "user_history"
)

// ReputationBucket provides typed access to address records.
type ReputationBucket struct {
	store  Store
	bucket string
}

// NewReputationBucket creates the bucket if needed.
func NewReputationBucket(store Store) (*ReputationBucket, error) {
	if err := store.CreateBucket(BucketAddresses); err != nil && !errors.Is(err, ErrBucketExists) {
		return nil, err
	}
	return &ReputationBucket{store: store, bucket: BucketAddresses}, nil
}

// Get retrieves the record for one address.
func (b *ReputationBucket) Get(addr string) (*reputation.AddressRecord, error) {
	data, err := b.store.Get(b.bucket, addr)
	if err != nil {
		return nil, err
	}
	var rec reputation.AddressRecord
	if err := unmarshalJSON(data, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", addr, err)
	}
	return &rec, nil
}

// Save replaces the stored records with records.
func (b *ReputationBucket) Save(records []reputation.AddressRecord) error {
	values := make(map[string][]byte, len(records))
	for i := range records {
		data, err := json.Marshal(&records[i])
		if err != nil {
			return fmt.Errorf("encode %s: %w", records[i].Address, err)
		}
		values[records[i].Address] = data
	}
	return b.store.ReplaceBucket(b.bucket, values)
}

// Load returns all records ordered by first contact.
func (b *ReputationBucket) Load() ([]reputation.AddressRecord, error) {
	raw, err := b.store.List(b.bucket)
	if err != nil {
		return nil, err
	}

	records := make([]reputation.AddressRecord, 0, len(raw))
	for key, data := range raw {
		var rec reputation.AddressRecord
		if err := unmarshalJSON(data, &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		if rec.Address == "" {
			rec.Address = key
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].FirstSeen.Equal(records[j].FirstSeen) {
			return records[i].FirstSeen.Before(records[j].FirstSeen)
		}
		return records[i].Address < records[j].Address
	})
	return records, nil
}

// HistoryBucket provides typed access to per-user access history.
type HistoryBucket struct {
	store  Store
	bucket string
}

// NewHistoryBucket creates the bucket if needed.
func NewHistoryBucket(store Store) (*HistoryBucket, error) {
	if err := store.CreateBucket(BucketUserHistory); err != nil && !errors.Is(err, ErrBucketExists) {
		return nil, err
	}
	return &HistoryBucket{store: store, bucket: BucketUserHistory}, nil
}

// Save replaces the stored history.
func (b *HistoryBucket) Save(hist []credentials.History) error {
	values := make(map[string][]byte, len(hist))
	for _, h := range hist {
		data, err := json.Marshal(h)
		if err != nil {
			return fmt.Errorf("encode %s: %w", h.Name, err)
		}
		values[h.Name] = data
	}
	return b.store.ReplaceBucket(b.bucket, values)
}

// Load returns the stored history sorted by user name.
func (b *HistoryBucket) Load() ([]credentials.History, error) {
	raw, err := b.store.List(b.bucket)
	if err != nil {
		return nil, err
	}

	out := make([]credentials.History, 0, len(raw))
	for key, data := range raw {
		var h credentials.History
		if err := unmarshalJSON(data, &h); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		if h.Name == "" {
			h.Name = key
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Snapshot is everything persisted in one pass.
type Snapshot struct {
	Records []reputation.AddressRecord
	History []credentials.History
}

// Persister writes and reads snapshots through the typed buckets.
type Persister struct {
	store      Store
	reputation *ReputationBucket
	history    *HistoryBucket
}

// NewPersister prepares both buckets on store.
func NewPersister(store Store) (*Persister, error) {
	rep, err := NewReputationBucket(store)
	if err != nil {
		return nil, err
	}
	hist, err := NewHistoryBucket(store)
	if err != nil {
		return nil, err
	}
	return &Persister{store: store, reputation: rep, history: hist}, nil
}

// Save writes the snapshot.
func (p *Persister) Save(s Snapshot) error {
	if err := p.reputation.Save(s.Records); err != nil {
		return fmt.Errorf("save addresses: %w", err)
	}
	if err := p.history.Save(s.History); err != nil {
		return fmt.Errorf("save user history: %w", err)
	}
	return nil
}

// Load reads the last saved snapshot. An empty store yields an empty
// snapshot.
func (p *Persister) Load() (Snapshot, error) {
	records, err := p.reputation.Load()
	if err != nil {
		return Snapshot{}, fmt.Errorf("load addresses: %w", err)
	}
	hist, err := p.history.Load()
	if err != nil {
		return Snapshot{}, fmt.Errorf("load user history: %w", err)
	}
	return Snapshot{Records: records, History: hist}, nil
}

// Close closes the underlying store.
func (p *Persister) Close() error {
	return p.store.Close()
}

func unmarshalJSON(data []byte, v any) error {
	if len(data) == 0 {
		return ErrNotFound
	}
	return json.Unmarshal(data, v)
}
