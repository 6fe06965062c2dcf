// Package grouping holds the assignment of photos to class buckets and applies manual
// reassignment without ever exposing an inconsistent state.
package grouping

import (
	"sync"

	"github.com/hyperjump/pawsort/internal/models"
)

// Bucket is one class (or the unknown sentinel) and its photos in insertion order.
type Bucket struct {
	Key   string             `json:"key"`
	Items []models.PhotoItem `json:"items"`
}

// Result is an ordered, point-in-time view of the grouping. The unknown bucket is
// always first and always present; every other bucket is non-empty.
type Result struct {
	Buckets []Bucket `json:"buckets"`
}

// Total returns the number of photos across all buckets.
func (r *Result) Total() int {
	n := 0
	for _, b := range r.Buckets {
		n += len(b.Items)
	}
	return n
}

// Bucket returns the bucket with the given key.
func (r *Result) Bucket(key string) (Bucket, bool) {
	for _, b := range r.Buckets {
		if b.Key == key {
			return b, true
		}
	}
	return Bucket{}, false
}

// Store is the mutable grouping. All methods are safe for concurrent use; each
// mutation is applied under one write lock.
type Store struct {
	mu      sync.RWMutex
	buckets []*Bucket // buckets[0] is always unknown
}

// NewStore returns a store holding only the empty unknown bucket.
func NewStore() *Store {
	return &Store{buckets: []*Bucket{{Key: models.UnknownKey}}}
}

func (s *Store) bucketLocked(key string, create bool) *Bucket {
	for _, b := range s.buckets {
		if b.Key == key {
			return b
		}
	}
	if !create {
		return nil
	}
	b := &Bucket{Key: key}
	s.buckets = append(s.buckets, b)
	return b
}

// Add appends a classified photo to the bucket of its assignment.
func (s *Store) Add(item models.PhotoItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bucketLocked(item.Assignment.Key(), true)
	b.Items = append(b.Items, item)
}

// Reassign moves the photo to newClassID; empty or models.UnknownKey means unknown.
// It returns the key of the bucket the photo left, or ok false, changing nothing,
// when no bucket holds sourceRef.
func (s *Store) Reassign(sourceRef, newClassID string) (from string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for bi, b := range s.buckets {
		for ii, it := range b.Items {
			if it.SourceRef != sourceRef {
				continue
			}
			from = b.Key
			b.Items = append(b.Items[:ii:ii], b.Items[ii+1:]...)

			key := models.ClassKey(newClassID)
			it.Assignment = it.Assignment.Clone()
			if key == models.UnknownKey {
				it.Assignment.BestClassID = ""
			} else {
				it.Assignment.BestClassID = key
			}
			dst := s.bucketLocked(key, true)
			dst.Items = append(dst.Items, it)

			if bi != 0 && len(b.Items) == 0 {
				s.removeLocked(b)
			}
			return from, true
		}
	}
	return "", false
}

func (s *Store) removeLocked(target *Bucket) {
	for i, b := range s.buckets {
		if b == target {
			s.buckets = append(s.buckets[:i], s.buckets[i+1:]...)
			return
		}
	}
}

// Find returns the photo with sourceRef and its bucket key.
func (s *Store) Find(sourceRef string) (models.PhotoItem, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.buckets {
		for _, it := range b.Items {
			if it.SourceRef == sourceRef {
				it.Assignment = it.Assignment.Clone()
				return it, b.Key, true
			}
		}
	}
	return models.PhotoItem{}, "", false
}

// Snapshot returns a deep copy of the current grouping.
func (s *Store) Snapshot() *Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := &Result{Buckets: make([]Bucket, len(s.buckets))}
	for i, b := range s.buckets {
		items := make([]models.PhotoItem, len(b.Items))
		for j, it := range b.Items {
			items[j] = models.PhotoItem{SourceRef: it.SourceRef, Assignment: it.Assignment.Clone()}
		}
		out.Buckets[i] = Bucket{Key: b.Key, Items: items}
	}
	return out
}

// Total returns the number of photos held.
func (s *Store) Total() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, b := range s.buckets {
		n += len(b.Items)
	}
	return n
}

// Keys returns the bucket keys in order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, len(s.buckets))
	for i, b := range s.buckets {
		keys[i] = b.Key
	}
	return keys
}
