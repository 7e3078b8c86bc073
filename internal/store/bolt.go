package store

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketNodes  = []byte("nodes")
	bucketValues = []byte("values")
)

func nodeKey(id uint8) []byte { return []byte{id} }

// BoltStore implements Store using BoltDB. Values live in one nested bucket
// per node under "values".
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketNodes, bucketValues} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) SaveNode(n *Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketNodes)
		}
		data, err := marshal(n)
		if err != nil {
			return err
		}
		return b.Put(nodeKey(n.ID), data)
	})
}

func (s *BoltStore) GetNode(id uint8) (*Node, error) {
	var n Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketNodes)
		}
		data := b.Get(nodeKey(id))
		if data == nil {
			return fmt.Errorf("node %d: %w", id, ErrNotFound)
		}
		return unmarshal(data, &n)
	})
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *BoltStore) ListNodes() ([]*Node, error) {
	var nodes []*Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		if b == nil {
			return nil // no bucket = no nodes
		}
		nodes = make([]*Node, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var n Node
			if err := unmarshal(v, &n); err != nil {
				return err
			}
			nodes = append(nodes, &n)
			return nil
		})
	})
	return nodes, err
}

func (s *BoltStore) UpdateNode(id uint8, fn func(n *Node) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketNodes)
		}
		data := b.Get(nodeKey(id))
		if data == nil {
			return fmt.Errorf("node %d: %w", id, ErrNotFound)
		}
		var n Node
		if err := unmarshal(data, &n); err != nil {
			return err
		}
		if err := fn(&n); err != nil {
			return err
		}
		n.ID = id
		out, err := marshal(&n)
		if err != nil {
			return err
		}
		return b.Put(nodeKey(id), out)
	})
}

// DeleteNode removes a node together with all of its cached values.
func (s *BoltStore) DeleteNode(id uint8) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketNodes)
		}
		if err := b.Delete(nodeKey(id)); err != nil {
			return err
		}
		vb := tx.Bucket(bucketValues)
		if vb != nil && vb.Bucket(nodeKey(id)) != nil {
			return vb.DeleteBucket(nodeKey(id))
		}
		return nil
	})
}

func (s *BoltStore) SaveValue(node uint8, rec *ValueRecord) error {
	st, err := toStorage(rec)
	if err != nil {
		return err
	}
	data, err := marshal(&st)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		vb := tx.Bucket(bucketValues)
		if vb == nil {
			return fmt.Errorf("bucket %q not found", bucketValues)
		}
		nb, err := vb.CreateBucketIfNotExists(nodeKey(node))
		if err != nil {
			return err
		}
		return nb.Put([]byte(rec.ValueID.String()), data)
	})
}

func (s *BoltStore) getValue(node uint8, id ValueID) (*ValueRecord, error) {
	var rec *ValueRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		vb := tx.Bucket(bucketValues)
		if vb == nil {
			return fmt.Errorf("bucket %q not found", bucketValues)
		}
		nb := vb.Bucket(nodeKey(node))
		if nb == nil {
			return fmt.Errorf("node %d value %s: %w", node, id, ErrNotFound)
		}
		data := nb.Get([]byte(id.String()))
		if data == nil {
			return fmt.Errorf("node %d value %s: %w", node, id, ErrNotFound)
		}
		var st valueStorage
		if err := unmarshal(data, &st); err != nil {
			return err
		}
		rec = fromStorage(&st)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Value returns a public cached value. Internal values report ErrNotFound.
func (s *BoltStore) Value(node uint8, id ValueID) (*ValueRecord, error) {
	rec, err := s.getValue(node, id)
	if err != nil {
		return nil, err
	}
	if rec.Internal {
		return nil, fmt.Errorf("node %d value %s: %w", node, id, ErrNotFound)
	}
	return rec, nil
}

// InternalValue returns a cached value regardless of its visibility.
func (s *BoltStore) InternalValue(node uint8, id ValueID) (*ValueRecord, error) {
	return s.getValue(node, id)
}

// ListValues returns all public cached values of a node, ordered by key.
func (s *BoltStore) ListValues(node uint8) ([]*ValueRecord, error) {
	var values []*ValueRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		vb := tx.Bucket(bucketValues)
		if vb == nil {
			return nil
		}
		nb := vb.Bucket(nodeKey(node))
		if nb == nil {
			return nil
		}
		return nb.ForEach(func(k, v []byte) error {
			var st valueStorage
			if err := unmarshal(v, &st); err != nil {
				return err
			}
			if st.Internal {
				return nil
			}
			values = append(values, fromStorage(&st))
			return nil
		})
	})
	return values, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
