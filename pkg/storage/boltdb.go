package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/havoc/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketTasks = []byte("tasks")
	bucketNodes = []byte("nodes")
)

// nodeRecord is the stored form of a node's status
type nodeRecord struct {
	ID        string
	Status    types.NodeStatus
	UpdatedAt time.Time
}

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store in dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "havoc.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketTasks, bucketNodes} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Task operations
func (s *BoltStore) AddOrUpdateTask(task *types.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task %s: %w", task.ID, err)
	}
	return classify(s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).Put([]byte(task.ID), data)
	}))
}

func (s *BoltStore) GetTask(id string) (*types.Task, error) {
	var task types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTasks).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &task)
	})
	if err != nil {
		return nil, classify(err)
	}
	return &task, nil
}

func (s *BoltStore) ListTasks() ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return fmt.Errorf("failed to decode task %s: %w", k, err)
			}
			tasks = append(tasks, &task)
			return nil
		})
	})
	return tasks, classify(err)
}

func (s *BoltStore) DeleteTask(id string) error {
	return classify(s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).Delete([]byte(id))
	}))
}

// Node operations
func (s *BoltStore) GetNodeStatus(nodeID string) (types.NodeStatus, error) {
	var rec nodeRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNodes).Get([]byte(nodeID))
		if data == nil {
			return fmt.Errorf("node %s: %w", nodeID, ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return "", classify(err)
	}
	return rec.Status, nil
}

func (s *BoltStore) SetNodeStatus(nodeID string, status types.NodeStatus) error {
	data, err := json.Marshal(nodeRecord{ID: nodeID, Status: status, UpdatedAt: time.Now()})
	if err != nil {
		return err
	}
	return classify(s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).Put([]byte(nodeID), data)
	}))
}

// classify maps bolt connectivity errors onto ErrUnavailable
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bolt.ErrDatabaseNotOpen), errors.Is(err, bolt.ErrTimeout):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return err
	}
}
