/* Copyright 2026 The statewire authors
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package persist

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	bolt "go.etcd.io/bbolt"

	"github.com/statewire/statewire/sched"
)

var checkpointsBucket = []byte("checkpoints")

// Checkpoints is a history of state snapshots in a bolt file, keyed
// by RFC 3339 timestamp so that key order is time order.
type Checkpoints struct {
	Debug bool

	filename string
	db       *bolt.DB
}

// OpenCheckpoints opens (creating if needed) a checkpoint store.
func OpenCheckpoints(filename string) (*Checkpoints, error) {
	opts := &bolt.Options{
		Timeout: time.Second,
	}
	db, err := bolt.Open(filename, 0644, opts)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(checkpointsBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Checkpoints{filename: filename, db: db}, nil
}

func (c *Checkpoints) Close() error {
	return c.db.Close()
}

func (c *Checkpoints) logf(format string, args ...interface{}) {
	if c.Debug {
		log.Printf("Checkpoints "+format, args...)
	}
}

// Save records one snapshot under the given key.
func (c *Checkpoints) Save(key string, snap map[string]interface{}) error {
	js, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	c.logf("Save %s (%d bytes)", key, len(js))
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(checkpointsBucket).Put([]byte(key), js)
	})
}

// Load returns the snapshot stored under key.
func (c *Checkpoints) Load(key string) (map[string]interface{}, error) {
	var snap map[string]interface{}
	err := c.db.View(func(tx *bolt.Tx) error {
		bs := tx.Bucket(checkpointsBucket).Get([]byte(key))
		if bs == nil {
			return fmt.Errorf("checkpoint %s not found", key)
		}
		return json.Unmarshal(bs, &snap)
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Keys returns all checkpoint keys, oldest first.
func (c *Checkpoints) Keys() ([]string, error) {
	var keys []string
	err := c.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket(checkpointsBucket).Cursor()
		for k, _ := cur.First(); k != nil; k, _ = cur.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Prune deletes all but the newest keep checkpoints.
func (c *Checkpoints) Prune(keep int) error {
	keys, err := c.Keys()
	if err != nil {
		return err
	}
	if len(keys) <= keep {
		return nil
	}
	doomed := keys[:len(keys)-keep]
	c.logf("Prune removing %d", len(doomed))
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(checkpointsBucket)
		for _, k := range doomed {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

// CheckpointSchedule saves a checkpoint of a detector's snapshot on a
// cron schedule.
type CheckpointSchedule struct {
	store *Checkpoints
	det   *ChangeDetector
	sched sched.Scheduler
	expr  *cronexpr.Expression
	keep  int

	task    sched.Task
	stopped bool
}

// StartCheckpointSchedule arranges for store to receive a snapshot
// whenever the cron expression fires, pruning to keep entries each
// time.  keep <= 0 means keep everything.
func StartCheckpointSchedule(spec string, store *Checkpoints, det *ChangeDetector, s sched.Scheduler, keep int) (*CheckpointSchedule, error) {
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return nil, err
	}
	cs := &CheckpointSchedule{
		store: store,
		det:   det,
		sched: s,
		expr:  expr,
		keep:  keep,
	}
	cs.arm()
	return cs, nil
}

func (cs *CheckpointSchedule) arm() {
	now := time.Now()
	next := cs.expr.Next(now)
	if next.IsZero() {
		log.Printf("persist: checkpoint schedule exhausted")
		return
	}
	cs.task = cs.sched.After(next.Sub(now), cs.fire)
}

func (cs *CheckpointSchedule) fire() {
	if cs.stopped {
		return
	}
	key := time.Now().UTC().Format(time.RFC3339)
	if err := cs.store.Save(key, cs.det.Get()); err != nil {
		log.Printf("persist: checkpoint %s failed: %v", key, err)
	} else if cs.keep > 0 {
		if err := cs.store.Prune(cs.keep); err != nil {
			log.Printf("persist: checkpoint prune failed: %v", err)
		}
	}
	cs.arm()
}

// Stop cancels the schedule.
func (cs *CheckpointSchedule) Stop() {
	cs.stopped = true
	if cs.task != nil {
		cs.task.Stop()
	}
}
