// Package nodedb tracks every mesh node seen during a session.
//
// Records are keyed by node number and, once a user record names them, by stable
// id. Updates merge field by field; a field once known is never cleared by a later
// update that omits it. Readers always get copies.
package nodedb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/danmuck/meshctl/internal/protocol"
)

var (
	ErrBroadcastNode = errors.New("nodedb: broadcast address is not a node")
	ErrNotFound      = errors.New("nodedb: node not found")
)

// Node is one mesh participant. Pointer fields are nil until first reported.
type Node struct {
	Num           uint32
	ID            string
	User          *protocol.User
	Position      *protocol.Position
	DeviceMetrics *protocol.DeviceMetrics
	Snr           *float32
	LastHeard     uint32
	HopsAway      *uint32
	HopLimit      *uint32
	Channel       *uint32
	IsFavorite    *bool
	ViaMQTT       *bool
}

// DB is safe for one writer and many readers.
type DB struct {
	mu    sync.RWMutex
	byNum map[uint32]*Node
	byID  map[string]uint32
}

func New() *DB {
	return &DB{
		byNum: make(map[uint32]*Node),
		byID:  make(map[string]uint32),
	}
}

// GetOrCreate returns the record for num, creating a bare one on first reference.
func (db *DB) GetOrCreate(num uint32) (Node, error) {
	if num == protocol.BroadcastNum {
		return Node{}, fmt.Errorf("%w: num=%d", ErrBroadcastNode, num)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.getOrCreateLocked(num).clone(), nil
}

func (db *DB) getOrCreateLocked(num uint32) *Node {
	n, ok := db.byNum[num]
	if !ok {
		n = &Node{Num: num}
		db.byNum[num] = n
	}
	return n
}

// Upsert merges every set field of in into the record for in.Num.
func (db *DB) Upsert(in Node) (Node, error) {
	return db.Update(in.Num, func(n *Node) {
		n.merge(in)
	})
}

// Update applies fn to the record for num under the write lock, creating the
// record if needed. fn must not retain n.
func (db *DB) Update(num uint32, fn func(n *Node)) (Node, error) {
	if num == protocol.BroadcastNum {
		return Node{}, fmt.Errorf("%w: num=%d", ErrBroadcastNode, num)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	n := db.getOrCreateLocked(num)
	prevID := n.ID
	prevUserID := n.userID()
	fn(n)
	n.Num = num
	if uid := n.userID(); uid != "" && uid != prevUserID {
		n.ID = uid
	}
	if n.ID == "" {
		n.ID = prevID
	}
	if n.ID != prevID {
		if prevID != "" && db.byID[prevID] == num {
			delete(db.byID, prevID)
		}
		db.claimLocked(n.ID, num)
	}
	return n.clone(), nil
}

// claimLocked points id at num. A stable id names one node, so an earlier
// holder loses it and keeps only its number.
func (db *DB) claimLocked(id string, num uint32) {
	if id == "" {
		return
	}
	if other, ok := db.byID[id]; ok && other != num {
		if prev, ok := db.byNum[other]; ok && prev.ID == id {
			prev.ID = ""
		}
	}
	db.byID[id] = num
}

func (n *Node) userID() string {
	if n.User == nil {
		return ""
	}
	return n.User.ID
}

func (db *DB) ByNum(num uint32) (Node, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	n, ok := db.byNum[num]
	if !ok {
		return Node{}, false
	}
	return n.clone(), true
}

func (db *DB) ByID(id string) (Node, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	num, ok := db.byID[id]
	if !ok {
		return Node{}, false
	}
	n, ok := db.byNum[num]
	if !ok {
		return Node{}, false
	}
	return n.clone(), true
}

// IDOf returns the stable id for num, or "" when none is known yet.
func (db *DB) IDOf(num uint32) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if n, ok := db.byNum[num]; ok {
		return n.ID
	}
	return ""
}

// All returns every record, most recently heard first.
func (db *DB) All() []Node {
	db.mu.RLock()
	out := make([]Node, 0, len(db.byNum))
	for _, n := range db.byNum {
		out = append(out, n.clone())
	}
	db.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastHeard != out[j].LastHeard {
			return out[i].LastHeard > out[j].LastHeard
		}
		return out[i].Num < out[j].Num
	})
	return out
}

func (db *DB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.byNum)
}

// Reset drops every record.
func (db *DB) Reset() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.byNum = make(map[uint32]*Node)
	db.byID = make(map[string]uint32)
}

// FromNodeInfo converts a device node record into a mergeable Node.
func FromNodeInfo(ni *protocol.NodeInfo) Node {
	if ni == nil {
		return Node{}
	}
	n := Node{
		Num:           ni.Num,
		User:          ni.User,
		Position:      ni.Position,
		DeviceMetrics: ni.DeviceMetrics,
		Snr:           ni.Snr,
		LastHeard:     ni.LastHeard,
		HopsAway:      ni.HopsAway,
		Channel:       protocol.Ptr(ni.Channel),
		IsFavorite:    protocol.Ptr(ni.IsFavorite),
		ViaMQTT:       protocol.Ptr(ni.ViaMQTT),
	}
	if ni.User != nil {
		n.ID = ni.User.ID
	}
	return n.clone()
}
