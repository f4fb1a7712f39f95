package nodedb

import (
	"errors"
	"sync"
	"testing"

	"github.com/danmuck/meshctl/internal/protocol"
	"github.com/danmuck/meshctl/internal/testutil/testlog"
)

func TestGetOrCreateRejectsBroadcast(t *testing.T) {
	testlog.Start(t)
	db := New()
	if _, err := db.GetOrCreate(protocol.BroadcastNum); !errors.Is(err, ErrBroadcastNode) {
		t.Fatalf("expected ErrBroadcastNode, got %v", err)
	}
	if db.Len() != 0 {
		t.Fatalf("broadcast created a record: len=%d", db.Len())
	}
	if _, err := db.Upsert(Node{Num: protocol.BroadcastNum}); !errors.Is(err, ErrBroadcastNode) {
		t.Fatalf("upsert: expected ErrBroadcastNode, got %v", err)
	}
}

func TestGetOrCreateIsMinimalAndStable(t *testing.T) {
	testlog.Start(t)
	db := New()
	n, err := db.GetOrCreate(42)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if n.Num != 42 || n.User != nil || n.Position != nil || n.ID != "" {
		t.Fatalf("expected bare record, got %+v", n)
	}
	if _, err := db.GetOrCreate(42); err != nil || db.Len() != 1 {
		t.Fatalf("second reference should reuse record: len=%d err=%v", db.Len(), err)
	}
}

func TestUpsertMergesFieldUnion(t *testing.T) {
	testlog.Start(t)
	db := New()
	steps := []Node{
		{Num: 7, User: &protocol.User{ID: "!00000007", LongName: "Alpha", ShortName: "A"}},
		{Num: 7, Position: &protocol.Position{LatitudeI: protocol.Ptr(int32(100)), LongitudeI: protocol.Ptr(int32(200))}},
		{Num: 7, Snr: protocol.Ptr(float32(4.5)), LastHeard: 1000},
		{Num: 7, User: &protocol.User{LongName: "Alpha Prime"}, Position: &protocol.Position{Altitude: protocol.Ptr(int32(12))}},
		{Num: 7, DeviceMetrics: &protocol.DeviceMetrics{BatteryLevel: protocol.Ptr(uint32(80))}},
	}
	for _, s := range steps {
		if _, err := db.Upsert(s); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	n, ok := db.ByNum(7)
	if !ok {
		t.Fatalf("missing node")
	}
	if n.User.LongName != "Alpha Prime" || n.User.ShortName != "A" || n.User.ID != "!00000007" {
		t.Fatalf("user merge wrong: %+v", n.User)
	}
	if *n.Position.LatitudeI != 100 || *n.Position.LongitudeI != 200 || *n.Position.Altitude != 12 {
		t.Fatalf("position merge wrong: %+v", n.Position)
	}
	if n.Snr == nil || *n.Snr != 4.5 || n.LastHeard != 1000 {
		t.Fatalf("signal fields lost: %+v", n)
	}
	if n.DeviceMetrics == nil || *n.DeviceMetrics.BatteryLevel != 80 {
		t.Fatalf("metrics lost: %+v", n.DeviceMetrics)
	}
	if db.Len() != 1 {
		t.Fatalf("expected exactly one record, got %d", db.Len())
	}
}

func TestDualIndexConsistency(t *testing.T) {
	testlog.Start(t)
	db := New()
	if _, err := db.GetOrCreate(0x2a); err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if _, ok := db.ByID("!0000002a"); ok {
		t.Fatalf("id index populated before user known")
	}
	if _, err := db.Upsert(Node{Num: 0x2a, User: &protocol.User{ID: "!0000002a", ShortName: "B"}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	byID, ok := db.ByID("!0000002a")
	if !ok || byID.Num != 0x2a {
		t.Fatalf("id lookup failed: %+v ok=%v", byID, ok)
	}
	if db.IDOf(0x2a) != "!0000002a" || db.IDOf(0x99) != "" {
		t.Fatalf("IDOf mismatch")
	}
	if _, err := db.Upsert(Node{Num: 0x2a, User: &protocol.User{ID: "!renamed"}}); err != nil {
		t.Fatalf("upsert rename: %v", err)
	}
	if _, ok := db.ByID("!0000002a"); ok {
		t.Fatalf("stale id still indexed")
	}
	if n, ok := db.ByID("!renamed"); !ok || n.Num != 0x2a {
		t.Fatalf("renamed lookup failed")
	}
}

func TestStableIDHasOneOwner(t *testing.T) {
	testlog.Start(t)
	db := New()
	if _, err := db.Upsert(Node{Num: 1, User: &protocol.User{ID: "!shared"}}); err != nil {
		t.Fatalf("upsert first: %v", err)
	}
	if _, err := db.Upsert(Node{Num: 2, User: &protocol.User{ID: "!shared"}}); err != nil {
		t.Fatalf("upsert second: %v", err)
	}
	owner, ok := db.ByID("!shared")
	if !ok || owner.Num != 2 {
		t.Fatalf("id owner = %+v ok=%v, want node 2", owner, ok)
	}
	if id := db.IDOf(1); id != "" {
		t.Fatalf("displaced node still claims %q", id)
	}
	if n, _ := db.ByNum(1); n.ID != "" {
		t.Fatalf("displaced record id = %q", n.ID)
	}

	// Unrelated updates to the displaced node do not take the id back.
	if _, err := db.Update(1, func(n *Node) { n.LastHeard = 1700000000 }); err != nil {
		t.Fatalf("update: %v", err)
	}
	if owner, _ := db.ByID("!shared"); owner.Num != 2 {
		t.Fatalf("id moved back to node %d", owner.Num)
	}
	for _, n := range db.All() {
		if n.ID == "" {
			continue
		}
		if byID, ok := db.ByID(n.ID); !ok || byID.Num != n.Num {
			t.Fatalf("node %d id %q resolves to %+v", n.Num, n.ID, byID)
		}
	}
}

func TestReadersGetCopies(t *testing.T) {
	testlog.Start(t)
	db := New()
	if _, err := db.Upsert(Node{Num: 1, User: &protocol.User{LongName: "orig"}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	n, _ := db.ByNum(1)
	n.User.LongName = "mutated"
	again, _ := db.ByNum(1)
	if again.User.LongName != "orig" {
		t.Fatalf("reader mutation leaked into db: %q", again.User.LongName)
	}
}

func TestAllSortedByLastHeard(t *testing.T) {
	testlog.Start(t)
	db := New()
	for num, heard := range map[uint32]uint32{1: 10, 2: 30, 3: 20, 4: 0} {
		if _, err := db.Upsert(Node{Num: num, LastHeard: heard}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	all := db.All()
	want := []uint32{2, 3, 1, 4}
	for i, n := range all {
		if n.Num != want[i] {
			t.Fatalf("order mismatch at %d: got=%d want=%d", i, n.Num, want[i])
		}
	}
}

func TestFromNodeInfoAndReset(t *testing.T) {
	testlog.Start(t)
	db := New()
	ni := &protocol.NodeInfo{Num: 9, User: &protocol.User{ID: "!00000009"}, HopsAway: protocol.Ptr(uint32(2)), IsFavorite: true}
	if _, err := db.Upsert(FromNodeInfo(ni)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	ni.User.ID = "changed"
	n, ok := db.ByID("!00000009")
	if !ok || *n.HopsAway != 2 || !*n.IsFavorite {
		t.Fatalf("node info conversion wrong: %+v", n)
	}
	db.Reset()
	if db.Len() != 0 {
		t.Fatalf("reset left records")
	}
	if _, ok := db.ByID("!00000009"); ok {
		t.Fatalf("reset left id index")
	}
}

func TestConcurrentUpdatesAreAtomic(t *testing.T) {
	testlog.Start(t)
	db := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = db.Update(5, func(n *Node) {
					n.LastHeard++
				})
				_ = db.All()
			}
		}()
	}
	wg.Wait()
	n, _ := db.ByNum(5)
	if n.LastHeard != 800 {
		t.Fatalf("lost updates: %d", n.LastHeard)
	}
}
