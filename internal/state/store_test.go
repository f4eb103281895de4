package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"tradeflow/internal/model"
)

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}

	err = s.Update(func(st *model.PersistedState) {
		st.CurrentBalance = 1234.5
		st.OrderStrategyMap["ord-1"] = "alpha"
		st.StrategyPerformance["alpha"] = model.StrategyPerf{Wins: 3, Losses: 1, Pnl: 42}
		st.StrategyLiveApproved["alpha"] = true
	})
	if err != nil {
		t.Fatal(err)
	}

	// 重新加载，确认落盘内容完整
	s2, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	st := s2.Snapshot()
	if st.CurrentBalance != 1234.5 {
		t.Fatalf("balance lost: %v", st.CurrentBalance)
	}
	if st.OrderStrategyMap["ord-1"] != "alpha" {
		t.Fatal("order map lost")
	}
	if !st.StrategyLiveApproved["alpha"] {
		t.Fatal("approval lost")
	}
	if perf := st.StrategyPerformance["alpha"]; perf.Wins != 3 || perf.Pnl != 42 {
		t.Fatalf("performance lost: %+v", perf)
	}
}

func TestStoreMissingFileStartsEmpty(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	st := s.Snapshot()
	if st.OrderStrategyMap == nil || st.StrategyPerformance == nil || st.StrategyLiveApproved == nil {
		t.Fatal("maps must be initialized on empty store")
	}
}

func TestStoreCorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{truncated"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStore(path); err == nil {
		t.Fatal("corrupt state file should fail loudly")
	}
}

func TestStoreAtomicReplaceLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if err := s.Update(func(st *model.PersistedState) { st.CurrentBalance++ }); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".state-") {
			t.Fatalf("leftover temp file: %s", e.Name())
		}
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	snap.OrderStrategyMap["sneaky"] = "x"
	if _, ok := s.Snapshot().OrderStrategyMap["sneaky"]; ok {
		t.Fatal("snapshot must not alias internal state")
	}
}
