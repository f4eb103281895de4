package state

import (
	"os"
	"path/filepath"
	"sync"
	"tradeflow/internal/model"

	"github.com/goccy/go-json"
)

// 状态账本的持久化，整文件原子替换（写临时文件再 rename）
// 绝不做部分原地修改，避免写一半进程挂掉留下脏数据

type Store struct {
	mu   sync.Mutex
	path string
	cur  model.PersistedState
}

func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	s.cur = emptyState()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, &s.cur); err != nil {
		return nil, err
	}
	// 旧文件可能缺 map 字段
	if s.cur.StrategyPerformance == nil {
		s.cur.StrategyPerformance = make(map[string]model.StrategyPerf)
	}
	if s.cur.StrategyLiveApproved == nil {
		s.cur.StrategyLiveApproved = make(map[string]bool)
	}
	if s.cur.OrderStrategyMap == nil {
		s.cur.OrderStrategyMap = make(map[string]string)
	}
	return s, nil
}

func emptyState() model.PersistedState {
	return model.PersistedState{
		StrategyPerformance:  make(map[string]model.StrategyPerf),
		StrategyLiveApproved: make(map[string]bool),
		OrderStrategyMap:     make(map[string]string),
	}
}

// Snapshot 返回当前状态的拷贝
func (s *Store) Snapshot() model.PersistedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneState(s.cur)
}

// Update 读-改-写-替换，mutate 里只能改传入的副本
func (s *Store) Update(mutate func(st *model.PersistedState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := cloneState(s.cur)
	mutate(&next)

	if err := s.writeLocked(next); err != nil {
		return err
	}
	s.cur = next
	return nil
}

func (s *Store) writeLocked(st model.PersistedState) error {
	if s.path == "" {
		return nil // 内存模式，单测用
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	_ = os.MkdirAll(dir, 0755)

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path)
}

func cloneState(st model.PersistedState) model.PersistedState {
	out := st
	out.StrategyPerformance = make(map[string]model.StrategyPerf, len(st.StrategyPerformance))
	for k, v := range st.StrategyPerformance {
		out.StrategyPerformance[k] = v
	}
	out.StrategyLiveApproved = make(map[string]bool, len(st.StrategyLiveApproved))
	for k, v := range st.StrategyLiveApproved {
		out.StrategyLiveApproved[k] = v
	}
	out.OrderStrategyMap = make(map[string]string, len(st.OrderStrategyMap))
	for k, v := range st.OrderStrategyMap {
		out.OrderStrategyMap[k] = v
	}
	return out
}
