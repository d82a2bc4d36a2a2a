package memory

import (
	"context"
	"sync"
)

// Op names a store operation for fault injection.
type Op string

const (
	OpFindHousehold        Op = "FindHousehold"
	OpSaveHousehold        Op = "SaveHousehold"
	OpListActiveHouseholds Op = "ListActiveHouseholds"
	OpFindUser             Op = "FindUser"
	OpFindUserForUpdate    Op = "FindUserForUpdate"
	OpSaveUser             Op = "SaveUser"
	OpListByHousehold      Op = "ListByHousehold"
	OpFindTask             Op = "FindTask"
	OpSaveTask             Op = "SaveTask"
	OpFindTasks            Op = "FindTasks"
	OpMarkTaskCompleted    Op = "MarkTaskCompleted"
	OpCountCompletedTasks  Op = "CountCompletedTasks"
	OpCompletionTimes      Op = "CompletionTimes"
	OpAppendPointsEntry    Op = "AppendPointsEntry"
	OpIsMilestoneRecorded  Op = "IsMilestoneRecorded"
	OpSaveMilestoneRecord  Op = "SaveMilestoneRecord"
	OpListMilestoneRecords Op = "ListMilestoneRecords"
	OpBeginTx              Op = "BeginTx"
	OpCommit               Op = "Commit"
)

// Hook runs before an operation; a non-nil error fails it.
type Hook func(ctx context.Context) error

type faults struct {
	mu    sync.Mutex
	hooks map[Op]Hook
	calls map[Op]int
}

func newFaults() *faults {
	return &faults{hooks: make(map[Op]Hook), calls: make(map[Op]int)}
}

func (f *faults) check(ctx context.Context, op Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.calls[op]++
	hook := f.hooks[op]
	f.mu.Unlock()

	if hook == nil {
		return nil
	}
	return hook(ctx)
}

// SetHook installs fn before op. A nil fn removes the hook.
func (s *Store) SetHook(op Op, fn Hook) {
	s.faults.mu.Lock()
	defer s.faults.mu.Unlock()
	if fn == nil {
		delete(s.faults.hooks, op)
		return
	}
	s.faults.hooks[op] = fn
}

// InjectFault makes the next times calls of op fail with err. times <= 0
// fails every call until ClearFaults.
func (s *Store) InjectFault(op Op, err error, times int) {
	var (
		mu        sync.Mutex
		remaining = times
	)
	s.SetHook(op, func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if times <= 0 {
			return err
		}
		if remaining == 0 {
			return nil
		}
		remaining--
		return err
	})
}

// ClearFaults removes all hooks.
func (s *Store) ClearFaults() {
	s.faults.mu.Lock()
	defer s.faults.mu.Unlock()
	s.faults.hooks = make(map[Op]Hook)
}

// Calls returns how many times op was attempted.
func (s *Store) Calls(op Op) int {
	s.faults.mu.Lock()
	defer s.faults.mu.Unlock()
	return s.faults.calls[op]
}
