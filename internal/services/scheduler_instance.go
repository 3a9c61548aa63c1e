package services

import "sync"

var (
	pollSchedulerInstance *PollScheduler
	pollSchedulerMutex    sync.RWMutex
)

// SetPollScheduler 设置全局投票调度器实例
func SetPollScheduler(scheduler *PollScheduler) {
	pollSchedulerMutex.Lock()
	defer pollSchedulerMutex.Unlock()
	pollSchedulerInstance = scheduler
}

// GetPollScheduler 获取全局投票调度器实例
func GetPollScheduler() *PollScheduler {
	pollSchedulerMutex.RLock()
	defer pollSchedulerMutex.RUnlock()
	return pollSchedulerInstance
}
