package kcommon

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFakeTimeProviderRunsTasksInOrder(t *testing.T) {
	ctx := context.Background()
	provider := NewFakeTimeProvider(0)
	RunWithTimeProvider(provider, func() {
		var fired []int
		ScheduleRun(300, func() { fired = append(fired, 300) })
		ScheduleRun(100, func() { fired = append(fired, 100) })
		ScheduleRun(200, func() { fired = append(fired, 200) })

		reached := provider.VirtualTimeForward(ctx, 150)
		assert.True(t, reached)
		assert.Equal(t, []int{100}, fired)

		reached = provider.VirtualTimeForward(ctx, 300)
		assert.True(t, reached)
		assert.Equal(t, []int{100, 200, 300}, fired)
		assert.GreaterOrEqual(t, GetMonoTimeMs(), int64(450))
	})
}

func TestFakeTimeProviderNestedSchedule(t *testing.T) {
	ctx := context.Background()
	provider := NewFakeTimeProvider(1000)
	RunWithTimeProvider(provider, func() {
		fired := 0
		ScheduleRun(100, func() {
			fired++
			// 任务里再排一个任务，也要在同一个窗口里跑完
			ScheduleRun(100, func() { fired++ })
		})
		provider.VirtualTimeForward(ctx, 500)
		assert.Equal(t, 2, fired)
	})
}

func TestMockTimeProviderCapturesTasks(t *testing.T) {
	provider := NewMockTimeProvider()
	RunWithTimeProvider(provider, func() {
		ScheduleRun(42, func() {})
		task := <-provider.ChTask
		assert.Equal(t, 42, task.DelayMs)

		provider.SetTimeMs(100)
		assert.Equal(t, int64(100), GetWallTimeMs())
		provider.AddTimeMs(50)
		assert.Equal(t, int64(150), GetMonoTimeMs())
	})
}
