package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const (
	testSchedulerInterval = 10 * time.Millisecond
	testSchedulerTimeout  = 2 * time.Second
	testSchedulerName     = "test_job"
)

func noopJob(context.Context) error {
	return nil
}

func TestNewSchedulerDefaultsInterval(testingT *testing.T) {
	scheduler := NewScheduler(testSchedulerName, 0, noopJob, nil)
	require.Equal(testingT, time.Minute, scheduler.interval)
}

func TestSchedulerRunsOnTrigger(testingT *testing.T) {
	var runCount int64
	job := func(context.Context) error {
		atomic.AddInt64(&runCount, 1)
		return nil
	}
	scheduler := NewScheduler(testSchedulerName, time.Hour, job, zap.NewNop())
	runtimeContext, cancel := context.WithCancel(context.Background())
	testingT.Cleanup(cancel)

	scheduler.Start(runtimeContext)
	scheduler.Trigger()

	require.Eventually(testingT, func() bool {
		return atomic.LoadInt64(&runCount) > 0
	}, testSchedulerTimeout, testSchedulerInterval)

	scheduler.Stop()
	require.Nil(testingT, scheduler.cancel)
}

func TestSchedulerRunsOnInterval(testingT *testing.T) {
	var runCount int64
	job := func(context.Context) error {
		atomic.AddInt64(&runCount, 1)
		return nil
	}
	scheduler := NewScheduler(testSchedulerName, testSchedulerInterval, job, nil)
	scheduler.Start(context.Background())
	testingT.Cleanup(scheduler.Stop)

	require.Eventually(testingT, func() bool {
		return atomic.LoadInt64(&runCount) >= 2
	}, testSchedulerTimeout, testSchedulerInterval)
}

func TestSchedulerLogsJobFailures(testingT *testing.T) {
	observedCore, observedLogs := observer.New(zap.WarnLevel)
	scheduler := NewScheduler(testSchedulerName, time.Hour, func(context.Context) error {
		return errors.New("database locked")
	}, zap.New(observedCore))

	scheduler.run(context.Background())

	entries := observedLogs.FilterMessage("scheduled_job_failed").All()
	require.Len(testingT, entries, 1)
	require.Equal(testingT, testSchedulerName, entries[0].ContextMap()["job"])
}

func TestSchedulerHandlesNilReceiver(testingT *testing.T) {
	var scheduler *Scheduler
	scheduler.Start(context.Background())
	scheduler.Trigger()
	scheduler.Stop()
}

func TestSchedulerSkipsStartWhenJobMissing(testingT *testing.T) {
	scheduler := NewScheduler(testSchedulerName, testSchedulerInterval, nil, nil)
	scheduler.Start(context.Background())
	require.Nil(testingT, scheduler.cancel)
}

func TestSchedulerStartIsIdempotent(testingT *testing.T) {
	scheduler := NewScheduler(testSchedulerName, testSchedulerInterval, noopJob, nil)
	scheduler.Start(context.Background())
	doneAfterStart := scheduler.done
	require.NotNil(testingT, scheduler.cancel)
	scheduler.Start(context.Background())
	require.Equal(testingT, doneAfterStart, scheduler.done)
	scheduler.Stop()
}
