package scheduler_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kubev2v/qemu-backup-harness/internal/models"
	"github.com/kubev2v/qemu-backup-harness/pkg/scheduler"
)

func TestScheduler(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Scheduler Suite")
}

var _ = Describe("Scheduler", func() {
	var s *scheduler.Scheduler

	AfterEach(func() {
		if s != nil {
			s.Close()
		}
	})

	Describe("AddWork", func() {
		It("should run work and deliver its result", func() {
			s = scheduler.NewScheduler(1)

			work := func(ctx context.Context) models.CaseResult {
				return models.CaseResult{Name: "demo", Status: models.CaseStatusPassed}
			}

			future := s.AddWork("demo", work)
			Expect(future).NotTo(BeNil())

			var result models.CaseResult
			Eventually(future.C(), 2*time.Second).Should(Receive(&result))
			Expect(result.Name).To(Equal("demo"))
			Expect(result.Status).To(Equal(models.CaseStatusPassed))
		})

		It("should execute multiple work items", func() {
			s = scheduler.NewScheduler(2)

			results := make(chan int, 3)
			for i := range 3 {
				idx := i
				s.AddWork("demo", func(ctx context.Context) models.CaseResult {
					results <- idx
					return models.CaseResult{Name: "demo", Status: models.CaseStatusPassed}
				})
			}

			Eventually(func() int {
				return len(results)
			}, 2*time.Second, 100*time.Millisecond).Should(Equal(3))
		})

		It("should recover a panicking case into a failed result", func() {
			s = scheduler.NewScheduler(1)

			future := s.AddWork("boom", func(ctx context.Context) models.CaseResult {
				panic("kaboom")
			})

			var result models.CaseResult
			Eventually(future.C(), 2*time.Second).Should(Receive(&result))
			Expect(result.Name).To(Equal("boom"))
			Expect(result.Status).To(Equal(models.CaseStatusFailed))
			Expect(result.Error).To(ContainSubstring("kaboom"))
		})
	})

	Describe("Cancel work", func() {
		It("should cancel work via future.Stop()", func() {
			s = scheduler.NewScheduler(1)

			cancelled := make(chan bool, 1)
			work := func(ctx context.Context) models.CaseResult {
				select {
				case <-ctx.Done():
					cancelled <- true
					return models.CaseResult{Name: "slow", Status: models.CaseStatusSkipped}
				case <-time.After(5 * time.Second):
					return models.CaseResult{Name: "slow", Status: models.CaseStatusPassed}
				}
			}

			future := s.AddWork("slow", work)
			time.Sleep(100 * time.Millisecond)
			future.Stop()

			Eventually(cancelled, 2*time.Second).Should(Receive(BeTrue()))
		})
	})

	Describe("Close", func() {
		It("should skip work added after Close", func() {
			s = scheduler.NewScheduler(1)
			s.Close()

			future := s.AddWork("late", func(ctx context.Context) models.CaseResult {
				return models.CaseResult{Name: "late", Status: models.CaseStatusPassed}
			})

			var result models.CaseResult
			Eventually(future.C(), 1*time.Second).Should(Receive(&result))
			Expect(result.Status).To(Equal(models.CaseStatusSkipped))
			Expect(result.Error).To(Equal(context.Canceled.Error()))
		})

		It("should wait for in-flight work to finish on Close", func() {
			s = scheduler.NewScheduler(1)

			started := make(chan struct{})
			unblock := make(chan struct{})
			s.AddWork("blocking", func(ctx context.Context) models.CaseResult {
				close(started)
				<-unblock
				return models.CaseResult{Name: "blocking", Status: models.CaseStatusPassed}
			})
			Eventually(started, 1*time.Second).Should(BeClosed())

			closeDone := make(chan struct{})
			go func() {
				s.Close()
				close(closeDone)
			}()

			Consistently(closeDone, 200*time.Millisecond).ShouldNot(BeClosed())
			close(unblock)
			Eventually(closeDone, 1*time.Second).Should(BeClosed())
			s = nil // prevent AfterEach from closing again
		})
	})
})
