package store_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kubev2v/qemu-backup-harness/internal/models"
	"github.com/kubev2v/qemu-backup-harness/internal/store"
	"github.com/kubev2v/qemu-backup-harness/internal/store/migrations"
	srvErrors "github.com/kubev2v/qemu-backup-harness/pkg/errors"
)

func TestStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Store Suite")
}

var _ = Describe("RunStore", func() {
	var (
		ctx context.Context
		s   *store.Store
		db  *sql.DB
	)

	newRun := func(id string, started time.Time, results ...models.CaseResult) *models.Run {
		return &models.Run{
			ID:         id,
			StartedAt:  started,
			FinishedAt: started.Add(time.Minute),
			Results:    results,
		}
	}

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		db, err = store.NewDB(":memory:")
		Expect(err).NotTo(HaveOccurred())

		err = migrations.Run(ctx, db)
		Expect(err).NotTo(HaveOccurred())

		s = store.NewStore(db)
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Context("Get", func() {
		// Given an empty run store
		// When we try to get a run
		// Then it should return RunNotFoundError
		It("should return RunNotFoundError when no run exists", func() {
			// Act
			_, err := s.Runs().Get(ctx, "missing")

			// Assert
			Expect(err).To(HaveOccurred())
			Expect(srvErrors.IsResourceNotFoundError(err)).To(BeTrue())
		})

		// Given a saved run with case results
		// When we retrieve it by ID
		// Then all results should round-trip
		It("should return the saved run with its results", func() {
			// Arrange
			run := newRun("run-1", time.Now().UTC().Truncate(time.Second),
				models.CaseResult{Name: "incremental/simple", Status: models.CaseStatusPassed, Duration: 3 * time.Second},
				models.CaseResult{Name: "bitmap/not-found", Status: models.CaseStatusFailed, Error: "boom", Duration: time.Second},
			)
			Expect(s.Runs().Save(ctx, run)).To(Succeed())

			// Act
			retrieved, err := s.Runs().Get(ctx, "run-1")

			// Assert
			Expect(err).NotTo(HaveOccurred())
			Expect(retrieved.ID).To(Equal("run-1"))
			Expect(retrieved.Results).To(HaveLen(2))
			Expect(retrieved.Results[0].Name).To(Equal("bitmap/not-found"))
			Expect(retrieved.Results[0].Status).To(Equal(models.CaseStatusFailed))
			Expect(retrieved.Results[0].Error).To(Equal("boom"))
			Expect(retrieved.Results[1].Name).To(Equal("incremental/simple"))
			Expect(retrieved.Results[1].Duration).To(Equal(3 * time.Second))
		})
	})

	Context("List", func() {
		// Given three saved runs
		// When we list them
		// Then they should come back newest first
		It("should list runs newest first", func() {
			// Arrange
			base := time.Now().UTC().Truncate(time.Second)
			for i, id := range []string{"run-a", "run-b", "run-c"} {
				run := newRun(id, base.Add(time.Duration(i)*time.Hour),
					models.CaseResult{Name: "c", Status: models.CaseStatusPassed})
				Expect(s.Runs().Save(ctx, run)).To(Succeed())
			}

			// Act
			runs, err := s.Runs().List(ctx)

			// Assert
			Expect(err).NotTo(HaveOccurred())
			Expect(runs).To(HaveLen(3))
			Expect(runs[0].ID).To(Equal("run-c"))
			Expect(runs[2].ID).To(Equal("run-a"))
		})

		It("should honor the limit option", func() {
			base := time.Now().UTC().Truncate(time.Second)
			for i, id := range []string{"run-a", "run-b", "run-c"} {
				run := newRun(id, base.Add(time.Duration(i)*time.Hour))
				Expect(s.Runs().Save(ctx, run)).To(Succeed())
			}

			runs, err := s.Runs().List(ctx, store.WithLimit(2))
			Expect(err).NotTo(HaveOccurred())
			Expect(runs).To(HaveLen(2))
		})

		// Given a passing run and a failing run
		// When we list with WithFailuresOnly
		// Then only the failing run should be returned
		It("should filter to failing runs", func() {
			base := time.Now().UTC().Truncate(time.Second)
			ok := newRun("run-ok", base,
				models.CaseResult{Name: "c", Status: models.CaseStatusPassed})
			bad := newRun("run-bad", base.Add(time.Hour),
				models.CaseResult{Name: "c", Status: models.CaseStatusFailed, Error: "boom"})
			Expect(s.Runs().Save(ctx, ok)).To(Succeed())
			Expect(s.Runs().Save(ctx, bad)).To(Succeed())

			runs, err := s.Runs().List(ctx, store.WithFailuresOnly())
			Expect(err).NotTo(HaveOccurred())
			Expect(runs).To(HaveLen(1))
			Expect(runs[0].ID).To(Equal("run-bad"))
			Expect(runs[0].Failed).To(Equal(1))
		})

		It("should filter by start time", func() {
			base := time.Now().UTC().Truncate(time.Second)
			Expect(s.Runs().Save(ctx, newRun("run-old", base.Add(-48*time.Hour)))).To(Succeed())
			Expect(s.Runs().Save(ctx, newRun("run-new", base))).To(Succeed())

			runs, err := s.Runs().List(ctx, store.SinceTime(base.Add(-time.Hour)))
			Expect(err).NotTo(HaveOccurred())
			Expect(runs).To(HaveLen(1))
			Expect(runs[0].ID).To(Equal("run-new"))
		})
	})
})
