package cases_test

import (
	"sort"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kubev2v/qemu-backup-harness/internal/cases"
	srvErrors "github.com/kubev2v/qemu-backup-harness/pkg/errors"
)

func TestCases(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Cases Suite")
}

var _ = Describe("Registry", func() {
	Describe("All", func() {
		It("should contain the built-in cases sorted by name", func() {
			all := cases.All()
			names := make([]string, 0, len(all))
			for _, c := range all {
				names = append(names, c.Name)
			}

			Expect(sort.StringsAreSorted(names)).To(BeTrue())
			Expect(names).To(ContainElements(
				"incremental/simple",
				"incremental/chain",
				"incremental/failure-rollback",
				"bitmap/granularity",
				"bitmap/not-found",
				"bitmap/sync-without-name",
				"backup/full-then-verify",
			))
		})

		It("should give every case a description and a run function", func() {
			for _, c := range cases.All() {
				Expect(c.Description).NotTo(BeEmpty(), c.Name)
				Expect(c.Run).NotTo(BeNil(), c.Name)
			}
		})
	})

	Describe("Get", func() {
		It("should find a registered case", func() {
			c, err := cases.Get("incremental/simple")
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Name).To(Equal("incremental/simple"))
		})

		It("should return CaseNotFoundError for unknown names", func() {
			_, err := cases.Get("no/such-case")
			Expect(err).To(HaveOccurred())
			Expect(srvErrors.IsResourceNotFoundError(err)).To(BeTrue())
		})
	})

	Describe("Select", func() {
		It("should return all cases for an empty selection", func() {
			selected, err := cases.Select(nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(selected).To(HaveLen(len(cases.All())))
		})

		It("should resolve names in order", func() {
			selected, err := cases.Select([]string{"bitmap/not-found", "incremental/chain"})
			Expect(err).NotTo(HaveOccurred())
			Expect(selected).To(HaveLen(2))
			Expect(selected[0].Name).To(Equal("bitmap/not-found"))
			Expect(selected[1].Name).To(Equal("incremental/chain"))
		})

		It("should fail the whole selection on one unknown name", func() {
			_, err := cases.Select([]string{"incremental/simple", "no/such-case"})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Register", func() {
		It("should panic on duplicate names", func() {
			Expect(func() {
				cases.Register(cases.Case{Name: "incremental/simple"})
			}).To(Panic())
		})
	})
})
