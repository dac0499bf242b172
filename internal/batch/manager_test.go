package batch

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Manager", func() {
	var (
		store     *memStore
		extractor *mockExtractor
		persister *mockPersister
		manager   *Manager
	)

	BeforeEach(func() {
		store = newMemStore()
		extractor = newMockExtractor()
		persister = &mockPersister{}
		clock := newFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
		manager = NewManager(Deps{
			Extractor: extractor,
			Uploader:  &mockUploader{errs: make(map[string]error)},
			Persister: persister,
			Sessions:  NewSessions(store, DefaultSessionTTL, clock),
			Clock:     clock,
		})
	})

	AfterEach(func() {
		manager.CloseAll()
	})

	It("returns the same controller for an owner", func() {
		Expect(manager.Open("alice")).To(BeIdenticalTo(manager.Open("alice")))
	})

	It("keeps owners apart", func() {
		alice := manager.Open("alice")
		bob := manager.Open("bob")
		Expect(alice).NotTo(BeIdenticalTo(bob))

		Expect(alice.SubmitBatch([]File{file("a.jpg")}, "March")).To(Succeed())
		Expect(bob.Snapshot().Items).To(BeEmpty())
	})

	It("restores the session after sign-out and sign-in", func() {
		alice := manager.Open("alice")
		Expect(alice.SubmitBatch([]File{file("a.jpg")}, "March")).To(Succeed())
		_, err := alice.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())

		manager.Close("alice")
		updates, _ := alice.Watch()
		Eventually(updates).Should(BeClosed())

		reopened := manager.Open("alice")
		Expect(reopened).NotTo(BeIdenticalTo(alice))
		Expect(reopened.Snapshot().BatchTitle).To(Equal("March"))
		Expect(reopened.Snapshot().Items).To(Equal([]ScanItem{{Name: "a.jpg", Status: StatusDone, Message: MessageSaved}}))
	})

	When("the owner signs out while a run is in flight", func() {
		var first *Controller

		BeforeEach(func() {
			extractor.started = make(chan string, 4)
			extractor.release = make(chan struct{})

			first = manager.Open("alice")
			Expect(first.SubmitBatch([]File{file("a.jpg")}, "March")).To(Succeed())
			Expect(first.Start(context.Background())).To(Succeed())
			Eventually(extractor.started).Should(Receive(Equal("a.jpg")))
		})

		It("ends the owner's watches", func() {
			updates, _ := first.Watch()
			manager.Close("alice")
			Eventually(updates).Should(BeClosed())
			close(extractor.release)
			Eventually(first.Running).Should(BeFalse())
		})

		It("hands the running controller back on sign-in", func() {
			manager.Close("alice")

			second := manager.Open("alice")
			Expect(second).To(BeIdenticalTo(first))
			Expect(second.Snapshot().Items).To(Equal([]ScanItem{{Name: "a.jpg", Status: StatusProcessing}}))
			Expect(second.SubmitBatch([]File{file("b.jpg")}, "April")).To(MatchError(ErrRunActive))
			Expect(second.Start(context.Background())).To(MatchError(ErrRunActive))

			close(extractor.release)
			Eventually(second.Running).Should(BeFalse())
			Expect(second.Snapshot().BatchTitle).To(Equal("March"))
			Expect(second.Snapshot().Items).To(Equal([]ScanItem{{Name: "a.jpg", Status: StatusDone, Message: MessageSaved}}))
			Expect(persister.Records()).To(HaveLen(1))

			// Signing in again kept it alive past the run
			Expect(manager.Open("alice")).To(BeIdenticalTo(first))
		})

		It("tears the controller down once the run ends", func() {
			manager.Close("alice")
			close(extractor.release)
			Eventually(func() bool { return watchEnded(first) }).Should(BeTrue())

			reopened := manager.Open("alice")
			Expect(reopened).NotTo(BeIdenticalTo(first))
			Expect(reopened.Snapshot().Items).To(Equal([]ScanItem{{Name: "a.jpg", Status: StatusDone, Message: MessageSaved}}))
		})
	})

	It("ignores closing an unknown owner", func() {
		Expect(func() { manager.Close("nobody") }).NotTo(Panic())
	})
})

// watchEnded reports whether c has been closed, which ends every new watch at once
func watchEnded(c *Controller) bool {
	updates, cancel := c.Watch()
	defer cancel()
	select {
	case _, ok := <-updates:
		return !ok
	default:
		return false
	}
}
