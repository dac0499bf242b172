package batch

import (
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/vmihailenco/msgpack/v5"
)

var _ = Describe("Sessions", func() {
	var (
		store    *memStore
		clock    *fakeClock
		sessions *Sessions
		now      time.Time
	)

	seed := func(s Session) {
		data, err := msgpack.Marshal(s)
		Expect(err).NotTo(HaveOccurred())
		store.data["alice"] = data
	}

	BeforeEach(func() {
		now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		store = newMemStore()
		clock = newFakeClock(now)
		sessions = NewSessions(store, DefaultSessionTTL, clock)
	})

	Describe("Restore", func() {
		It("returns an empty session when nothing is stored", func() {
			session := sessions.Restore("alice")
			Expect(session.IsEmpty()).To(BeTrue())
			Expect(session.Items).To(BeEmpty())
			Expect(session.Items).NotTo(BeNil())
		})

		It("restores a recent session", func() {
			seed(Session{
				Items:        []ScanItem{{Name: "a.jpg", Status: StatusDone, Message: MessageSaved}},
				BatchTitle:   "March",
				LastActivity: now.Add(-time.Minute).UnixMilli(),
			})

			session := sessions.Restore("alice")
			Expect(session.BatchTitle).To(Equal("March"))
			Expect(session.Items).To(Equal([]ScanItem{{Name: "a.jpg", Status: StatusDone, Message: MessageSaved}}))
		})

		It("discards a session idle longer than the TTL", func() {
			seed(Session{
				Items:        []ScanItem{{Name: "a.jpg", Status: StatusDone}},
				BatchTitle:   "March",
				Error:        "old",
				LastActivity: now.Add(-DefaultSessionTTL - time.Millisecond).UnixMilli(),
			})

			session := sessions.Restore("alice")
			Expect(session.Items).To(BeEmpty())
			Expect(session.Error).To(BeEmpty())
			Expect(session.BatchTitle).To(BeEmpty())
			Expect(store.has("alice")).To(BeFalse())
		})

		It("keeps a session exactly at the TTL", func() {
			seed(Session{
				BatchTitle:   "March",
				LastActivity: now.Add(-DefaultSessionTTL).UnixMilli(),
			})

			Expect(sessions.Restore("alice").BatchTitle).To(Equal("March"))
		})

		It("marks interrupted items as failed", func() {
			seed(Session{
				Items: []ScanItem{
					{Name: "a.jpg", Status: StatusDone, Message: MessageSaved},
					{Name: "b.jpg", Status: StatusProcessing},
				},
				LastActivity: now.UnixMilli(),
			})

			session := sessions.Restore("alice")
			Expect(session.Items[0].Status).To(Equal(StatusDone))
			Expect(session.Items[1]).To(Equal(ScanItem{Name: "b.jpg", Status: StatusFailed, Message: MessageInterrupted}))
		})

		It("treats corrupt data as empty and removes it", func() {
			store.data["alice"] = []byte("{not msgpack")

			Expect(sessions.Restore("alice").IsEmpty()).To(BeTrue())
			Expect(store.has("alice")).To(BeFalse())
		})

		It("treats a load failure as empty", func() {
			store.loadErr = errors.New("disk gone")
			Expect(sessions.Restore("alice").IsEmpty()).To(BeTrue())
		})
	})

	Describe("Persist", func() {
		It("stamps the last activity time and round-trips", func() {
			session := Session{Items: []ScanItem{{Name: "a.jpg", Status: StatusPending}}, BatchTitle: "March", SessionID: "s1"}
			Expect(sessions.Persist("alice", &session)).To(Succeed())
			Expect(session.LastActivity).To(Equal(now.UnixMilli()))

			restored := sessions.Restore("alice")
			Expect(restored).To(Equal(session))
		})

		It("wraps store failures", func() {
			store.saveErr = errors.New("full")
			err := sessions.Persist("alice", &Session{BatchTitle: "x"})
			Expect(err).To(MatchError(ContainSubstring("saving session")))
		})
	})

	It("Clear removes the stored session", func() {
		Expect(sessions.Persist("alice", &Session{BatchTitle: "x"})).To(Succeed())
		Expect(sessions.Clear("alice")).To(Succeed())
		Expect(store.has("alice")).To(BeFalse())
	})
})

var _ = Describe("BoltSessionStore", func() {
	var store *BoltSessionStore

	BeforeEach(func() {
		var err error
		store, err = NewBoltSessionStore(filepath.Join(GinkgoT().TempDir(), "sessions.db"))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if store != nil {
			store.Close()
		}
	})

	It("returns nil for an unknown owner", func() {
		data, err := store.Load("nobody")
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(BeNil())
	})

	It("saves, loads and deletes per owner", func() {
		Expect(store.Save("alice", []byte("one"))).To(Succeed())
		Expect(store.Save("bob", []byte("two"))).To(Succeed())

		data, err := store.Load("alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("one"))

		Expect(store.Delete("alice")).To(Succeed())
		data, err = store.Load("alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(BeNil())

		data, err = store.Load("bob")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("two"))
	})

	It("deleting a missing owner succeeds", func() {
		Expect(store.Delete("nobody")).To(Succeed())
	})

	It("backs Sessions end to end", func() {
		sessions := NewSessions(store, time.Hour, nil)
		session := Session{Items: []ScanItem{{Name: "a.jpg", Status: StatusProcessing}}, BatchTitle: "March"}
		Expect(sessions.Persist("alice", &session)).To(Succeed())

		restored := sessions.Restore("alice")
		Expect(restored.BatchTitle).To(Equal("March"))
		Expect(restored.Items[0].Status).To(Equal(StatusFailed))
	})
})
