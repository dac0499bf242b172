package receipt

import (
	"context"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BoltDB", func() {
	var (
		ctx context.Context
		db  *BoltDB
	)

	newRecord := func(supplier string, created time.Time) *Record {
		return &Record{
			Candidate: Candidate{
				Supplier:  supplier,
				Items:     []LineItem{{Name: "Milk", Quantity: qty(1), Price: "50.00"}},
				Timestamp: created,
			},
			Status:    StatusProcessed,
			CreatedAt: created,
			UpdatedAt: created,
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		db, err = NewBoltDB(filepath.Join(GinkgoT().TempDir(), "test.db"))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("SaveReceipt", func() {
		var (
			record *Record
			id     string
			err    error
		)

		BeforeEach(func() {
			record = newRecord("Acme", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
		})

		JustBeforeEach(func() {
			id, err = db.SaveReceipt(ctx, "alice", record)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should assign an ID", func() {
				Expect(id).NotTo(BeEmpty())
				Expect(record.ID).To(Equal(id))
			})

			It("should round-trip line items", func() {
				saved, getErr := db.GetReceipt(ctx, "alice", id)
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.Supplier).To(Equal("Acme"))
				Expect(saved.Items).To(HaveLen(1))
				Expect(*saved.Items[0].Quantity).To(Equal(1.0))
			})
		})

		When("the record already has an ID", func() {
			BeforeEach(func() {
				record.ID = "fixed"
			})

			It("should keep it", func() {
				Expect(id).To(Equal("fixed"))
			})

			It("should overwrite the stored receipt on a second save", func() {
				record.Supplier = "Acme Ltd"
				record.Status = StatusNeedsReview
				_, err := db.SaveReceipt(ctx, "alice", record)
				Expect(err).NotTo(HaveOccurred())

				saved, err := db.GetReceipt(ctx, "alice", "fixed")
				Expect(err).NotTo(HaveOccurred())
				Expect(saved.Supplier).To(Equal("Acme Ltd"))
				Expect(saved.Status).To(Equal(StatusNeedsReview))

				all, err := db.ListReceipts(ctx, "alice")
				Expect(err).NotTo(HaveOccurred())
				Expect(all).To(HaveLen(1))
			})
		})

		When("no owner is given", func() {
			JustBeforeEach(func() {
				_, err = db.SaveReceipt(ctx, "", newRecord("x", time.Now()))
			})

			It("returns an error", func() {
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("GetReceipt", func() {
		It("scopes receipts to their owner", func() {
			id, err := db.SaveReceipt(ctx, "alice", newRecord("Acme", time.Now()))
			Expect(err).NotTo(HaveOccurred())

			_, err = db.GetReceipt(ctx, "bob", id)
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("returns not found for unknown IDs", func() {
			_, err := db.SaveReceipt(ctx, "alice", newRecord("Acme", time.Now()))
			Expect(err).NotTo(HaveOccurred())

			_, err = db.GetReceipt(ctx, "alice", "nonexistent")
			Expect(err).To(MatchError(ErrNotFound))
			Expect(err).To(MatchError(ContainSubstring("nonexistent")))
		})
	})

	Describe("ListReceipts", func() {
		It("returns an empty list for a new owner", func() {
			records, err := db.ListReceipts(ctx, "nobody")
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(BeEmpty())
		})

		It("returns newest first", func() {
			older := newRecord("Older", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
			newer := newRecord("Newer", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
			_, err := db.SaveReceipt(ctx, "alice", older)
			Expect(err).NotTo(HaveOccurred())
			_, err = db.SaveReceipt(ctx, "alice", newer)
			Expect(err).NotTo(HaveOccurred())

			records, err := db.ListReceipts(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(2))
			Expect(records[0].Supplier).To(Equal("Newer"))
		})
	})

	Describe("DeleteReceipt", func() {
		It("removes the receipt", func() {
			id, err := db.SaveReceipt(ctx, "alice", newRecord("Acme", time.Now()))
			Expect(err).NotTo(HaveOccurred())

			Expect(db.DeleteReceipt(ctx, "alice", id)).To(Succeed())
			_, err = db.GetReceipt(ctx, "alice", id)
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("returns not found for unknown IDs", func() {
			Expect(db.DeleteReceipt(ctx, "alice", "missing")).To(MatchError(ErrNotFound))
		})
	})
})
