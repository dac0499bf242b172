package receipt

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/receipt-scanner/internal/scanning"
)

func qty(f float64) *float64 { return &f }

func completeCandidate() *Candidate {
	return &Candidate{
		Supplier:      "Acme",
		TotalAmount:   "100",
		TaxAmount:     "16",
		ReceiptDate:   "01/01/2024",
		Category:      "Groceries & Provisions",
		InvoiceNumber: "INV1",
		KRAPin:        "P1",
		CUInvoice:     "CU1",
		Items: []LineItem{
			{Name: "Milk", Quantity: qty(1), Price: "50", Tax: "8", IsZeroRated: false},
		},
	}
}

var _ = Describe("IsMissing", func() {
	DescribeTable("values",
		func(v string, missing bool) {
			Expect(IsMissing(v)).To(Equal(missing))
		},
		Entry("empty", "", true),
		Entry("whitespace", "   \t", true),
		Entry("placeholder", "N/A", true),
		Entry("zero", "0", false),
		Entry("text", "Acme", false),
	)
})

var _ = Describe("Classify", func() {
	var (
		candidate *Candidate
		status    Status
	)

	BeforeEach(func() {
		candidate = completeCandidate()
	})

	JustBeforeEach(func() {
		status = Classify(candidate)
	})

	When("every field is present", func() {
		It("is processed", func() {
			Expect(status).To(Equal(StatusProcessed))
		})
	})

	When("a line item has no tax and is not zero-rated", func() {
		BeforeEach(func() {
			candidate.Items[0].Tax = ""
			candidate.Items[0].IsZeroRated = false
		})

		It("needs review", func() {
			Expect(status).To(Equal(StatusNeedsReview))
		})
	})

	When("a zero-rated line item has no tax", func() {
		BeforeEach(func() {
			candidate.Items[0].Tax = ""
			candidate.Items[0].IsZeroRated = true
		})

		It("is processed", func() {
			Expect(status).To(Equal(StatusProcessed))
		})
	})

	When("the item list is empty", func() {
		BeforeEach(func() {
			candidate.Items = nil
		})

		It("needs review", func() {
			Expect(status).To(Equal(StatusNeedsReview))
		})
	})

	When("a line item has no quantity", func() {
		BeforeEach(func() {
			candidate.Items[0].Quantity = nil
		})

		It("needs review", func() {
			Expect(status).To(Equal(StatusNeedsReview))
		})
	})

	When("a line item price is N/A", func() {
		BeforeEach(func() {
			candidate.Items[0].Price = "N/A"
		})

		It("needs review", func() {
			Expect(status).To(Equal(StatusNeedsReview))
		})
	})

	DescribeTable("a required scalar is missing",
		func(mutate func(c *Candidate)) {
			c := completeCandidate()
			mutate(c)
			Expect(Classify(c)).To(Equal(StatusNeedsReview))
		},
		Entry("supplier", func(c *Candidate) { c.Supplier = "" }),
		Entry("receipt date", func(c *Candidate) { c.ReceiptDate = "N/A" }),
		Entry("total amount", func(c *Candidate) { c.TotalAmount = " " }),
		Entry("tax amount", func(c *Candidate) { c.TaxAmount = "" }),
		Entry("category", func(c *Candidate) { c.Category = "N/A" }),
		Entry("invoice number", func(c *Candidate) { c.InvoiceNumber = "" }),
		Entry("KRA PIN", func(c *Candidate) { c.KRAPin = "N/A" }),
		Entry("CU invoice", func(c *Candidate) { c.CUInvoice = "" }),
	)

	It("is deterministic and leaves the candidate untouched", func() {
		c := completeCandidate()
		c.Items[0].Tax = ""
		before := *c
		first := Classify(c)
		for i := 0; i < 10; i++ {
			Expect(Classify(c)).To(Equal(first))
		}
		Expect(c.Supplier).To(Equal(before.Supplier))
		Expect(c.Items).To(HaveLen(1))
		Expect(c.Items[0].Tax).To(BeEmpty())
	})
})

var _ = Describe("NewCandidate", func() {
	var (
		fields *scanning.ExtractedFields
		upload *Upload
		at     time.Time
	)

	BeforeEach(func() {
		q := 2.0
		fields = &scanning.ExtractedFields{
			Supplier:    "Acme",
			TotalAmount: "100.00",
			Items:       []scanning.LineItem{{Name: "Milk", Quantity: &q, Price: "50.00", IsZeroRated: true}},
		}
		upload = &Upload{Path: "receipts/alice/x.jpg", URL: "http://localhost/files/receipts/alice/x.jpg", ContentType: "image/jpeg"}
		at = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	})

	It("merges fields, upload and batch metadata", func() {
		c, err := NewCandidate(fields, upload, "  June Market Run ", at)
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Supplier).To(Equal("Acme"))
		Expect(c.ImageURL).To(Equal(upload.URL))
		Expect(c.ImagePath).To(Equal(upload.Path))
		Expect(c.BatchTitle).To(Equal("June Market Run"))
		Expect(c.Timestamp).To(Equal(at))
		Expect(c.Items).To(HaveLen(1))
		Expect(c.Items[0].IsZeroRated).To(BeTrue())
	})

	It("copies quantities rather than sharing them", func() {
		c, err := NewCandidate(fields, upload, "t", at)
		Expect(err).NotTo(HaveOccurred())
		*fields.Items[0].Quantity = 9
		Expect(*c.Items[0].Quantity).To(Equal(2.0))
	})

	It("fails without fields", func() {
		_, err := NewCandidate(nil, upload, "t", at)
		Expect(err).To(MatchError(ErrNoFields))
	})

	It("fails without an upload URL", func() {
		_, err := NewCandidate(fields, &Upload{}, "t", at)
		Expect(err).To(MatchError(ErrNoUpload))
	})
})

var _ = Describe("NewRecord", func() {
	It("carries the classified status", func() {
		c := completeCandidate()
		r, err := NewRecord(c, StatusNeedsReview)
		Expect(err).NotTo(HaveOccurred())
		Expect(r.Status).To(Equal(StatusNeedsReview))
		Expect(r.Supplier).To(Equal("Acme"))
	})

	It("rejects unknown statuses", func() {
		_, err := NewRecord(completeCandidate(), Status("done"))
		Expect(err).To(HaveOccurred())
	})
})
