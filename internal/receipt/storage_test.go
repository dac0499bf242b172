package receipt

import (
	"context"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		ctx     context.Context
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		ctx = context.Background()
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(tmpDir, "http://localhost:8080/files/")
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Upload", func() {
		var (
			upload *Upload
			err    error
		)

		JustBeforeEach(func() {
			upload, err = storage.Upload(ctx, "alice", "IMG_2024 (1).jpg", []byte("test file content"), "image/jpeg")
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should store the file under the owner prefix", func() {
			Expect(upload.Path).To(HavePrefix(OwnerPrefix("alice")))
			Expect(filepath.Join(tmpDir, filepath.FromSlash(upload.Path))).To(BeAnExistingFile())
		})

		It("should sanitize the filename", func() {
			Expect(upload.Path).To(HaveSuffix("_IMG_2024 1.jpg"))
		})

		It("should build the URL from the base URL", func() {
			Expect(upload.URL).To(Equal("http://localhost:8080/files/" + upload.Path))
		})

		It("should record the content type", func() {
			Expect(upload.ContentType).To(Equal("image/jpeg"))
		})
	})

	Describe("Get", func() {
		It("returns the stored bytes", func() {
			upload, err := storage.Upload(ctx, "alice", "a.png", []byte("png"), "image/png")
			Expect(err).NotTo(HaveOccurred())

			data, err := storage.Get(ctx, upload.Path)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("png"))
		})

		It("returns ErrFileNotFound for unknown paths", func() {
			_, err := storage.Get(ctx, "receipts/alice/nope.png")
			Expect(err).To(MatchError(ErrFileNotFound))
		})

		It("does not escape the base directory", func() {
			_, err := storage.Get(ctx, "../../etc/passwd")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Delete", func() {
		It("removes the file", func() {
			upload, err := storage.Upload(ctx, "alice", "a.png", []byte("png"), "image/png")
			Expect(err).NotTo(HaveOccurred())

			Expect(storage.Delete(ctx, upload.Path)).To(Succeed())
			Expect(filepath.Join(tmpDir, filepath.FromSlash(upload.Path))).NotTo(BeAnExistingFile())
		})

		It("returns ErrFileNotFound for unknown paths", func() {
			Expect(storage.Delete(ctx, "receipts/alice/nope.png")).To(MatchError(ErrFileNotFound))
		})
	})
})

var _ = DescribeTable("sanitizeFilename",
	func(input, expected string) {
		Expect(sanitizeFilename(input)).To(Equal(expected))
	},
	Entry("plain", "receipt.jpg", "receipt.jpg"),
	Entry("special characters", "rcpt#1@shop!.PNG", "rcpt1shop.png"),
	Entry("empty base", "!!!.jpg", "receipt.jpg"),
	Entry("long name", strings.Repeat("a", 80)+".jpg", strings.Repeat("a", 50)+".jpg"),
)

var _ = Describe("OwnerPrefix", func() {
	It("keeps owners that differ only in punctuation apart", func() {
		Expect(OwnerPrefix("a.b")).NotTo(Equal(OwnerPrefix("ab")))
		Expect(OwnerPrefix("a/b")).NotTo(Equal(OwnerPrefix("ab")))
	})

	It("never nests one owner under another", func() {
		Expect(OwnerPrefix("alice")).NotTo(HavePrefix(OwnerPrefix("ali")))
	})

	It("is a single path segment", func() {
		Expect(strings.Count(OwnerPrefix("x/../y"), "/")).To(Equal(2))
	})
})
