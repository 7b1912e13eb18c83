package receipt

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		baseDir string
		archive *LocalStorage
	)

	BeforeEach(func() {
		baseDir = filepath.Join(GinkgoT().TempDir(), "receipts")
		var err error
		archive, err = NewLocalStorage(baseDir)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should create the base directory", func() {
		Expect(baseDir).To(BeADirectory())
	})

	Describe("Save", func() {
		var (
			name      string
			savedName string
			err       error
		)

		BeforeEach(func() {
			name = "tx-1_lunch.jpg"
		})

		JustBeforeEach(func() {
			savedName, err = archive.Save(name, []byte("jpeg bytes"))
		})

		When("the name is local", func() {
			It("should return the name to fetch the file with", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(savedName).To(Equal(name))
			})

			It("should write the file under the base directory", func() {
				data, readErr := os.ReadFile(filepath.Join(baseDir, name))
				Expect(readErr).NotTo(HaveOccurred())
				Expect(string(data)).To(Equal("jpeg bytes"))
			})
		})

		When("the name escapes the base directory", func() {
			BeforeEach(func() {
				name = "../escape.jpg"
			})

			It("returns an error", func() {
				Expect(err).To(MatchError(ContainSubstring("invalid file name")))
				Expect(filepath.Join(filepath.Dir(baseDir), "escape.jpg")).NotTo(BeAnExistingFile())
			})
		})

		When("the name is empty", func() {
			BeforeEach(func() {
				name = ""
			})

			It("returns an error", func() {
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Get", func() {
		BeforeEach(func() {
			_, err := archive.Save("tx-1_lunch.png", []byte("png bytes"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("should return the stored bytes", func() {
			data, err := archive.Get("tx-1_lunch.png")
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("png bytes"))
		})

		It("returns an error for a missing file", func() {
			_, err := archive.Get("missing.png")
			Expect(err).To(MatchError(ContainSubstring("reading file")))
		})

		It("refuses absolute paths", func() {
			_, err := archive.Get("/etc/hostname")
			Expect(err).To(MatchError(ContainSubstring("invalid file name")))
		})
	})

	Describe("Delete", func() {
		BeforeEach(func() {
			_, err := archive.Save("tx-1_lunch.pdf", []byte("pdf bytes"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("should remove the file", func() {
			Expect(archive.Delete("tx-1_lunch.pdf")).To(Succeed())
			Expect(filepath.Join(baseDir, "tx-1_lunch.pdf")).NotTo(BeAnExistingFile())
		})

		It("returns an error for a missing file", func() {
			Expect(archive.Delete("missing.pdf")).To(MatchError(ContainSubstring("deleting file")))
		})
	})
})
