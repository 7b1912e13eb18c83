package receipt

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/shopspring/decimal"

	"github.com/zombor/spend-tracker/internal/insights"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		ocr         *mockTextExtractor
		extractor   *mockReceiptExtractor
		analyzer    *mockAnalyzer
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		ocr = newMockTextExtractor()
		extractor = newMockReceiptExtractor()
		analyzer = &mockAnalyzer{}
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		service := NewServiceWithDeps(db, storage, ocr, extractor, analyzer, &mockIDGenerator{},
			&mockTimeSource{now: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)})
		server := NewServerWithMux(service, auth, http.NewServeMux())

		ghttpServer = ghttp.NewServer()
		anyPath := regexp.MustCompile(`.*`)
		for _, method := range []string{"GET", "POST", "DELETE", "OPTIONS"} {
			ghttpServer.RouteToHandler(method, anyPath, server.ServeHTTP)
		}
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	url := func(path string) string {
		return ghttpServer.URL() + path
	}

	readJSON := func(resp *http.Response, v any) {
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(body, v)).To(Succeed())
	}

	upload := func(path, filename string, data []byte, categories ...string) *http.Response {
		var b bytes.Buffer
		writer := multipart.NewWriter(&b)
		if filename != "" {
			part, err := writer.CreateFormFile("file", filename)
			Expect(err).NotTo(HaveOccurred())
			part.Write(data)
		}
		for _, c := range categories {
			Expect(writer.WriteField("category", c)).To(Succeed())
		}
		Expect(writer.Close()).To(Succeed())

		resp, err := http.Post(url(path), writer.FormDataContentType(), &b)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	postJSON := func(path string, body string) *http.Response {
		resp, err := http.Post(url(path), "application/json", strings.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	Describe("handleScanReceipt", func() {
		const scanPath = "/api/users/user-1/receipts/scan"

		When("the receipt is readable", func() {
			It("should return the draft", func() {
				resp := upload(scanPath, "lunch.jpg", []byte("fake image data"))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				var body map[string]any
				readJSON(resp, &body)
				Expect(body).To(HaveKeyWithValue("user_id", "user-1"))
				Expect(body).To(HaveKeyWithValue("amount", "14.5"))
				Expect(body).To(HaveKeyWithValue("category", "Food"))
				Expect(body).To(HaveKeyWithValue("created_at", "2024-05-20"))
				Expect(body).To(HaveKeyWithValue("needs_review", false))
				Expect(body).To(HaveKeyWithValue("receipt_file", "test-id-1_lunch.jpg"))
			})

			It("should not save a transaction", func() {
				resp := upload(scanPath, "lunch.jpg", []byte("fake image data"))
				resp.Body.Close()
				Expect(db.transactions).To(BeEmpty())
			})

			It("should pass the submitted categories to the extractor", func() {
				resp := upload(scanPath, "lunch.jpg", []byte("fake image data"), "Dining", " ", "Travel")
				resp.Body.Close()
				Expect(extractor.categories).To(Equal([]string{"Dining", "Travel"}))
			})
		})

		When("submit is requested", func() {
			It("should save the transaction", func() {
				resp := upload(scanPath+"?submit=true", "lunch.jpg", []byte("fake image data"))
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var body submittedScanResponse
				readJSON(resp, &body)
				Expect(body.Transaction.Amount).To(Equal(int64(1450)))
				Expect(body.Transaction.ReceiptFile).To(Equal("test-id-1_lunch.jpg"))
				Expect(db.transactions).To(HaveLen(1))
			})

			When("the draft needs review", func() {
				BeforeEach(func() {
					extractor.data.Amount = decimal.Zero
				})

				It("should return the draft without saving", func() {
					resp := upload(scanPath+"?submit=true", "lunch.jpg", []byte("fake image data"))
					Expect(resp.StatusCode).To(Equal(http.StatusOK))

					var body map[string]any
					readJSON(resp, &body)
					Expect(body).To(HaveKeyWithValue("needs_review", true))
					Expect(db.transactions).To(BeEmpty())
				})
			})
		})

		When("no text can be read", func() {
			BeforeEach(func() {
				ocr.text = "   "
			})

			It("should return status Unprocessable Entity", func() {
				resp := upload(scanPath, "blurry.jpg", []byte("fake image data"))
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))

				var body map[string]string
				readJSON(resp, &body)
				Expect(body["error"]).To(Equal("Could not extract text from receipt"))
			})

			It("should not keep the uploaded image", func() {
				resp := upload(scanPath, "blurry.jpg", []byte("fake image data"))
				resp.Body.Close()
				Expect(storage.files).To(BeEmpty())
			})
		})

		When("no file is provided", func() {
			It("should return status Bad Request", func() {
				resp := upload(scanPath, "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

				var body map[string]string
				readJSON(resp, &body)
				Expect(body["error"]).To(ContainSubstring("file"))
			})
		})

		When("the form is invalid", func() {
			It("should return status Bad Request", func() {
				resp, err := http.Post(url(scanPath), "multipart/form-data", bytes.NewBufferString("invalid"))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

				var body map[string]string
				readJSON(resp, &body)
				Expect(body["error"]).To(Equal("Error parsing form"))
			})
		})

		When("the image cannot be archived", func() {
			BeforeEach(func() {
				storage.saveErr = errors.New("disk full")
			})

			It("should return status Internal Server Error", func() {
				resp := upload(scanPath, "lunch.jpg", []byte("fake image data"))
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				resp.Body.Close()
			})
		})
	})

	Describe("handleCreateTransaction", func() {
		const path = "/api/users/user-1/transactions"

		It("should save the draft", func() {
			resp := postJSON(path, `{"user_id": "someone-else", "category": "Food", "amount": "25.99", "note": "Lunch", "created_at": "2024-05-02"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var transaction Transaction
			readJSON(resp, &transaction)
			Expect(transaction.UserID).To(Equal("user-1"))
			Expect(transaction.Amount).To(Equal(int64(2599)))
			Expect(transaction.Category).To(Equal("Food"))
		})

		It("should accept numeric amounts", func() {
			resp := postJSON(path, `{"category": "Food", "amount": 3.5}`)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			resp.Body.Close()
		})

		It("should reject a zero amount", func() {
			resp := postJSON(path, `{"category": "Food", "amount": 0}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			var body map[string]string
			readJSON(resp, &body)
			Expect(body["error"]).To(Equal(ErrInvalidAmount.Error()))
		})

		It("should reject an invalid body", func() {
			resp := postJSON(path, `{`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		When("the draft points at an image the user did not upload", func() {
			BeforeEach(func() {
				storage.files["victim_receipt.png"] = []byte("someone else's receipt")
				db.uploads["user-2/victim_receipt.png"] = &Upload{Name: "victim_receipt.png", UserID: "user-2", ContentType: "image/png"}
			})

			It("should return status Bad Request and keep the image", func() {
				resp := postJSON(path, `{"category": "Food", "amount": "9.99", "receipt_file": "victim_receipt.png", "receipt_content_type": "image/png"}`)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()

				Expect(db.transactions).To(BeEmpty())
				Expect(storage.files).To(HaveKey("victim_receipt.png"))
			})
		})
	})

	Context("with saved transactions", func() {
		BeforeEach(func() {
			storage.files["r.png"] = []byte("png data")
			db.transactions["user-1/tx-1"] = &Transaction{ID: "tx-1", UserID: "user-1", Amount: 1200, ReceiptFile: "r.png", ReceiptContentType: "image/png"}
			db.transactions["user-1/tx-2"] = &Transaction{ID: "tx-2", UserID: "user-1", Amount: 800}
		})

		Describe("handleListTransactions", func() {
			It("should return the user's transactions", func() {
				resp, err := http.Get(url("/api/users/user-1/transactions"))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var transactions []*Transaction
				readJSON(resp, &transactions)
				Expect(transactions).To(HaveLen(2))
			})

			It("should return an empty array for another user", func() {
				resp, err := http.Get(url("/api/users/user-2/transactions"))
				Expect(err).NotTo(HaveOccurred())

				body, err := io.ReadAll(resp.Body)
				resp.Body.Close()
				Expect(err).NotTo(HaveOccurred())
				Expect(strings.TrimSpace(string(body))).To(Equal("[]"))
			})

			When("the database fails", func() {
				BeforeEach(func() {
					db.listErr = errors.New("database error")
				})

				It("should return status Internal Server Error", func() {
					resp, err := http.Get(url("/api/users/user-1/transactions"))
					Expect(err).NotTo(HaveOccurred())
					Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
					resp.Body.Close()
				})
			})
		})

		Describe("handleGetTransaction", func() {
			It("should return the transaction", func() {
				resp, err := http.Get(url("/api/users/user-1/transactions/tx-1"))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var transaction Transaction
				readJSON(resp, &transaction)
				Expect(transaction.Amount).To(Equal(int64(1200)))
			})

			It("should return status Not Found for a missing transaction", func() {
				resp, err := http.Get(url("/api/users/user-1/transactions/missing"))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				resp.Body.Close()
			})
		})

		Describe("handleGetReceiptFile", func() {
			It("should return the image", func() {
				resp, err := http.Get(url("/api/users/user-1/transactions/tx-1/receipt"))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))

				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(Equal("png data"))
			})

			It("should return status Not Found without an image", func() {
				resp, err := http.Get(url("/api/users/user-1/transactions/tx-2/receipt"))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				resp.Body.Close()
			})

			When("the database fails", func() {
				BeforeEach(func() {
					db.getErr = errors.New("database error")
				})

				It("should return status Internal Server Error", func() {
					resp, err := http.Get(url("/api/users/user-1/transactions/tx-1/receipt"))
					Expect(err).NotTo(HaveOccurred())
					Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
					resp.Body.Close()
				})
			})

			When("the archived image cannot be read", func() {
				BeforeEach(func() {
					storage.getErr = errors.New("permission denied")
				})

				It("should return status Internal Server Error", func() {
					resp, err := http.Get(url("/api/users/user-1/transactions/tx-1/receipt"))
					Expect(err).NotTo(HaveOccurred())
					Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
					resp.Body.Close()
				})
			})
		})

		Describe("handleDeleteTransaction", func() {
			It("should return status No Content", func() {
				req, err := http.NewRequest("DELETE", url("/api/users/user-1/transactions/tx-1"), nil)
				Expect(err).NotTo(HaveOccurred())
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
				resp.Body.Close()
				Expect(db.transactions).NotTo(HaveKey("user-1/tx-1"))
			})

			It("should return status Not Found for a missing transaction", func() {
				req, err := http.NewRequest("DELETE", url("/api/users/user-2/transactions/tx-1"), nil)
				Expect(err).NotTo(HaveOccurred())
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				resp.Body.Close()
			})
		})
	})

	Describe("categories", func() {
		const path = "/api/users/user-1/categories"

		It("should create and list categories", func() {
			resp := postJSON(path, `{"title": "Pets"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var category Category
			readJSON(resp, &category)
			Expect(category.Title).To(Equal("Pets"))

			resp, err := http.Get(url(path))
			Expect(err).NotTo(HaveOccurred())
			var categories []*Category
			readJSON(resp, &categories)
			Expect(categories).To(HaveLen(1))
			Expect(categories[0].ID).To(Equal(category.ID))
		})

		It("should reject a blank title", func() {
			resp := postJSON(path, `{"title": ""}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})
	})

	Describe("handleInsights", func() {
		const path = "/api/users/user-1/insights"

		BeforeEach(func() {
			analyzer.result = []insights.Insight{{Type: insights.KindInfo, Message: "Your top spending category is Food ($12.00)"}}
		})

		It("should return the insights", func() {
			resp := postJSON(path, `{"budgets": [{"category": "Food", "amount": 100, "is_active": true}]}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var result []insights.Insight
			readJSON(resp, &result)
			Expect(result).To(HaveLen(1))
			Expect(analyzer.budgets).To(HaveLen(1))
			Expect(analyzer.budgets[0].Amount.String()).To(Equal("100"))
		})

		It("should allow an empty body", func() {
			resp := postJSON(path, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
			Expect(analyzer.budgets).To(BeNil())
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		It("should reject requests without credentials", func() {
			resp, err := http.Get(url("/api/users/user-1/transactions"))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			resp.Body.Close()
		})

		It("should reject wrong credentials", func() {
			req, err := http.NewRequest("GET", url("/api/users/user-1/transactions"), nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("admin", "wrong")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			resp.Body.Close()
		})

		It("should accept valid credentials", func() {
			req, err := http.NewRequest("GET", url("/api/users/user-1/transactions"), nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("admin", "secret")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			req, err := http.NewRequest("OPTIONS", url("/api/users/user-1/receipts/scan"), nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("POST"))
			resp.Body.Close()
		})
	})

	Describe("metrics", func() {
		It("should expose Prometheus metrics", func() {
			resp, err := http.Get(url("/metrics"))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("go_goroutines"))
		})
	})
})
