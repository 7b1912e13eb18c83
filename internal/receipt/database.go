package receipt

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	transactionBucketName = "transactions"
	categoryBucketName    = "categories"
	uploadBucketName      = "uploads"
)

// DB defines the interface for database operations. Records are scoped to a user.
type DB interface {
	// SaveTransaction creates or replaces a transaction
	SaveTransaction(tx *Transaction) error

	// GetTransaction retrieves a user's transaction by ID
	GetTransaction(userID, id string) (*Transaction, error)

	// ListTransactions returns a user's transactions, newest first
	ListTransactions(userID string) ([]*Transaction, error)

	// DeleteTransaction removes a user's transaction
	DeleteTransaction(userID, id string) error

	// SaveCategory creates or replaces a category
	SaveCategory(category *Category) error

	// ListCategories returns a user's categories in creation order
	ListCategories(userID string) ([]*Category, error)

	// SaveUpload records an archived receipt image for a user
	SaveUpload(upload *Upload) error

	// ClaimUpload removes and returns a user's upload record. An upload can
	// be claimed once.
	ClaimUpload(userID, name string) (*Upload, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB. Each top level bucket
// holds one nested bucket per user, keyed by record ID.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{transactionBucketName, categoryBucketName, uploadBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// userBucket returns the user's bucket inside bucketName, or nil if the user
// has no records there
func userBucket(tx *bbolt.Tx, bucketName, userID string) *bbolt.Bucket {
	return tx.Bucket([]byte(bucketName)).Bucket([]byte(userID))
}

func (b *BoltDB) put(bucketName, userID, id string, v any) error {
	if userID == "" {
		return fmt.Errorf("saving %s: user id is required", bucketName)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshaling %s: %w", bucketName, err)
		}
		bucket, err := tx.Bucket([]byte(bucketName)).CreateBucketIfNotExists([]byte(userID))
		if err != nil {
			return fmt.Errorf("creating %s bucket for user: %w", bucketName, err)
		}
		return bucket.Put([]byte(id), data)
	})
}

// scan decodes every record in the user's bucket
func scan[T any](b *BoltDB, bucketName, userID string) ([]*T, error) {
	records := make([]*T, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := userBucket(tx, bucketName, userID)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var record T
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling %s: %w", bucketName, err)
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// SaveTransaction saves a transaction to the database
func (b *BoltDB) SaveTransaction(transaction *Transaction) error {
	return b.put(transactionBucketName, transaction.UserID, transaction.ID, transaction)
}

// GetTransaction retrieves a transaction by ID
func (b *BoltDB) GetTransaction(userID, id string) (*Transaction, error) {
	var transaction *Transaction
	err := b.db.View(func(tx *bbolt.Tx) error {
		var data []byte
		if bucket := userBucket(tx, transactionBucketName, userID); bucket != nil {
			data = bucket.Get([]byte(id))
		}
		if data == nil {
			return fmt.Errorf("transaction %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &transaction)
	})
	if err != nil {
		return nil, err
	}
	return transaction, nil
}

// ListTransactions returns the user's transactions sorted by date, newest first
func (b *BoltDB) ListTransactions(userID string) ([]*Transaction, error) {
	transactions, err := scan[Transaction](b, transactionBucketName, userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(transactions, func(i, j int) bool {
		if !transactions[i].Date.Equal(transactions[j].Date) {
			return transactions[i].Date.After(transactions[j].Date)
		}
		return transactions[i].CreatedAt.After(transactions[j].CreatedAt)
	})
	return transactions, nil
}

// DeleteTransaction removes a transaction from the database
func (b *BoltDB) DeleteTransaction(userID, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := userBucket(tx, transactionBucketName, userID)
		if bucket == nil || bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("transaction %s: %w", id, ErrNotFound)
		}
		return bucket.Delete([]byte(id))
	})
}

// SaveCategory saves a category to the database
func (b *BoltDB) SaveCategory(category *Category) error {
	return b.put(categoryBucketName, category.UserID, category.ID, category)
}

// ListCategories returns the user's categories, oldest first
func (b *BoltDB) ListCategories(userID string) ([]*Category, error) {
	categories, err := scan[Category](b, categoryBucketName, userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(categories, func(i, j int) bool {
		return categories[i].CreatedAt.Before(categories[j].CreatedAt)
	})
	return categories, nil
}

// SaveUpload records an archived receipt image
func (b *BoltDB) SaveUpload(upload *Upload) error {
	return b.put(uploadBucketName, upload.UserID, upload.Name, upload)
}

// ClaimUpload removes the user's upload record and returns it
func (b *BoltDB) ClaimUpload(userID, name string) (*Upload, error) {
	var upload *Upload
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := userBucket(tx, uploadBucketName, userID)
		var data []byte
		if bucket != nil {
			data = bucket.Get([]byte(name))
		}
		if data == nil {
			return fmt.Errorf("upload %s: %w", name, ErrNotFound)
		}
		if err := json.Unmarshal(data, &upload); err != nil {
			return fmt.Errorf("unmarshaling upload: %w", err)
		}
		return bucket.Delete([]byte(name))
	})
	if err != nil {
		return nil, err
	}
	return upload, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
