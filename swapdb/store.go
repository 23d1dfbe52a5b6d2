package swapdb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
)

var (
	// dbFileName is the default file name of the swap database.
	dbFileName = "swaps.db"

	// metaBucketKey stores all the meta information concerning the state
	// of the database.
	metaBucketKey = []byte("metadata")

	// dbVersionKey is a boltdb key and it's used for storing/retrieving
	// current database version.
	dbVersionKey = []byte("dbp")

	// swapsBucketKey is a bucket that contains all swaps, pending or
	// redeemed. It is keyed by the payment hash and leads to a nested
	// sub-bucket that houses the record of that swap.
	//
	// maps: paymentHash -> swapBucket
	swapsBucketKey = []byte("swaps")

	// recordKey stores the tlv encoded swap record.
	//
	// path: swapsBucket -> swapBucket[hash] -> recordKey
	recordKey = []byte("record")

	byteOrder = binary.BigEndian

	// latestDBVersion is the version new databases are created with.
	latestDBVersion = uint32(1)

	// ErrDBReversion is returned when the database was written by a newer
	// version.
	ErrDBReversion = errors.New("swap db cannot revert to prior version")
)

// fileExists returns true if the file exists, and false otherwise.
func fileExists(path string) bool {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}

	return true
}

// BoltStore stores swap records in bbolt.
type BoltStore struct {
	db *bbolt.DB
}

// A compile-time flag to ensure that BoltStore implements the Store
// interface.
var _ Store = (*BoltStore)(nil)

// NewBoltStore opens or creates the swap database in dbPath.
func NewBoltStore(dbPath string) (*BoltStore, error) {
	// If the target path for the swap store doesn't exist, then we'll
	// create it now before we proceed.
	if !fileExists(dbPath) {
		if err := os.MkdirAll(dbPath, 0700); err != nil {
			return nil, err
		}
	}

	path := filepath.Join(dbPath, dbFileName)
	bdb, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}

	// We'll create all the buckets we need if this is the first time we're
	// starting up. If they already exist, then these calls will be noops.
	err = bdb.Update(func(tx *bbolt.Tx) error {
		metaBucket := tx.Bucket(metaBucketKey)
		if metaBucket == nil {
			log.Infof("Initializing new database with version %v",
				latestDBVersion)

			if err := setDBVersion(tx, latestDBVersion); err != nil {
				return err
			}
		} else {
			version := getDBVersion(metaBucket)
			if version > latestDBVersion {
				return fmt.Errorf("%w: db version %v, "+
					"latest known %v", ErrDBReversion,
					version, latestDBVersion)
			}
		}

		_, err := tx.CreateBucketIfNotExists(swapsBucketKey)
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, err
	}

	return &BoltStore{
		db: bdb,
	}, nil
}

// getDBVersion retrieves the current db version.
func getDBVersion(metaBucket *bbolt.Bucket) uint32 {
	data := metaBucket.Get(dbVersionKey)

	// If no version key found, assume version is 0.
	if data == nil {
		return 0
	}

	return byteOrder.Uint32(data)
}

// setDBVersion updates the current db version.
func setDBVersion(tx *bbolt.Tx, version uint32) error {
	metaBucket, err := tx.CreateBucketIfNotExists(metaBucketKey)
	if err != nil {
		return fmt.Errorf("set db version: %w", err)
	}

	scratch := make([]byte, 4)
	byteOrder.PutUint32(scratch, version)

	return metaBucket.Put(dbVersionKey, scratch)
}

// CreateSwap adds a new swap record.
//
// NOTE: Part of the Store interface.
func (s *BoltStore) CreateSwap(rec *SwapRecord) error {
	hash := rec.PaymentHash()

	return s.db.Update(func(tx *bbolt.Tx) error {
		rootBucket := tx.Bucket(swapsBucketKey)
		if rootBucket == nil {
			return errors.New("bucket does not exist")
		}

		if rootBucket.Bucket(hash[:]) != nil {
			return fmt.Errorf("%w: %v", ErrSwapExists, hash)
		}

		err := forEachSwap(rootBucket, func(other *SwapRecord) error {
			if other.IsRedeemed ||
				other.LockupAddress != rec.LockupAddress {

				return nil
			}

			return fmt.Errorf("%w: %v by %v", ErrLockupAddressInUse,
				rec.LockupAddress, other.PaymentHash())
		})
		if err != nil {
			return err
		}

		swapBucket, err := rootBucket.CreateBucket(hash[:])
		if err != nil {
			return err
		}

		return putRecord(swapBucket, rec)
	})
}

// UpdateSwap overwrites an existing swap record.
//
// NOTE: Part of the Store interface.
func (s *BoltStore) UpdateSwap(rec *SwapRecord) error {
	hash := rec.PaymentHash()

	return s.db.Update(func(tx *bbolt.Tx) error {
		rootBucket := tx.Bucket(swapsBucketKey)
		if rootBucket == nil {
			return errors.New("bucket does not exist")
		}

		swapBucket := rootBucket.Bucket(hash[:])
		if swapBucket == nil {
			return fmt.Errorf("%w: %v", ErrSwapNotFound, hash)
		}

		return putRecord(swapBucket, rec)
	})
}

func putRecord(swapBucket *bbolt.Bucket, rec *SwapRecord) error {
	value, err := encodeSwap(rec)
	if err != nil {
		return err
	}

	return swapBucket.Put(recordKey, value)
}

// FetchSwaps returns all stored swap records.
//
// NOTE: Part of the Store interface.
func (s *BoltStore) FetchSwaps() ([]*SwapRecord, error) {
	var swaps []*SwapRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		rootBucket := tx.Bucket(swapsBucketKey)
		if rootBucket == nil {
			return errors.New("bucket does not exist")
		}

		return forEachSwap(rootBucket, func(rec *SwapRecord) error {
			swaps = append(swaps, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return swaps, nil
}

// forEachSwap decodes every swap stored in the root bucket.
func forEachSwap(rootBucket *bbolt.Bucket, cb func(*SwapRecord) error) error {
	// We'll now traverse the root bucket for all swaps. The primary key
	// is the payment hash itself.
	return rootBucket.ForEach(func(hash, v []byte) error {
		// Only go into things that we know are sub-bucket keys.
		if v != nil {
			return nil
		}

		swapBucket := rootBucket.Bucket(hash)
		if swapBucket == nil {
			return fmt.Errorf("swap bucket %x not found", hash)
		}

		value := swapBucket.Get(recordKey)
		if value == nil {
			return fmt.Errorf("record of swap %x not found", hash)
		}

		rec, err := deserializeSwap(bytes.NewReader(value))
		if err != nil {
			return fmt.Errorf("decode swap %x: %w", hash, err)
		}

		return cb(rec)
	})
}

// Close closes the underlying database.
//
// NOTE: Part of the Store interface.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
