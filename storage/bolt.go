package storage

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	valuesBucket = "storemap"
	metaBucket   = "storemap.meta"
	saltKey      = "salt"

	schemePlain     = "plain"
	schemeSecretbox = "secretbox"
)

// envelope is the stored form of every value.
type envelope struct {
	Ver        int    `json:"ver"`
	Scheme     string `json:"scheme"`
	Nonce      []byte `json:"nonce,omitempty"`
	Ciphertext []byte `json:"ciphertext"`
}

// BoltBackend persists values in a bbolt database file.
type BoltBackend struct {
	db  *bbolt.DB
	key *[32]byte
}

var _ Backend = (*BoltBackend)(nil)

type BoltOption func(*boltConfig)

type boltConfig struct {
	passphrase string
	options    *bbolt.Options
}

// WithPassphrase seals every value with a key derived from passphrase (argon2id).
func WithPassphrase(passphrase string) BoltOption {
	return func(c *boltConfig) {
		c.passphrase = passphrase
	}
}

func WithBoltOptions(options *bbolt.Options) BoltOption {
	return func(c *boltConfig) {
		c.options = options
	}
}

// NewBoltBackend opens (or creates) the database at path.
func NewBoltBackend(path string, opts ...BoltOption) (*BoltBackend, error) {
	cfg := &boltConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	db, err := bbolt.Open(path, 0600, cfg.options)
	if err != nil {
		return nil, errors.Wrapf(err, "[NewBoltBackend] opening %s", path)
	}

	b := &BoltBackend{db: db}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(valuesBucket)); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
		if err != nil {
			return err
		}
		if cfg.passphrase == "" {
			return nil
		}
		salt, err := loadOrCreateSalt(meta)
		if err != nil {
			return err
		}
		b.key = deriveKey(cfg.passphrase, salt)
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "[NewBoltBackend] initialising buckets")
	}
	return b, nil
}

func loadOrCreateSalt(meta *bbolt.Bucket) ([]byte, error) {
	if salt := meta.Get([]byte(saltKey)); salt != nil {
		return append([]byte(nil), salt...), nil
	}
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, meta.Put([]byte(saltKey), salt)
}

func deriveKey(passphrase string, salt []byte) *[32]byte {
	var key [32]byte
	copy(key[:], argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32))
	return &key
}

func (b *BoltBackend) Load(key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(valuesBucket)).Get([]byte(key))
		if data == nil {
			return nil
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return err
		}
		plain, err := b.open(&env)
		if err != nil {
			return err
		}
		value, found = string(plain), true
		return nil
	})
	return value, found, err
}

func (b *BoltBackend) Save(key, value string) error {
	env, err := b.seal([]byte(value))
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(valuesBucket)).Put([]byte(key), data)
	})
}

func (b *BoltBackend) Remove(keys ...string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(valuesBucket))
		for _, k := range keys {
			if err := bucket.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BoltBackend) Close() error {
	return b.db.Close()
}

func (b *BoltBackend) seal(plain []byte) (*envelope, error) {
	if b.key == nil {
		return &envelope{Ver: 1, Scheme: schemePlain, Ciphertext: plain}, nil
	}
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, errors.Wrap(err, "[BoltBackend.seal] nonce")
	}
	return &envelope{
		Ver:        1,
		Scheme:     schemeSecretbox,
		Nonce:      nonce[:],
		Ciphertext: secretbox.Seal(nil, plain, &nonce, b.key),
	}, nil
}

func (b *BoltBackend) open(env *envelope) ([]byte, error) {
	if env.Ver != 1 {
		return nil, fmt.Errorf("unsupported envelope version: %d", env.Ver)
	}
	switch env.Scheme {
	case schemePlain:
		return env.Ciphertext, nil
	case schemeSecretbox:
		if b.key == nil {
			return nil, errors.New("value is sealed but no passphrase was configured")
		}
		if len(env.Nonce) != 24 {
			return nil, errors.New("invalid nonce length")
		}
		var nonce [24]byte
		copy(nonce[:], env.Nonce)
		plain, ok := secretbox.Open(nil, env.Ciphertext, &nonce, b.key)
		if !ok {
			return nil, errors.New("unable to open sealed value")
		}
		return plain, nil
	default:
		return nil, fmt.Errorf("unsupported envelope scheme: %s", env.Scheme)
	}
}
