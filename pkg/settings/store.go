package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/markus-lassfolk/locnotifier/pkg"
	"github.com/markus-lassfolk/locnotifier/pkg/gps"
	"github.com/markus-lassfolk/locnotifier/pkg/logx"
)

const bucketName = "settings"

// Setting keys
const (
	KeyDestLat    = "dest_lat"
	KeyDestLng    = "dest_lng"
	KeyDestRadius = "dest_radius"
	KeyUseGPS     = "use_gps"
	KeyVibrate    = "vibrate"
	KeyInsistent  = "insistent"
	KeySMSEnabled = "sms_enabled"
	KeyImperial   = "imperial"
	KeyTone       = "tone"
	KeySMSContact = "sms_contact"
	KeySMSMessage = "sms_message"
)

// Kind is the value type a key holds
type Kind int

const (
	KindInt Kind = iota
	KindFloat
	KindBool
	KindString
)

var keyKinds = map[string]Kind{
	KeyDestLat:    KindInt,
	KeyDestLng:    KindInt,
	KeyDestRadius: KindFloat,
	KeyUseGPS:     KindBool,
	KeyVibrate:    KindBool,
	KeyInsistent:  KindBool,
	KeySMSEnabled: KindBool,
	KeyImperial:   KindBool,
	KeyTone:       KindString,
	KeySMSContact: KindString,
	KeySMSMessage: KindString,
}

var (
	ErrUnknownKey = errors.New("unknown setting")
	ErrWrongType  = errors.New("wrong value type for setting")
)

// Store is the persistent key-value settings store
type Store struct {
	db     *bolt.DB
	logger *logx.Logger
}

// Open opens or creates the settings database
func Open(path string, logger *logx.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create settings directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open settings database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create settings bucket: %w", err)
	}

	logger.Debug("settings_store_opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(key string) []byte {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(bucketName)).Get([]byte(key)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("settings_read_failed", "key", key, "error", err)
		return nil
	}
	return out
}

func (s *Store) decode(key string, def, dst interface{}) bool {
	raw := s.get(key)
	if raw == nil {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.logger.Warn("settings_value_corrupt", "key", key, "error", err, "default", def)
		return false
	}
	return true
}

// Contains reports whether a key has been written
func (s *Store) Contains(key string) bool {
	return s.get(key) != nil
}

func (s *Store) GetInt(key string, def int64) int64 {
	var v int64
	if !s.decode(key, def, &v) {
		return def
	}
	return v
}

func (s *Store) GetFloat(key string, def float64) float64 {
	var v float64
	if !s.decode(key, def, &v) {
		return def
	}
	return v
}

func (s *Store) GetBool(key string, def bool) bool {
	var v bool
	if !s.decode(key, def, &v) {
		return def
	}
	return v
}

func (s *Store) GetString(key string, def string) string {
	var v string
	if !s.decode(key, def, &v) {
		return def
	}
	return v
}

// Set writes a typed value; the type must match the key
func (s *Store) Set(key string, value interface{}) error {
	return s.SetMany(map[string]interface{}{key: value})
}

// SetMany writes several values in one transaction
func (s *Store) SetMany(values map[string]interface{}) error {
	encoded := make(map[string][]byte, len(values))
	for key, value := range values {
		if err := checkKind(key, value); err != nil {
			return err
		}
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", key, err)
		}
		encoded[key] = data
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		for key, data := range encoded {
			if err := b.Put([]byte(key), data); err != nil {
				return fmt.Errorf("failed to write %s: %w", key, err)
			}
		}
		return nil
	})
}

// SetString parses a textual value according to the key's type
func (s *Store) SetString(key, raw string) error {
	kind, ok := keyKinds[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	var value interface{}
	var err error
	switch kind {
	case KindInt:
		value, err = strconv.ParseInt(raw, 10, 32)
	case KindFloat:
		value, err = strconv.ParseFloat(raw, 32)
	case KindBool:
		value, err = strconv.ParseBool(raw)
	case KindString:
		value = raw
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWrongType, key, err)
	}
	return s.Set(key, value)
}

// Delete removes a key; the default applies afterwards
func (s *Store) Delete(key string) error {
	if _, ok := keyKinds[key]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete([]byte(key))
	})
}

// HasDestination reports whether a destination has ever been saved
func (s *Store) HasDestination() bool {
	return s.Contains(KeyDestLat) && s.Contains(KeyDestRadius)
}

// Destination returns the persisted destination; ok is false when none was saved
func (s *Store) Destination() (pkg.Destination, bool) {
	dest := pkg.Destination{
		Latitude:  gps.FromE6(int32(s.GetInt(KeyDestLat, 0))),
		Longitude: gps.FromE6(int32(s.GetInt(KeyDestLng, 0))),
		Radius:    float32(s.GetFloat(KeyDestRadius, 0)),
	}
	return dest, s.HasDestination()
}

// SaveDestination persists a destination and the high-power provider flag atomically
func (s *Store) SaveDestination(dest pkg.Destination, useGPS bool) error {
	return s.SetMany(map[string]interface{}{
		KeyDestLat:    int64(gps.ToE6(dest.Latitude)),
		KeyDestLng:    int64(gps.ToE6(dest.Longitude)),
		KeyDestRadius: float64(dest.Radius),
		KeyUseGPS:     useGPS,
	})
}

// UseGPS reports whether the high-power provider should be used while watching
func (s *Store) UseGPS() bool {
	return s.GetBool(KeyUseGPS, false)
}

// Imperial reports whether distances are shown in feet
func (s *Store) Imperial() bool {
	return s.GetBool(KeyImperial, false)
}

// AlertSettings reads the arrival alert preferences
func (s *Store) AlertSettings() pkg.AlertSettings {
	return pkg.AlertSettings{
		SoundURI:   s.GetString(KeyTone, ""),
		Vibrate:    s.GetBool(KeyVibrate, false),
		Insistent:  s.GetBool(KeyInsistent, false),
		SMSEnabled: s.GetBool(KeySMSEnabled, false),
		SMSContact: s.GetString(KeySMSContact, ""),
		SMSMessage: s.GetString(KeySMSMessage, ""),
	}
}

// Dump returns every stored value keyed by name
func (s *Store) Dump() (map[string]interface{}, error) {
	out := make(map[string]interface{})
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(k, v []byte) error {
			var value interface{}
			if err := json.Unmarshal(v, &value); err != nil {
				return fmt.Errorf("failed to decode %s: %w", k, err)
			}
			out[string(k)] = value
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Keys lists the known setting names
func Keys() []string {
	keys := make([]string, 0, len(keyKinds))
	for k := range keyKinds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func checkKind(key string, value interface{}) error {
	kind, ok := keyKinds[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	match := false
	switch value.(type) {
	case int, int32, int64:
		match = kind == KindInt
	case float32, float64:
		match = kind == KindFloat
	case bool:
		match = kind == KindBool
	case string:
		match = kind == KindString
	}
	if !match {
		return fmt.Errorf("%w: %s got %T", ErrWrongType, key, value)
	}
	return nil
}
