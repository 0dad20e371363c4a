// Package notifiedcache отвечает за идемпотентность уведомлений между
// перезапусками: хранит отметки «событие уже уведомлено» в локальном bbolt-файле
// с TTL-очисткой. База одновременно и персист, и источник already_notified для
// маппера уведомлений, поэтому потеря файла безопасна: дедупликация на уровне
// notification_id в PostgreSQL останется последним рубежом.
package notifiedcache

import (
	"encoding/binary"
	"time"

	"github.com/go-faster/errors"
	bolt "go.etcd.io/bbolt"

	"schedule-worker/internal/infra/clock"
	"schedule-worker/internal/infra/storage"
)

// bucketNotified — единственный bucket: event_id -> unix seconds (UTC) отметки.
var bucketNotified = []byte("notified")

// openTimeout ограничивает ожидание файловой блокировки bbolt.
const openTimeout = 5 * time.Second

// Cache — локальный кэш уведомлённых event_id с TTL.
type Cache struct {
	db  *bolt.DB
	ttl time.Duration
}

// Open создаёт (или открывает) файл кэша. Директория создаётся при
// необходимости; TTL <= 0 означает «хранить вечно».
func Open(path string, ttl time.Duration) (*Cache, error) {
	if err := storage.EnsureDir(path); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, errors.Wrap(err, "open notified cache")
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, createErr := tx.CreateBucketIfNotExists(bucketNotified)
		return createErr
	}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "init notified bucket")
	}
	return &Cache{db: db, ttl: ttl}, nil
}

// Close закрывает файл кэша.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Seen возвращает множество event_id из ids, уже отмеченных как уведомлённые
// и не протухших по TTL. Результат подаётся мапперу как already_notified.
func (c *Cache) Seen(ids []string) (map[string]struct{}, error) {
	seen := make(map[string]struct{})
	if len(ids) == 0 {
		return seen, nil
	}
	cutoff := c.cutoff()

	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNotified)
		if b == nil {
			return nil
		}
		for _, id := range ids {
			raw := b.Get([]byte(id))
			if raw == nil {
				continue
			}
			if when, ok := decodeStamp(raw); ok && !when.Before(cutoff) {
				seen[id] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "read notified cache")
	}
	return seen, nil
}

// Mark фиксирует, что события уже поставлены в очередь уведомлений.
// Вызывать после успешной записи уведомлений в базу, иначе возможны ложные
// «уже отправлено».
func (c *Cache) Mark(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	stamp := encodeStamp(clock.Now())

	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNotified)
		for _, id := range ids {
			if putErr := b.Put([]byte(id), stamp); putErr != nil {
				return putErr
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "write notified cache")
	}
	return nil
}

// Sweep удаляет записи старше TTL. Возвращает число удалённых ключей.
// Запускается периодически из фонового цикла воркера.
func (c *Cache) Sweep() (int, error) {
	if c.ttl <= 0 {
		return 0, nil
	}
	cutoff := c.cutoff()
	deleted := 0

	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNotified)
		cur := b.Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			when, ok := decodeStamp(v)
			if ok && !when.Before(cutoff) {
				continue
			}
			if delErr := cur.Delete(); delErr != nil {
				return delErr
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return deleted, errors.Wrap(err, "sweep notified cache")
	}
	return deleted, nil
}

// cutoff — нижняя граница допустимого возраста записи.
func (c *Cache) cutoff() time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}
	return clock.Now().Add(-c.ttl)
}

// encodeStamp сериализует метку времени как big-endian unix seconds.
func encodeStamp(t time.Time) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(t.Unix()))
	return buf[:]
}

// decodeStamp разбирает метку; повреждённые значения трактуются как протухшие.
func decodeStamp(raw []byte) (time.Time, bool) {
	if len(raw) != 8 {
		return time.Time{}, false
	}
	return time.Unix(int64(binary.BigEndian.Uint64(raw)), 0).UTC(), true
}
