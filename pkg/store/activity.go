package store

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"chatrixx/pkg/models"
)

func activityKey(user string, ts int64, s uint64) []byte {
	return []byte(fmt.Sprintf("activity:%s:%020d-%06d", user, ts, s))
}

// AppendActivity writes one audit row. Callers treat failures as
// best-effort; the activity worker only logs them.
func AppendActivity(e models.ActivityEntry) error {
	if db == nil {
		return notOpened()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return db.Set(activityKey(e.User, e.TS, nextSeq()), data, pebble.NoSync)
}

// ListActivity returns up to limit of the user's newest activity rows.
func ListActivity(user string, limit int) ([]models.ActivityEntry, error) {
	if db == nil {
		return nil, notOpened()
	}
	iter, err := newPrefixIter([]byte("activity:" + user + ":"))
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.ActivityEntry
	for ok := iter.Last(); ok && len(out) < limit; ok = iter.Prev() {
		var e models.ActivityEntry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, iter.Error()
}
