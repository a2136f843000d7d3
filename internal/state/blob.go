package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/palma21/risk-monitor-bot/internal/models"
	"github.com/palma21/risk-monitor-bot/internal/storage"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
)

const (
	// AuthorsPrefix is where per-author documents live in blob storage
	AuthorsPrefix = "monitor/authors/"

	maxConditionalRetries = 20
)

// BlobStore keeps one JSON document per author in a StorageInterface.
// Updates to the same author are serialized within the process. When the
// storage supports conditional writes, an update that lost a race with another
// process is retried on the fresh document.
type BlobStore struct {
	storage storage.StorageInterface
	locks   *xsync.MapOf[string, *sync.Mutex]
}

var _ Store = (*BlobStore)(nil)

// NewBlobStore creates a state store over blob or local storage
func NewBlobStore(s storage.StorageInterface) *BlobStore {
	return &BlobStore{
		storage: s,
		locks:   xsync.NewMapOf[string, *sync.Mutex](),
	}
}

func authorKey(author string) string {
	return AuthorsPrefix + url.PathEscape(author) + ".json"
}

func (b *BlobStore) lock(author string) func() {
	mu, _ := b.locks.LoadOrCompute(author, func() *sync.Mutex { return &sync.Mutex{} })
	mu.Lock()
	return mu.Unlock
}

// Load reads every author document. Unreadable documents are logged and skipped.
func (b *BlobStore) Load(ctx context.Context) (*models.MonitorState, error) {
	names, err := b.storage.List(AuthorsPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list monitor state: %w", err)
	}

	st := models.NewMonitorState()
	for _, name := range names {
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		author, err := b.read(name)
		if err != nil {
			logrus.Warnf("Skipping unreadable monitor state %s: %v", name, err)
			continue
		}
		if author != nil {
			st.Authors[author.Author] = author
		}
	}
	return st, nil
}

// Save replaces the stored state: listed authors are written, others removed
func (b *BlobStore) Save(ctx context.Context, st *models.MonitorState) error {
	existing, err := b.storage.List(AuthorsPrefix)
	if err != nil {
		return fmt.Errorf("failed to list monitor state: %w", err)
	}

	keep := make(map[string]bool, len(st.Authors))
	for author, as := range st.Authors {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := authorKey(author)
		keep[key] = true

		unlock := b.lock(author)
		err := b.write(key, as)
		unlock()
		if err != nil {
			return err
		}
	}

	for _, name := range existing {
		if !keep[name] {
			if err := b.storage.Delete(name); err != nil {
				return fmt.Errorf("failed to remove stale monitor state %s: %w", name, err)
			}
		}
	}
	return nil
}

// Update runs fn under the author's lock
func (b *BlobStore) Update(ctx context.Context, author string, fn UpdateFunc) error {
	if author == "" {
		return fmt.Errorf("author is required")
	}
	unlock := b.lock(author)
	defer unlock()

	key := authorKey(author)
	if cs, ok := b.storage.(storage.ConditionalStorage); ok {
		return b.updateIfUnchanged(ctx, cs, author, key, fn)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	current, err := b.read(key)
	if err != nil {
		return fmt.Errorf("failed to read state of %s: %w", author, err)
	}

	next, err := fn(current)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	next.Author = author
	return b.write(key, next)
}

func (b *BlobStore) updateIfUnchanged(ctx context.Context, cs storage.ConditionalStorage, author, key string, fn UpdateFunc) error {
	for i := 0; i < maxConditionalRetries; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		data, version, err := cs.RetrieveVersion(key)
		var current *models.AuthorState
		switch {
		case errors.Is(err, storage.ErrNotFound):
			version = ""
		case err != nil:
			return fmt.Errorf("failed to read state of %s: %w", author, err)
		default:
			if current, err = decode(key, data); err != nil {
				return fmt.Errorf("failed to read state of %s: %w", author, err)
			}
		}

		next, err := fn(current)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		next.Author = author

		encoded, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", key, err)
		}
		err = cs.StoreIfVersion(key, encoded, version)
		if !errors.Is(err, storage.ErrPreconditionFailed) {
			if err != nil {
				return fmt.Errorf("failed to write %s: %w", key, err)
			}
			return nil
		}
		logrus.Debugf("Concurrent update of %s, retrying", author)
	}
	return fmt.Errorf("update of %s failed after %d conflicting attempts: %w",
		author, maxConditionalRetries, storage.ErrPreconditionFailed)
}

func (b *BlobStore) read(key string) (*models.AuthorState, error) {
	data, err := b.storage.Retrieve(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode(key, data)
}

func decode(key string, data []byte) (*models.AuthorState, error) {
	var as models.AuthorState
	if err := json.Unmarshal(data, &as); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	if as.AlertedPosts == nil {
		as.AlertedPosts = make(map[string]bool)
	}
	return &as, nil
}

func (b *BlobStore) write(key string, as *models.AuthorState) error {
	data, err := json.Marshal(as)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := b.storage.Store(key, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}
