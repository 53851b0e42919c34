package memory

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"
)

// NewStore opens PostgreSQL for a postgres DSN and the embedded bolt file for
// a bolt:// URL. Without either, memory lives only as long as the process.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	var (
		store Store
		err   error
	)
	switch {
	case databaseURL == "":
		log.Warn("DATABASE_URL not set, conversations are kept in process memory only")
		return NewInMemoryStore(), nil
	case strings.HasPrefix(databaseURL, BoltScheme):
		store, err = NewBoltStore(strings.TrimPrefix(databaseURL, BoltScheme))
	default:
		store, err = NewPostgresStore(ctx, databaseURL)
	}
	if err != nil {
		return nil, err
	}
	log.WithField("mode", store.Mode()).Info("conversation store ready")
	return store, nil
}
