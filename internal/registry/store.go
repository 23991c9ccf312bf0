package registry

import "context"

// Store is the typed accessor over the target table. Mutations also append
// a TargetChangeEvent to the change feed so derived monitoring resources can
// be reconciled out of band.
type Store interface {
	List(ctx context.Context) ([]Target, error)
	ListEnabled(ctx context.Context) ([]Target, error)
	Get(ctx context.Context, id string) (*Target, error)
	Create(ctx context.Context, name, url string, enabled bool) (*Target, error)
	Update(ctx context.Context, id string, upd Update) (*Target, error)
	Delete(ctx context.Context, id string) error
}
