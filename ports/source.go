package ports

import (
	"context"

	"equityaudit/domain/census"
)

// EntitySource loads the entities (and any observed ground truth) an audit
// runs over. Implementations validate at the boundary; the engine trusts
// what it is given.
type EntitySource interface {
	Load(ctx context.Context) (*census.Dataset, error)
}
