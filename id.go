package manifold

import "github.com/Theauxm/manifold/id"

// ID is the primary identifier type for all Manifold entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
