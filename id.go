package jobq

import "github.com/xraph/jobq/id"

// ID is the primary identifier type for jobq entities.
type ID = id.ID

// Prefix identifies the entity type encoded in an ID.
type Prefix = id.Prefix
