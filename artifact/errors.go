package artifact

import (
	"fmt"

	"github.com/hupe1980/agentrelay/core"
)

var (
	// ErrNotFound is returned when no artifact exists for a key.
	ErrNotFound = fmt.Errorf("artifact %w", core.ErrNotFound)
)
