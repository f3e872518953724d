// Package invalidation defines the event contract for operator-driven
// cache invalidation: when the data behind one or more locations is
// known to have changed, their cached composites are deleted so the
// next read (or expiration rewarm) recomputes them.
package invalidation

import (
	"fmt"
	"strings"
	"time"
)

type Event struct {
	Version      int       `json:"version"`
	Op           string    `json:"op"`
	LocationKeys []string  `json:"location_keys"`
	TS           time.Time `json:"ts"`
	Source       string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	if e.Op != "invalidate" {
		return fmt.Errorf("op must be invalidate")
	}
	if len(e.LocationKeys) == 0 {
		return fmt.Errorf("location_keys is required")
	}
	for _, k := range e.LocationKeys {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("location_keys must not contain blanks")
		}
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}
