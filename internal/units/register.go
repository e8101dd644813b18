// Package units wires every fetch unit implementation into a registry.
package units

import (
	"fmt"

	"github.com/pharosdata/harvester/internal/harvest"
	"github.com/pharosdata/harvester/internal/units/headless"
	"github.com/pharosdata/harvester/internal/units/htmllist"
)

// RegisterAll binds every built-in unit to its registry name.
func RegisterAll(registry *harvest.Registry) error {
	if err := registry.Register(htmllist.UnitName, htmllist.New); err != nil {
		return fmt.Errorf("register %s: %w", htmllist.UnitName, err)
	}
	if err := registry.Register(headless.UnitName, headless.New); err != nil {
		return fmt.Errorf("register %s: %w", headless.UnitName, err)
	}
	return nil
}
