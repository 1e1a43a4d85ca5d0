package models

import (
	"errors"
	"fmt"
	"strings"
)

// Catalog is the closed set of product names orders are drawn from.
type Catalog []string

// DefaultCatalog mirrors the storefront the demo producer has always used.
var DefaultCatalog = Catalog{"Laptop", "Mouse", "Teclado", "Monitor", "Audífonos"}

// Contains reports whether name is part of the catalog.
func (c Catalog) Contains(name string) bool {
	for _, p := range c {
		if p == name {
			return true
		}
	}
	return false
}

// Validate rejects empty catalogs, blank names and duplicates.
func (c Catalog) Validate() error {
	if len(c) == 0 {
		return errors.New("catalog must not be empty")
	}

	seen := make(map[string]struct{}, len(c))
	for _, p := range c {
		if strings.TrimSpace(p) == "" {
			return errors.New("catalog contains a blank product name")
		}
		if _, ok := seen[p]; ok {
			return fmt.Errorf("catalog contains duplicate product %q", p)
		}
		seen[p] = struct{}{}
	}
	return nil
}
