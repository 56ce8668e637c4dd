package service

import (
	"fmt"

	"ellen/internal/repository"
	"ellen/internal/repository/sqlite"
	"ellen/internal/repository/xlsx"
)

// OpenStore returns an unconfigured store of the given kind
func OpenStore(kind repository.Kind) (repository.Store, error) {
	switch kind {
	case repository.KindSpreadsheet:
		return xlsx.New(), nil
	case repository.KindRelational:
		return sqlite.New(), nil
	}
	return nil, fmt.Errorf("backing store must be one of %q, %q: got %q",
		repository.KindSpreadsheet, repository.KindRelational, kind)
}
