package service

import "github.com/dukerupert/vanir/internal/domain"

// Pricing service errors.
var (
	ErrMissingChange = &domain.Error{
		Code:    domain.EINVALID,
		Message: "Simulation requires either a rule or a percentage change",
	}

	ErrAmbiguousChange = &domain.Error{
		Code:    domain.EINVALID,
		Message: "Simulation accepts a rule or a percentage change, not both",
	}

	ErrNoSelection = &domain.Error{
		Code:    domain.EINVALID,
		Message: "At least one item or category must be selected",
	}

	ErrNoPriceLists = &domain.Error{
		Code:    domain.ENOTFOUND,
		Message: "No matching price lists found",
	}
)
