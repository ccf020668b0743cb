package pyramid

import "go.uber.org/multierr"

func multierrErrors(err error) []error { return multierr.Errors(err) }
