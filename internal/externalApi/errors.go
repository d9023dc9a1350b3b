package externalApi

import "errors"

var ErrNotFound = errors.New("error not found")
