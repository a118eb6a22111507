// cmd/portworker/errors.go
package main

import (
	"errors"
	"fmt"
)

var (
	errNoEndpoint = errors.New("portworker: -ipc endpoint base required")
	errNoPort     = errors.New("portworker: -port required")
)

func errInvalidRole(role string) error {
	return fmt.Errorf("portworker: invalid role %q", role)
}
