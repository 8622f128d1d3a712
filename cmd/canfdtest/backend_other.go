//go:build !linux

package main

import (
	"errors"

	"github.com/notnil/canfd"
)

func openUIO(canfd.Config) (regsCloser, error) {
	return nil, errors.New("uio backend requires linux")
}
