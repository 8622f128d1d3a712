//go:build linux

package main

import (
	"github.com/notnil/canfd"
	"github.com/notnil/canfd/uio"
)

func openUIO(cfg canfd.Config) (regsCloser, error) {
	dev, err := uio.Find(cfg.Name)
	if err != nil {
		return nil, err
	}
	return uio.Open(dev)
}
