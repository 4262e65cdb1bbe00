//go:build !gcp

package main

import (
	"context"
	"errors"

	"github.com/Mindburn-Labs/changegate/pkg/audit"
)

func newGCSObjectStore(context.Context, string) (audit.ObjectStore, func() error, error) {
	return nil, nil, errors.New("gcs export requires a build with -tags gcp")
}
