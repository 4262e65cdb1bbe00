//go:build gcp

package main

import (
	"context"

	"github.com/Mindburn-Labs/changegate/pkg/audit"
)

func newGCSObjectStore(ctx context.Context, bucket string) (audit.ObjectStore, func() error, error) {
	s, err := audit.NewGCSStore(ctx, bucket)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}
