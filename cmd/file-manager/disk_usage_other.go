//go:build !unix

package main

import "errors"

func getDiskUsage(string) (total, used, available int64, err error) {
	return 0, 0, 0, errors.ErrUnsupported
}
