// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !linux

package memory

import "fmt"

func allocateShared(size int) (*Region, ExchangeHandle, error) {
	return nil, ExchangeHandle{}, fmt.Errorf("memory: shared-memory technology requires linux")
}

func mapShared(h ExchangeHandle, writable bool) (*Region, error) {
	return nil, fmt.Errorf("memory: shared-memory technology requires linux")
}
