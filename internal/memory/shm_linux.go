// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package memory

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func allocateShared(size int) (*Region, ExchangeHandle, error) {
	fd, err := unix.MemfdCreate("memcon", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, ExchangeHandle{}, fmt.Errorf("memory: memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, ExchangeHandle{}, fmt.Errorf("memory: ftruncate: %w", err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, ExchangeHandle{}, fmt.Errorf("memory: mmap: %w", err)
	}
	r := &Region{data: data, writable: true, release: func() error {
		err := unix.Munmap(data)
		if cerr := unix.Close(fd); err == nil {
			err = cerr
		}
		return err
	}}
	return r, ExchangeHandle{Tech: TechSharedMemory, FD: fd, Size: uint64(size)}, nil
}

func mapShared(h ExchangeHandle, writable bool) (*Region, error) {
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	// Dup so the view's lifetime is independent of the handle's fd,
	// which the side channel may close after delivery.
	fd, err := unix.Dup(h.FD)
	if err != nil {
		return nil, fmt.Errorf("memory: dup exchange fd: %w", err)
	}
	data, err := unix.Mmap(fd, 0, int(h.Size), prot, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("memory: mmap exchanged region: %w", err)
	}
	return &Region{data: data, writable: writable, release: func() error {
		err := unix.Munmap(data)
		if cerr := unix.Close(fd); err == nil {
			err = cerr
		}
		return err
	}}, nil
}
