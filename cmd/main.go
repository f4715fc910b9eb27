// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package main

import (
	"fmt"

	"github.com/AMD-AGI/Backlot/pkg/daemon"
)

func main() {
	d, err := daemon.NewDaemon()
	if err != nil {
		fmt.Println("failed to new backlot daemon, err: ", err.Error())
		return
	}
	d.Start()
}
