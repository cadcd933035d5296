// Copyright 2025 The springbokd Authors
// This file is part of springbokd.
//
// springbokd is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// springbokd is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with springbokd. If not, see <http://www.gnu.org/licenses/>.

package utils

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/springbok/springbokd/internal/debug"
	"github.com/springbok/springbokd/internal/shutdown"
	"github.com/springbok/springbokd/log"
)

// HandleSignals relays SIGINT and SIGTERM to the shutdown signal and SIGHUP
// to the log file. The returned function stops the relay.
func HandleSignals(sig *shutdown.Signal) (stop func()) {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	quit := make(chan struct{})
	go func() {
		for {
			select {
			case s := <-sigc:
				if s == syscall.SIGHUP {
					debug.RequestLogReopen()
					continue
				}
				if sig.Requested() {
					log.Warn("Already shutting down, please wait.")
					continue
				}
				log.Info("Got interrupt, shutting down...")
				sig.Request()
			case <-quit:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigc)
		close(quit)
	}
}
