// The chuffs-client command streams audio from a local capture device to
// an Internet of Chuffs server.
//
// Usage:
//
//	chuffs-client [config-file]
//
// With no config file it browses the LAN for a server and captures from
// the default ALSA device.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/chuffnet/chuffs"
	"github.com/chuffnet/chuffs/config"
)

func main() {
	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	opts, err := config.Load(configPath)
	if err != nil {
		logrus.WithError(err).Fatal("cannot load configuration")
	}

	client, err := chuffs.New(opts)
	if err != nil {
		logrus.WithError(err).Fatal("cannot build streaming client")
	}

	if err := client.Start(); err != nil {
		logrus.WithError(err).Fatal("cannot start streaming")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logrus.Info("shutting down")
	client.Stop()
}
