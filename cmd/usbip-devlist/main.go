// Command usbip-devlist is a small ad-hoc probe: enumerate locally
// attached devices and print them, driven through the registry.Registry
// port rather than calling FindDevices directly, so it doubles as a smoke
// test for that port.
package main

import (
	"context"
	"encoding/json"
	"log"

	"github.com/daedaluz/usbipd/internal/devio"
	"github.com/daedaluz/usbipd/internal/registry"
)

func main() {
	reg := registry.NewSysfsRegistry(devio.DefaultTimeouts)
	devices, err := reg.List(context.Background())
	if err != nil {
		log.Fatal(err)
	}
	for _, d := range devices {
		data, err := json.Marshal(d)
		if err != nil {
			log.Println(err)
			continue
		}
		log.Println(string(data))
	}
}
