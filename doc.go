// Package gatt provides a Bluetooth Low Energy central for Bluegiga
// BLED112 dongles.
//
// The dongle runs its own BLE stack and is driven over a serial port with
// the BGAPI binary protocol, implemented by the bgapi subpackage. Package
// gatt builds the central role on top of it: scanning, connecting, and
// discovering and using the services and characteristics of one connected
// peripheral.
//
// USAGE
//
//	api, err := bgapi.Open(bgapi.Config{Port: "/dev/ttyACM0"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer api.Close()
//
//	cm, err := gatt.NewCentralManager(api)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer cm.Close()
//
//	cm.Handle(gatt.PeripheralDiscovered(func(p *gatt.Peripheral, a *gatt.Advertisement, rssi int) {
//		fmt.Println(p.Address(), a.LocalName, rssi)
//	}))
//	cm.StartScan(ctx)
//
// Connect a discovered peripheral with CentralManager.Connect, then walk
// its database with Peripheral.DiscoverServices and
// Service.DiscoverCharacteristics. Characteristics are read, written and
// subscribed to directly.
//
// CONCURRENCY
//
// All methods are safe for concurrent use. ATT procedures on a peripheral
// run one at a time; a second caller waits for the first. Callbacks
// registered with Handle, HandleNotification and HandleIndication run in
// order on a single goroutine owned by the CentralManager, and must not
// block for long.
//
// When the link drops, every service and characteristic of the peripheral
// is disposed and waiting procedures fail with ErrConnectionDropped.
//
// Examples live in the examples directory: a colour iBeacon scanner and
// an interactive explorer shell.
package gatt
