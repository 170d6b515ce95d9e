// internal/protocol/bluez/objects.go
package bluez

import (
	"fmt"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"

	"freakble/internal/protocol"
)

const (
	busName = "org.bluez"

	adapterInterface        = "org.bluez.Adapter1"
	deviceInterface         = "org.bluez.Device1"
	gattServiceInterface    = "org.bluez.GattService1"
	gattCharacteristicIface = "org.bluez.GattCharacteristic1"

	propertiesInterface = "org.freedesktop.DBus.Properties"
	propertiesChanged   = propertiesInterface + ".PropertiesChanged"
	getManagedObjects   = "org.freedesktop.DBus.ObjectManager.GetManagedObjects"
)

// managedObjects is the reply shape of ObjectManager.GetManagedObjects
type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// adapterPath returns the object path of a local adapter such as hci0
func adapterPath(adapter string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + adapter)
}

// formatDevicePath returns the object path BlueZ uses for address under adapter
func formatDevicePath(adapter, address string) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/dev_%s", adapterPath(adapter),
		strings.ReplaceAll(strings.ToUpper(address), ":", "_")))
}

// parseFlags maps GattCharacteristic1.Flags onto property bits
func parseFlags(flags []string) protocol.CharProps {
	var props protocol.CharProps
	for _, f := range flags {
		switch f {
		case "read":
			props |= protocol.PropRead
		case "write":
			props |= protocol.PropWrite
		case "write-without-response":
			props |= protocol.PropWriteWithoutResponse
		case "notify":
			props |= protocol.PropNotify
		case "indicate":
			props |= protocol.PropIndicate
		}
	}
	return props
}

// parseCharacteristics lists the characteristics under device, ordered by object path
func parseCharacteristics(objects managedObjects, device dbus.ObjectPath) []protocol.Characteristic {
	prefix := string(device) + "/"

	var paths []dbus.ObjectPath
	for path, ifaces := range objects {
		if !strings.HasPrefix(string(path), prefix) {
			continue
		}
		if _, ok := ifaces[gattCharacteristicIface]; ok {
			paths = append(paths, path)
		}
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })

	chars := make([]protocol.Characteristic, 0, len(paths))
	for _, path := range paths {
		props := objects[path][gattCharacteristicIface]

		char := protocol.Characteristic{
			ID:   string(path),
			UUID: variantString(props["UUID"]),
		}
		if flags, ok := props["Flags"].Value().([]string); ok {
			char.Props = parseFlags(flags)
		}
		if svc, ok := props["Service"].Value().(dbus.ObjectPath); ok {
			if svcProps, ok := objects[svc][gattServiceInterface]; ok {
				char.ServiceUUID = variantString(svcProps["UUID"])
			}
		}
		chars = append(chars, char)
	}
	return chars
}

// hasDevice reports whether objects contains a Device1 at path
func hasDevice(objects managedObjects, path dbus.ObjectPath) bool {
	_, ok := objects[path][deviceInterface]
	return ok
}

func variantString(v dbus.Variant) string {
	s, _ := v.Value().(string)
	return s
}

func variantBool(v dbus.Variant) bool {
	b, _ := v.Value().(bool)
	return b
}
