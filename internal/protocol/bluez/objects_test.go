package bluez

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"freakble/internal/protocol"
)

func TestFormatDevicePath(t *testing.T) {
	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"),
		formatDevicePath("hci0", "aa:bb:cc:dd:ee:ff"))
	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci1"), adapterPath("hci1"))
}

func TestParseFlags(t *testing.T) {
	assert.Equal(t, protocol.PropWrite|protocol.PropWriteWithoutResponse,
		parseFlags([]string{"write", "write-without-response"}))
	assert.Equal(t, protocol.PropNotify|protocol.PropRead,
		parseFlags([]string{"notify", "read", "reliable-write"}))
	assert.Equal(t, protocol.CharProps(0), parseFlags(nil))
}

func TestParseCharacteristics(t *testing.T) {
	dev := dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")
	svc := dev + "/service000c"

	objects := managedObjects{
		dev: {
			deviceInterface: {"Address": dbus.MakeVariant("AA:BB:CC:DD:EE:FF")},
		},
		svc: {
			gattServiceInterface: {"UUID": dbus.MakeVariant("6e400001-b5a3-f393-e0a9-e50e24dcca9e")},
		},
		svc + "/char000f": {
			gattCharacteristicIface: {
				"UUID":    dbus.MakeVariant("6e400003-b5a3-f393-e0a9-e50e24dcca9e"),
				"Service": dbus.MakeVariant(svc),
				"Flags":   dbus.MakeVariant([]string{"notify"}),
			},
		},
		svc + "/char000d": {
			gattCharacteristicIface: {
				"UUID":    dbus.MakeVariant("6e400002-b5a3-f393-e0a9-e50e24dcca9e"),
				"Service": dbus.MakeVariant(svc),
				"Flags":   dbus.MakeVariant([]string{"write", "write-without-response"}),
			},
		},
		"/org/bluez/hci0/dev_11_22_33_44_55_66/service0001/char0002": {
			gattCharacteristicIface: {"UUID": dbus.MakeVariant("other")},
		},
	}

	chars := parseCharacteristics(objects, dev)
	require.Len(t, chars, 2)

	assert.Equal(t, string(svc+"/char000d"), chars[0].ID)
	assert.Equal(t, "6e400002-b5a3-f393-e0a9-e50e24dcca9e", chars[0].UUID)
	assert.Equal(t, "6e400001-b5a3-f393-e0a9-e50e24dcca9e", chars[0].ServiceUUID)
	assert.True(t, chars[0].Props.CanWrite())

	assert.Equal(t, "6e400003-b5a3-f393-e0a9-e50e24dcca9e", chars[1].UUID)
	assert.True(t, chars[1].Props.CanNotify())

	assert.True(t, hasDevice(objects, dev))
	assert.False(t, hasDevice(objects, "/org/bluez/hci0/dev_00_00_00_00_00_00"))
}

func TestHandleSignalRoutesValues(t *testing.T) {
	dev := dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")
	char := dev + "/service000c/char000f"

	p := &peripheral{
		path:     dev,
		handlers: map[dbus.ObjectPath]func([]byte){},
		dropped:  make(chan struct{}),
		logger:   zap.NewNop(),
	}

	var got []string
	p.handlers[char] = func(b []byte) { got = append(got, string(b)) }

	p.handleSignal(&dbus.Signal{
		Path: char,
		Name: propertiesChanged,
		Body: []interface{}{gattCharacteristicIface, map[string]dbus.Variant{"Value": dbus.MakeVariant([]byte("hi\n"))}, []string{}},
	})
	p.handleSignal(&dbus.Signal{
		Path: char,
		Name: propertiesChanged,
		Body: []interface{}{gattCharacteristicIface, map[string]dbus.Variant{"Notifying": dbus.MakeVariant(true)}, []string{}},
	})
	assert.Equal(t, []string{"hi\n"}, got)

	p.handleSignal(&dbus.Signal{
		Path: dev,
		Name: propertiesChanged,
		Body: []interface{}{deviceInterface, map[string]dbus.Variant{"Connected": dbus.MakeVariant(false)}, []string{}},
	})
	select {
	case <-p.Disconnected():
	default:
		t.Fatal("disconnect signal not raised")
	}
}

func TestMarkDroppedAfterCloseIgnored(t *testing.T) {
	p := &peripheral{dropped: make(chan struct{}), closed: true, logger: zap.NewNop()}
	p.markDropped()

	select {
	case <-p.Disconnected():
		t.Fatal("closed peripheral reported a drop")
	default:
	}
}
