package midi

// GetDevice returns the appropriate Device implementation for the given type.
// autoChannel is 0-indexed and only used by devices that trigger on a channel.
func GetDevice(deviceType DeviceType, autoChannel uint8) Device {
	switch deviceType {
	case DeviceTypeGeneric:
		return &GenericDevice{}
	case DeviceTypeOctatrack:
		fallthrough
	default:
		if autoChannel > 15 {
			autoChannel = DefaultAutoChannel
		}
		return &OctatrackDevice{AutoChannel: autoChannel}
	}
}
