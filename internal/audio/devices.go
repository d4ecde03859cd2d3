package audio

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/gordonklaus/portaudio"
)

func inputDevice(deviceNameOrID string) (d *portaudio.DeviceInfo, err error) {
	if deviceNameOrID == "" {
		d, err = portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("get default audio input device: %w", err)
		}
	} else {
		d, err = device(deviceNameOrID)
		if err != nil {
			return nil, fmt.Errorf("get audio input device: %w", err)
		}

		if d.MaxInputChannels < 1 {
			PrintAvailableDevices(os.Stderr)
			return nil, fmt.Errorf("audio device %q is not an input device or in use by another program", d.Name)
		}
	}

	slog.Info(fmt.Sprintf("using audio input device %q, sample rate: %d", d.Name, int(d.DefaultSampleRate)))

	return d, nil
}

func outputDevice(deviceNameOrID string) (d *portaudio.DeviceInfo, err error) {
	if deviceNameOrID == "" {
		d, err = portaudio.DefaultOutputDevice()
		if err != nil {
			return nil, fmt.Errorf("get default audio output device: %w", err)
		}
	} else {
		d, err = device(deviceNameOrID)
		if err != nil {
			return nil, fmt.Errorf("get audio output device: %w", err)
		}

		if d.MaxOutputChannels < 1 {
			PrintAvailableDevices(os.Stderr)
			return nil, fmt.Errorf("audio device %q is not an output device or in use by another program", d.Name)
		}
	}

	slog.Info(fmt.Sprintf("using audio output device %q, sample rate: %d", d.Name, int(d.DefaultSampleRate)))

	return d, nil
}

func device(device string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list available audio devices: %w", err)
	}

	deviceID, err := strconv.ParseInt(device, 10, 32)
	if err != nil {
		// Device name given
		for _, d := range devices {
			if strings.Contains(d.Name, device) {
				return d, nil
			}
		}

		PrintAvailableDevices(os.Stderr)

		return nil, fmt.Errorf("audio device %q not found", device)
	}

	// device ID given
	if deviceID >= int64(len(devices)) || deviceID < 0 {
		PrintAvailableDevices(os.Stderr)

		return nil, fmt.Errorf("audio device %d not found - please specify the ID of an existing device", deviceID)
	}

	return devices[deviceID], nil
}

// PrintAvailableDevices writes a table of the audio devices known to portaudio.
func PrintAvailableDevices(w io.Writer) {
	devices, err := portaudio.Devices()
	if err != nil {
		slog.Warn(fmt.Sprintf("get available audio devices: %s", err))
		return
	}
	fmt.Fprintln(w, "\nAvailable audio devices:")
	fmt.Fprintf(w, "%2s  %-55s  %2s  %3s  %s\n", "ID", "NAME", "IN", "OUT", "SAMPLERATE")
	for i, device := range devices {
		fmt.Fprintf(w, "%2d  %-55s  %2d  %3d  %10d\n", i, device.Name, device.MaxInputChannels, device.MaxOutputChannels, int(device.DefaultSampleRate))
	}
	fmt.Fprintln(w)
}
