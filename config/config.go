// Package config loads the streaming client configuration from an
// optional file, filling everything else from defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/chuffnet/chuffs"
)

// setDefaults registers the default for every configuration key.
func setDefaults(v *viper.Viper) {
	defaults := chuffs.NewOptions()

	v.SetDefault("loglevel", "info")
	v.SetDefault("server_address", "")
	v.SetDefault("device_name", "default")
	v.SetDefault("sampling_frequency", defaults.SamplingFrequency)
	v.SetDefault("block_duration_ms", defaults.BlockDurationMs)
	v.SetDefault("max_num_datagrams", defaults.MaxNumDatagrams)
	v.SetDefault("audio_max_shift_bits", defaults.AudioMaxShiftBits)
	v.SetDefault("desired_unused_bits", defaults.DesiredUnusedBits)
	v.SetDefault("shift_hysteresis_bits", defaults.ShiftHysteresisBits)
	v.SetDefault("up_shifts_for_a_shift", defaults.UpShiftsForAShift)
	v.SetDefault("unicam_coded_sample_size_bits", defaults.UnicamCodedSampleSizeBits)
	v.SetDefault("unicam_max_decoded_sample_size_bits", defaults.UnicamMaxDecodedSampleSizeBits)
	v.SetDefault("disable_unicam", false)
	v.SetDefault("tcp_send_timeout_ms", defaults.TCPSendTimeoutMs)
	v.SetDefault("max_duration_socket_errors_ms", defaults.MaxDurationSocketErrorsMs)
	v.SetDefault("tcp_buffer_size_bytes", defaults.TCPBufferSizeBytes)
	v.SetDefault("server_link_establishment_wait_s", defaults.ServerLinkEstablishmentWaitS)
	v.SetDefault("timing_datagram_age_s", defaults.TimingDatagramAgeS)
	v.SetDefault("timing_datagram_wait_s", defaults.TimingDatagramWaitS)
	v.SetDefault("capture_tap_path", "")
}

// Load reads configFilePath (YAML, TOML or JSON by extension) into a set
// of client options. A missing file is tolerated: everything falls back
// to defaults. configFilePath may be empty to skip the file entirely.
func Load(configFilePath string) (*chuffs.Options, error) {
	v := viper.New()
	setDefaults(v)

	if configFilePath != "" {
		v.SetConfigFile(configFilePath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
				logrus.WithField("path", configFilePath).Info("no config file found, using defaults")
			} else {
				return nil, fmt.Errorf("config: read %s: %w", configFilePath, err)
			}
		}
	}

	if level, err := logrus.ParseLevel(v.GetString("loglevel")); err == nil {
		logrus.SetLevel(level)
	}

	opts := chuffs.NewOptions()
	opts.ServerAddress = v.GetString("server_address")
	opts.DeviceName = v.GetString("device_name")
	opts.SamplingFrequency = v.GetInt("sampling_frequency")
	opts.BlockDurationMs = v.GetInt("block_duration_ms")
	opts.MaxNumDatagrams = v.GetInt("max_num_datagrams")
	opts.AudioMaxShiftBits = v.GetInt("audio_max_shift_bits")
	opts.DesiredUnusedBits = v.GetInt("desired_unused_bits")
	opts.ShiftHysteresisBits = v.GetInt("shift_hysteresis_bits")
	opts.UpShiftsForAShift = v.GetInt("up_shifts_for_a_shift")
	opts.UnicamCodedSampleSizeBits = v.GetInt("unicam_coded_sample_size_bits")
	opts.UnicamMaxDecodedSampleSizeBits = v.GetInt("unicam_max_decoded_sample_size_bits")
	opts.DisableUnicam = v.GetBool("disable_unicam")
	opts.TCPSendTimeoutMs = v.GetInt("tcp_send_timeout_ms")
	opts.MaxDurationSocketErrorsMs = v.GetInt("max_duration_socket_errors_ms")
	opts.TCPBufferSizeBytes = v.GetInt("tcp_buffer_size_bytes")
	opts.ServerLinkEstablishmentWaitS = v.GetInt("server_link_establishment_wait_s")
	opts.TimingDatagramAgeS = v.GetInt("timing_datagram_age_s")
	opts.TimingDatagramWaitS = v.GetInt("timing_datagram_wait_s")
	opts.CaptureTapPath = v.GetString("capture_tap_path")

	return opts, nil
}
